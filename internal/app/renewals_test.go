package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/pkg/stripeclient"
)

func paidInvoice(id, subID, customerID string, periodEnd int64, lines ...stripeclient.InvoiceLine) *stripeclient.Invoice {
	inv := &stripeclient.Invoice{
		ID:         id,
		Status:     "paid",
		Created:    testNow - 60,
		AmountPaid: 990,
		Customer:   stripeclient.ExpandableID{ID: customerID},
		Lines:      stripeclient.InvoiceLineList{Data: lines},
	}
	if subID != "" {
		inv.Subscription = stripeclient.ExpandableSubscription{
			ID:     subID,
			Object: activeSubscription(subID, periodEnd),
		}
	}
	return inv
}

func recurringInvoiceLine(productID string, periodEnd int64) stripeclient.InvoiceLine {
	return stripeclient.InvoiceLine{
		Description: "Renewal " + productID,
		Quantity:    1,
		Amount:      990,
		Price: stripeclient.Price{
			Product: stripeclient.ExpandableID{ID: productID},
			Type:    "recurring",
		},
		Period: stripeclient.InvoiceLinePeriod{Start: testNow - 60, End: periodEnd},
	}
}

func TestInvoicePaidAppendsRenewalAndRaisesWindow(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+1000)
	scope := domain.MappedScope(42)

	inv := paidInvoice("in_1", "sub_1", "cus_cs_1", testNow+6000, recurringInvoiceLine("prod_course", testNow+6000))
	handled, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "invoice.paid", testNow, inv))
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}

	stored := env.repo.get("cs_1")
	entries := stored.Renewals[scope]
	if len(entries) != 1 {
		t.Fatalf("renewal entries = %d, want 1", len(entries))
	}
	if entries[0].InvoiceID != "in_1" || entries[0].Amount != 990 {
		t.Fatalf("entry = %+v", entries[0])
	}
	state, _ := stored.StateFor(scope)
	if state.End != testNow+6000 {
		t.Fatalf("end = %d, want %d", state.End, testNow+6000)
	}
}

func TestInvoiceReplayIsDeduplicated(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+1000)

	inv := paidInvoice("in_1", "sub_1", "cus_cs_1", testNow+6000, recurringInvoiceLine("prod_course", testNow+6000))
	ev := webhookEvent(t, "invoice.paid", testNow, inv)

	if _, err := env.service.ProcessWebhookEvent(context.Background(), ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	updatesAfterFirst := env.repo.updates
	if _, err := env.service.ProcessWebhookEvent(context.Background(), ev); err != nil {
		t.Fatalf("replay: %v", err)
	}

	stored := env.repo.get("cs_1")
	if n := len(stored.Renewals[domain.MappedScope(42)]); n != 1 {
		t.Fatalf("renewal entries after replay = %d, want 1", n)
	}
	if env.repo.updates != updatesAfterFirst {
		t.Fatal("replay wrote state despite no change")
	}
}

func TestInvoiceWithoutRecurringLinesIsIgnored(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_book": 7})
	inv := paidInvoice("in_oneoff", "", "cus_x", 0, stripeclient.InvoiceLine{
		Description: "One-off",
		Quantity:    1,
		Amount:      500,
		Price: stripeclient.Price{
			Product: stripeclient.ExpandableID{ID: "prod_book"},
			Type:    "one_time",
		},
	})
	handled, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "invoice.paid", testNow, inv))
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}
	if env.repo.updates != 0 {
		t.Fatal("one-time invoice must not touch purchase state")
	}
}

func TestInvoiceWithoutSubscriptionFallsBackToCustomerIndex(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+1000)

	inv := paidInvoice("in_nosub", "", "cus_cs_1", 0, recurringInvoiceLine("prod_course", testNow+7000))
	if _, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "invoice.paid", testNow, inv)); err != nil {
		t.Fatalf("err = %v", err)
	}

	stored := env.repo.get("cs_1")
	if n := len(stored.Renewals[domain.MappedScope(42)]); n != 1 {
		t.Fatalf("renewal entries = %d, want 1 via customer-index attribution", n)
	}
	state, _ := stored.StateFor(domain.MappedScope(42))
	if state.End != testNow+7000 {
		t.Fatalf("end = %d, want %d from invoice line period", state.End, testNow+7000)
	}
}

func TestInvoiceForUnknownCustomerIsAcknowledged(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	inv := paidInvoice("in_ghost", "", "cus_ghost", 0, recurringInvoiceLine("prod_course", testNow+7000))
	handled, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "invoice.paid", testNow, inv))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !handled {
		t.Fatal("invoice.paid should be handled even without a match")
	}
	if env.repo.updates != 0 {
		t.Fatal("nothing should have been written")
	}
}

func TestAttributeInvoiceLatestPurchaseWins(t *testing.T) {
	older := &domain.PurchaseRecord{
		ID:                uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		ExternalSessionID: "cs_old",
		PurchasedAt:       time.Unix(testNow-7200, 0),
		LineItems:         []domain.LineItem{{ExternalProductID: "prod_course", PriceType: domain.PriceTypeRecurring}},
	}
	newer := &domain.PurchaseRecord{
		ID:                uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		ExternalSessionID: "cs_new",
		PurchasedAt:       time.Unix(testNow-60, 0),
		LineItems:         []domain.LineItem{{ExternalProductID: "prod_course", PriceType: domain.PriceTypeRecurring}},
	}
	catalog := CatalogSnapshot{"prod_course": 42}
	scopes := []domain.ScopeKey{domain.MappedScope(42)}

	got := attributeInvoice([]*domain.PurchaseRecord{older, newer}, "", scopes, catalog)
	if got == nil || got.ExternalSessionID != "cs_new" {
		t.Fatalf("attributed to %+v, want cs_new", got)
	}

	t.Run("ties break by record id", func(t *testing.T) {
		tied := *older
		tied.PurchasedAt = newer.PurchasedAt
		got := attributeInvoice([]*domain.PurchaseRecord{&tied, newer}, "", scopes, catalog)
		if got.ID != newer.ID {
			t.Fatalf("tie broke to %s, want %s", got.ID, newer.ID)
		}
	})

	t.Run("subscription id restricts candidates", func(t *testing.T) {
		older.SubscriptionID = "sub_old"
		newer.SubscriptionID = "sub_new"
		got := attributeInvoice([]*domain.PurchaseRecord{older, newer}, "sub_old", scopes, catalog)
		if got == nil || got.SubscriptionID != "sub_old" {
			t.Fatalf("attributed to %+v, want the sub_old purchase", got)
		}
	})
}
