package app

import (
	"context"
	"testing"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/pkg/stripeclient"
)

func TestRunSyncStatuses(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})

	// cs_linked already exists as a purchase; cs_open never completed;
	// cs_fresh is new; cs_broken has no buyer identity.
	env.repo.seed(purchaseWithState("cs_linked", "user-1", testNow-7200,
		[]domain.LineItem{{ExternalProductID: "prod_course", PriceType: domain.PriceTypeRecurring}},
		domain.AccessStateMap{domain.MappedScope(42): {End: testNow + 1000}}))

	open := completedSession("cs_open", "a@example.com", oneTimeLine("prod_course", 990))
	open.Status = "open"
	open.PaymentStatus = "unpaid"
	broken := completedSession("cs_broken", "", oneTimeLine("prod_course", 990))

	env.provider.pages = []stripeclient.SessionList{{
		Data: []stripeclient.CheckoutSession{
			*completedSession("cs_linked", "old@example.com", recurringLine("prod_course", 990)),
			*open,
			*completedSession("cs_fresh", "fresh@example.com", oneTimeLine("prod_course", 990)),
			*broken,
		},
	}}

	report, err := env.service.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if len(report.Outcomes) != 4 {
		t.Fatalf("outcomes = %d, want 4", len(report.Outcomes))
	}
	wantStatus := map[string]domain.SyncStatus{
		"cs_linked": domain.SyncLinked,
		"cs_open":   domain.SyncSkip,
		"cs_fresh":  domain.SyncCreate,
		"cs_broken": domain.SyncError,
	}
	for _, outcome := range report.Outcomes {
		if outcome.Status != wantStatus[outcome.SessionID] {
			t.Errorf("%s: status = %s, want %s (%s)", outcome.SessionID, outcome.Status, wantStatus[outcome.SessionID], outcome.Detail)
		}
	}
	if report.Count(domain.SyncError) != 1 {
		t.Fatalf("error count = %d, want 1", report.Count(domain.SyncError))
	}
	// The broken session never stops its siblings.
	if env.repo.get("cs_fresh") == nil {
		t.Fatal("cs_fresh was not created")
	}
}

func TestRunSyncDryRunWritesNothing(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	env.provider.pages = []stripeclient.SessionList{{
		Data: []stripeclient.CheckoutSession{
			*completedSession("cs_dry", "dry@example.com", oneTimeLine("prod_course", 990)),
		},
	}}

	report, err := env.service.RunSync(context.Background(), SyncOptions{DryRun: true})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}

	if !report.DryRun {
		t.Fatal("report not flagged as dry run")
	}
	if got := report.Outcomes[0].Status; got != domain.SyncCreate {
		t.Fatalf("status = %s, want CREATE even in dry run", got)
	}
	if env.repo.creates != 0 || env.repo.updates != 0 {
		t.Fatalf("dry run wrote: creates=%d updates=%d", env.repo.creates, env.repo.updates)
	}
	if len(env.directory.created) != 0 {
		t.Fatalf("dry run created users: %v", env.directory.created)
	}
	if len(env.publisher.keys()) != 0 {
		t.Fatalf("dry run published notifications: %v", env.publisher.keys())
	}
}

func TestRunSyncUpdateExistingRefreshesState(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	env.repo.seed(purchaseWithState("cs_1", "user-1", testNow-7200,
		[]domain.LineItem{{ExternalProductID: "prod_course", PriceType: domain.PriceTypeRecurring}},
		domain.AccessStateMap{domain.MappedScope(42): {End: testNow + 1000}}))

	refreshed := withSubscription(
		completedSession("cs_1", "old@example.com", recurringLine("prod_course", 990)),
		activeSubscription("sub_1", testNow+9000),
	)
	env.provider.pages = []stripeclient.SessionList{{Data: []stripeclient.CheckoutSession{*refreshed}}}

	report, err := env.service.RunSync(context.Background(), SyncOptions{UpdateExisting: true})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if got := report.Outcomes[0].Status; got != domain.SyncUpdate {
		t.Fatalf("status = %s, want UPDATE", got)
	}
	state, _ := env.repo.get("cs_1").StateFor(domain.MappedScope(42))
	if state.End != testNow+9000 {
		t.Fatalf("end = %d, want %d", state.End, testNow+9000)
	}
}

func TestRunSyncUpdateExistingClearsStalePause(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	scope := domain.MappedScope(42)
	env.repo.seed(purchaseWithState("cs_1", "user-1", testNow-7200,
		[]domain.LineItem{{ExternalProductID: "prod_course", PriceType: domain.PriceTypeRecurring}},
		domain.AccessStateMap{scope: {End: testNow + 1000, Paused: true}}))

	// The subscription is live again; the period end is unchanged so only the
	// cleared pause can drive the update.
	refreshed := withSubscription(
		completedSession("cs_1", "old@example.com", recurringLine("prod_course", 990)),
		activeSubscription("sub_1", testNow+1000),
	)
	env.provider.pages = []stripeclient.SessionList{{Data: []stripeclient.CheckoutSession{*refreshed}}}

	report, err := env.service.RunSync(context.Background(), SyncOptions{UpdateExisting: true})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if got := report.Outcomes[0].Status; got != domain.SyncUpdate {
		t.Fatalf("status = %s, want UPDATE", got)
	}
	state, _ := env.repo.get("cs_1").StateFor(scope)
	if state.Paused {
		t.Fatal("stale paused flag survived re-ingestion of a live subscription")
	}
	if state.End != testNow+1000 {
		t.Fatalf("end = %d, want unchanged %d", state.End, testNow+1000)
	}
}

func TestRunSyncBackfillsRenewalLedger(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	scope := domain.MappedScope(42)

	sess := withSubscription(
		completedSession("cs_sub", "buyer@example.com", recurringLine("prod_course", 990)),
		activeSubscription("sub_1", testNow+5000),
	)
	env.provider.pages = []stripeclient.SessionList{{Data: []stripeclient.CheckoutSession{*sess}}}

	open := stripeclient.Invoice{ID: "in_open", Status: "open", Created: testNow - 30}
	env.provider.invoices["sub_1"] = []stripeclient.Invoice{
		*paidInvoice("in_1", "sub_1", "cus_cs_sub", testNow+5000, recurringInvoiceLine("prod_course", testNow+5000)),
		open,
	}

	report, err := env.service.RunSync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if got := report.Outcomes[0].Status; got != domain.SyncCreate {
		t.Fatalf("status = %s, want CREATE", got)
	}

	entries := env.repo.get("cs_sub").Renewals[scope]
	if len(entries) != 1 {
		t.Fatalf("renewal entries = %d, want 1 (paid invoices only)", len(entries))
	}
	if entries[0].InvoiceID != "in_1" || entries[0].Amount != 990 || entries[0].SubscriptionID != "sub_1" {
		t.Fatalf("entry = %+v", entries[0])
	}

	t.Run("re-run does not duplicate entries", func(t *testing.T) {
		env.provider.listCalls = 0
		report, err := env.service.RunSync(context.Background(), SyncOptions{UpdateExisting: true})
		if err != nil {
			t.Fatalf("RunSync: %v", err)
		}
		if got := report.Outcomes[0].Status; got != domain.SyncSkip {
			t.Fatalf("status = %s, want SKIP", got)
		}
		if n := len(env.repo.get("cs_sub").Renewals[scope]); n != 1 {
			t.Fatalf("renewal entries after re-run = %d, want 1", n)
		}
	})

	t.Run("listing failure does not block the purchase", func(t *testing.T) {
		env := newTestEnv(map[string]int{"prod_course": 42})
		env.provider.pages = []stripeclient.SessionList{{Data: []stripeclient.CheckoutSession{*sess}}}
		env.provider.invoicesErr = &stripeclient.APIError{StatusCode: 500, Message: "listing unavailable"}

		report, err := env.service.RunSync(context.Background(), SyncOptions{})
		if err != nil {
			t.Fatalf("RunSync: %v", err)
		}
		if got := report.Outcomes[0].Status; got != domain.SyncCreate {
			t.Fatalf("status = %s, want CREATE despite invoice listing failure", got)
		}
		if n := len(env.repo.get("cs_sub").Renewals[scope]); n != 0 {
			t.Fatalf("renewal entries = %d, want 0 when listing failed", n)
		}
	})
}

func TestRunSyncPaginatesAndHonorsLimit(t *testing.T) {
	env := newTestEnv(nil)
	env.provider.pages = []stripeclient.SessionList{
		{
			Data: []stripeclient.CheckoutSession{
				*completedSession("cs_a", "a@example.com", oneTimeLine("prod_1", 100)),
				*completedSession("cs_b", "b@example.com", oneTimeLine("prod_1", 100)),
			},
			HasMore: true,
		},
		{
			Data: []stripeclient.CheckoutSession{
				*completedSession("cs_c", "c@example.com", oneTimeLine("prod_1", 100)),
			},
		},
	}

	report, err := env.service.RunSync(context.Background(), SyncOptions{Limit: 3})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if len(report.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3 across two pages", len(report.Outcomes))
	}

	t.Run("limit cuts the run short", func(t *testing.T) {
		env := newTestEnv(nil)
		env.provider.pages = []stripeclient.SessionList{
			{
				Data: []stripeclient.CheckoutSession{
					*completedSession("cs_a", "a@example.com", oneTimeLine("prod_1", 100)),
					*completedSession("cs_b", "b@example.com", oneTimeLine("prod_1", 100)),
				},
				HasMore: true,
			},
		}
		report, err := env.service.RunSync(context.Background(), SyncOptions{Limit: 1})
		if err != nil {
			t.Fatalf("RunSync: %v", err)
		}
		if len(report.Outcomes) != 1 {
			t.Fatalf("outcomes = %d, want 1", len(report.Outcomes))
		}
		if env.provider.listCalls != 1 {
			t.Fatalf("list calls = %d, want 1", env.provider.listCalls)
		}
	})
}

func TestRunSyncStopsOnCanceledContext(t *testing.T) {
	env := newTestEnv(nil)
	env.provider.pages = []stripeclient.SessionList{{
		Data: []stripeclient.CheckoutSession{
			*completedSession("cs_a", "a@example.com", oneTimeLine("prod_1", 100)),
		},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.service.RunSync(ctx, SyncOptions{})
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(report.Outcomes) != 0 {
		t.Fatalf("outcomes = %d, want 0 after immediate cancel", len(report.Outcomes))
	}
}
