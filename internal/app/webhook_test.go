package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/pkg/stripeclient"
)

func webhookEvent(t *testing.T, eventType string, created int64, object interface{}) stripeclient.Event {
	t.Helper()
	payload, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	ev := stripeclient.Event{ID: "evt_" + eventType, Type: eventType, Created: created}
	ev.Data.Object = payload
	return ev
}

// seedSubscribedPurchase ingests a recurring purchase so lifecycle events have
// something to land on.
func seedSubscribedPurchase(t *testing.T, env *testEnv, sessionID, subID string, periodEnd int64) *domain.PurchaseRecord {
	t.Helper()
	sess := withSubscription(
		completedSession(sessionID, "buyer@example.com", recurringLine("prod_course", 990)),
		activeSubscription(subID, periodEnd),
	)
	env.provider.sessions[sess.ID] = sess
	record, err := env.service.CompleteCheckout(context.Background(), "user-1", sessionID)
	if err != nil {
		t.Fatalf("seed checkout: %v", err)
	}
	return record
}

func TestProcessWebhookEventIgnoresUnknownTypes(t *testing.T) {
	env := newTestEnv(nil)
	handled, err := env.service.ProcessWebhookEvent(context.Background(), stripeclient.Event{Type: "charge.refunded"})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if handled {
		t.Fatal("unknown event type reported as handled")
	}
}

func TestSubscriptionUpdateRaisesWindow(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+1000)

	update := &stripeclient.Subscription{ID: "sub_1", Status: "active", CurrentPeriodEnd: testNow + 5000}
	handled, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.updated", testNow, update))
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}

	stored := env.repo.get("cs_1")
	state, _ := stored.StateFor(domain.MappedScope(42))
	if state.End != testNow+5000 {
		t.Fatalf("end = %d, want %d", state.End, testNow+5000)
	}
}

func TestStaleSubscriptionUpdateNeverLowersWindow(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+5000)

	stale := &stripeclient.Subscription{ID: "sub_1", Status: "active", CurrentPeriodEnd: testNow + 1000}
	if _, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.updated", testNow, stale)); err != nil {
		t.Fatalf("err = %v", err)
	}

	stored := env.repo.get("cs_1")
	state, _ := stored.StateFor(domain.MappedScope(42))
	if state.End != testNow+5000 {
		t.Fatalf("end = %d, stale update lowered the window", state.End)
	}
}

func TestSubscriptionPauseAndResume(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+5000)
	scope := domain.MappedScope(42)

	paused := &stripeclient.Subscription{
		ID:               "sub_1",
		Status:           "active",
		CurrentPeriodEnd: testNow + 5000,
		PauseCollection:  &stripeclient.PauseCollection{Behavior: "void"},
	}
	if _, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.updated", testNow, paused)); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if state, _ := env.repo.get("cs_1").StateFor(scope); !state.Paused {
		t.Fatal("paused flag not set")
	}

	// An update with pause_collection cleared signals resume.
	resumed := &stripeclient.Subscription{ID: "sub_1", Status: "active", CurrentPeriodEnd: testNow + 5000}
	if _, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.updated", testNow, resumed)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state, _ := env.repo.get("cs_1").StateFor(scope); state.Paused {
		t.Fatal("paused flag not cleared by resume")
	}
}

func TestSubscriptionDeletedCancelsScope(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	seedSubscribedPurchase(t, env, "cs_1", "sub_1", testNow+5000)
	scope := domain.MappedScope(42)

	deleted := &stripeclient.Subscription{ID: "sub_1", Status: "canceled", EndedAt: testNow + 100}
	if _, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.deleted", testNow, deleted)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	state, _ := env.repo.get("cs_1").StateFor(scope)
	if !state.Canceled {
		t.Fatal("canceled flag not set")
	}
	if state.Paused {
		t.Fatal("cancellation must clear the paused flag")
	}
	if state.End != testNow+5000 {
		t.Fatalf("end = %d, cancellation lowered the stored window", state.End)
	}

	// Pause arriving after cancellation (out-of-order delivery) is ignored.
	late := &stripeclient.Subscription{
		ID:               "sub_1",
		Status:           "active",
		CurrentPeriodEnd: testNow + 5000,
		PauseCollection:  &stripeclient.PauseCollection{Behavior: "void"},
	}
	if _, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.updated", testNow, late)); err != nil {
		t.Fatalf("late pause: %v", err)
	}
	if state, _ := env.repo.get("cs_1").StateFor(scope); state.Paused || !state.Canceled {
		t.Fatalf("state = %+v, want canceled and not paused", state)
	}
}

func TestSubscriptionEventForUnknownSubscriptionIsAcknowledged(t *testing.T) {
	env := newTestEnv(nil)
	sub := &stripeclient.Subscription{ID: "sub_ghost", Status: "active", CurrentPeriodEnd: testNow + 1000}
	handled, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "customer.subscription.updated", testNow, sub))
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if !handled {
		t.Fatal("subscription.updated should be a handled type even without a purchase")
	}
	if env.repo.updates != 0 {
		t.Fatal("nothing should have been written")
	}
}

func TestCheckoutWebhookKeepsPayloadSnapshot(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})

	// The payload already carries line items, so no refetch happens and the
	// delivered payload itself becomes the stored snapshot.
	full := completedSession("cs_snap", "snap@example.com", recurringLine("prod_course", 990))
	ev := webhookEvent(t, "checkout.session.completed", testNow, full)

	handled, err := env.service.ProcessWebhookEvent(context.Background(), ev)
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}

	stored := env.repo.get("cs_snap")
	if stored == nil {
		t.Fatal("webhook did not create the purchase")
	}
	if len(stored.RawSnapshot) == 0 {
		t.Fatal("purchase stored without the provider payload snapshot")
	}
	var echo struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(stored.RawSnapshot, &echo); err != nil || echo.ID != "cs_snap" {
		t.Fatalf("snapshot does not round-trip the session payload: id=%q err=%v", echo.ID, err)
	}
}

func TestCheckoutWebhookFetchesExpandedSession(t *testing.T) {
	env := newTestEnv(map[string]int{"prod_course": 42})
	full := withSubscription(
		completedSession("cs_hook", "hook@example.com", recurringLine("prod_course", 990)),
		activeSubscription("sub_h", testNow+1000),
	)
	env.provider.sessions[full.ID] = full

	// Webhook payloads omit line items; the handler must fetch the full shape.
	thin := &stripeclient.CheckoutSession{ID: "cs_hook", Status: "complete", PaymentStatus: "paid", Created: testNow - 3600}
	handled, err := env.service.ProcessWebhookEvent(context.Background(), webhookEvent(t, "checkout.session.completed", testNow, thin))
	if err != nil || !handled {
		t.Fatalf("handled=%t err=%v", handled, err)
	}

	stored := env.repo.get("cs_hook")
	if stored == nil {
		t.Fatal("webhook did not create the purchase")
	}
	if len(stored.LineItems) != 1 {
		t.Fatalf("line items = %d, want 1 from the expanded fetch", len(stored.LineItems))
	}
}
