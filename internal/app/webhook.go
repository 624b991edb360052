/**
 * @description
 * This file routes verified webhook events into the reconciliation engine.
 * The HTTP layer has already checked the signature and decoded the envelope;
 * this layer normalizes the payload into canonical events and merges them.
 *
 * Deliveries may be duplicated or out of order. The raise-only end timestamp
 * makes ordering irrelevant for the access window; paused/canceled flags stay
 * last-write-wins, which is accepted behavior.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/internal/store"
	"github.com/memberly/access-service/pkg/stripeclient"
)

// ProcessWebhookEvent handles one verified provider event. It reports whether
// the event type is handled at all; unhandled types are acknowledged upstream
// without error.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event stripeclient.Event) (bool, error) {
	switch event.Type {
	case "checkout.session.completed":
		return true, s.handleCheckoutWebhook(ctx, event)
	case "customer.subscription.updated", "customer.subscription.paused", "customer.subscription.resumed":
		return true, s.handleSubscriptionWebhook(ctx, event, false)
	case "customer.subscription.deleted":
		return true, s.handleSubscriptionWebhook(ctx, event, true)
	case "invoice.paid", "invoice.payment_succeeded":
		return true, s.handleInvoiceWebhook(ctx, event)
	default:
		return false, nil
	}
}

func (s *Service) handleCheckoutWebhook(ctx context.Context, event stripeclient.Event) error {
	var sess stripeclient.CheckoutSession
	if err := json.Unmarshal(event.Data.Object, &sess); err != nil {
		return fmt.Errorf("failed to decode session payload: %w", err)
	}
	sess.Raw = event.Data.Object
	if !sess.Completed() {
		log.Printf("level=info component=webhook msg=\"ignoring incomplete session\" session_id=%s status=%s payment_status=%s", sess.ID, sess.Status, sess.PaymentStatus)
		return nil
	}

	// Webhook payloads omit line items; fetch the expanded session so the
	// ingestion path always sees the same shape.
	if sess.LineItems == nil {
		full, err := s.provider.FetchSession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch session %s: %w", sess.ID, err)
		}
		sess = *full
	}

	_, _, err := s.ingestSession(ctx, &sess, ingestOptions{updateExisting: true, source: "webhook"})
	return err
}

func (s *Service) handleSubscriptionWebhook(ctx context.Context, event stripeclient.Event, deleted bool) error {
	var sub stripeclient.Subscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription payload: %w", err)
	}
	if sub.ID == "" {
		return errors.New("subscription payload missing id")
	}

	ev := eventFromSubscription(&sub, event.Created)
	if deleted {
		ev.Kind = domain.EventSubscriptionCanceled
		ev.Canceled = true
		ev.Paused = false
		ev.Resumed = false
	}

	catalog, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot catalog: %w", err)
	}

	purchases, err := s.repo.ListPurchasesBySubscriptionID(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to find purchases for subscription %s: %w", sub.ID, err)
	}
	if len(purchases) == 0 {
		log.Printf("level=info component=webhook msg=\"no purchase linked to subscription\" subscription_id=%s event_type=%s", sub.ID, event.Type)
		return nil
	}

	for _, purchase := range purchases {
		if err := s.applyEventToPurchase(ctx, purchase, ev, catalog); err != nil {
			return err
		}
	}
	return nil
}

// applyEventToPurchase merges one event into one purchase's recurring scopes
// under the owner's lock, re-reading the record to merge against fresh state.
func (s *Service) applyEventToPurchase(ctx context.Context, purchase *domain.PurchaseRecord, ev domain.Event, catalog CatalogSnapshot) error {
	unlock := s.locks.Lock(purchase.UserID)
	defer unlock()

	fresh, err := s.repo.GetPurchaseBySessionID(ctx, purchase.ExternalSessionID)
	if err != nil {
		if errors.Is(err, store.ErrPurchaseNotFound) {
			return nil
		}
		return fmt.Errorf("failed to re-read purchase %s: %w", purchase.ID, err)
	}

	scopes := scopesForLineItems(fresh.LineItems, catalog, true)
	if len(scopes) == 0 {
		return nil
	}
	if fresh.AccessStates == nil {
		fresh.AccessStates = domain.AccessStateMap{}
	}
	if !applyEvent(fresh.AccessStates, scopes, ev, s.now().Unix()) {
		return nil
	}
	if err := s.persistPurchaseState(ctx, fresh, false); err != nil {
		s.logPersistenceFailure(fresh.ExternalSessionID, fresh, err)
		return err
	}
	s.notifyAccess(ctx, "access.updated", fresh, mappedProductIDs(scopes), false)
	return nil
}
