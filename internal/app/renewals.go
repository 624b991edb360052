/**
 * @description
 * This file implements the renewal ledger side of invoice handling: attributing
 * a paid invoice to a purchase, appending the deduplicated renewal entry, and
 * raising the access window to the new period end.
 *
 * Attribution: an invoice carrying a subscription id only matches purchases
 * storing that id. Without one, attribution falls back to product-overlap
 * matching against the invoice's own derived scope keys — a best-effort
 * heuristic that can mis-attribute renewals when the same user bought the
 * same product more than once. The latest purchase wins so the outcome is at
 * least deterministic.
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

func (s *Service) handleInvoiceWebhook(ctx context.Context, event stripeclient.Event) error {
	var inv stripeclient.Invoice
	if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
		return fmt.Errorf("failed to decode invoice payload: %w", err)
	}
	if inv.ID == "" {
		return errors.New("invoice payload missing id")
	}

	catalog, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to snapshot catalog: %w", err)
	}

	invoiceItems := lineItemsFromInvoice(&inv)
	invoiceScopes := scopesForLineItems(invoiceItems, catalog, true)
	if len(invoiceScopes) == 0 {
		log.Printf("level=info component=webhook msg=\"invoice carries no recurring lines; nothing to reconcile\" invoice_id=%s", inv.ID)
		return nil
	}

	// Period end comes from the subscription when one is referenced; the
	// fetch happens before any lock is taken.
	var periodEnd int64
	if inv.Subscription.Object != nil {
		periodEnd = inv.Subscription.Object.CurrentPeriodEnd
	} else if inv.Subscription.ID != "" {
		sub, err := s.provider.FetchSubscription(ctx, inv.Subscription.ID)
		if err != nil {
			return fmt.Errorf("failed to fetch subscription %s for invoice %s: %w", inv.Subscription.ID, inv.ID, err)
		}
		periodEnd = sub.CurrentPeriodEnd
	}
	ev := eventFromInvoice(&inv, periodEnd)

	candidates, err := s.invoiceCandidates(ctx, &inv)
	if err != nil {
		return err
	}
	target := attributeInvoice(candidates, ev.SubscriptionID, invoiceScopes, catalog)
	if target == nil {
		log.Printf("level=warn component=webhook msg=\"no purchase matched invoice\" invoice_id=%s subscription_id=%s customer_id=%s", inv.ID, ev.SubscriptionID, ev.CustomerID)
		return nil
	}

	return s.appendRenewal(ctx, target, ev, invoiceScopes)
}

// invoiceCandidates loads the purchases an invoice could belong to.
func (s *Service) invoiceCandidates(ctx context.Context, inv *stripeclient.Invoice) ([]*domain.PurchaseRecord, error) {
	if inv.Subscription.ID != "" {
		purchases, err := s.repo.ListPurchasesBySubscriptionID(ctx, inv.Subscription.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to find purchases for subscription %s: %w", inv.Subscription.ID, err)
		}
		return purchases, nil
	}

	if inv.Customer.ID == "" {
		return nil, nil
	}
	userID, err := s.repo.FindUserIDByCustomerID(ctx, inv.Customer.ID)
	if err != nil {
		if errors.Is(err, store.ErrCustomerNotIndexed) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve customer %s: %w", inv.Customer.ID, err)
	}
	purchases, err := s.repo.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases for user %s: %w", userID, err)
	}
	return purchases, nil
}

// attributeInvoice selects the purchase a renewal belongs to. With a
// subscription id, only purchases storing that id are candidates; otherwise
// product overlap against the invoice's derived scopes decides. Latest
// purchase wins, ties broken by record id.
func attributeInvoice(purchases []*domain.PurchaseRecord, subscriptionID string, invoiceScopes []domain.ScopeKey, catalog CatalogSnapshot) *domain.PurchaseRecord {
	var matches []*domain.PurchaseRecord
	for _, purchase := range purchases {
		if subscriptionID != "" {
			if purchase.SubscriptionID == subscriptionID {
				matches = append(matches, purchase)
			}
			continue
		}
		scopes := scopesForLineItems(purchase.LineItems, catalog, false)
		if scopesOverlap(scopes, invoiceScopes) {
			matches = append(matches, purchase)
		}
	}
	return latestPurchase(matches)
}

// appendRenewal records the payment and raises the access window under the
// purchase owner's lock. Replays are no-ops via invoice-id dedup.
func (s *Service) appendRenewal(ctx context.Context, purchase *domain.PurchaseRecord, ev domain.Event, scopes []domain.ScopeKey) error {
	unlock := s.locks.Lock(purchase.UserID)
	defer unlock()

	fresh, err := s.repo.GetPurchaseBySessionID(ctx, purchase.ExternalSessionID)
	if err != nil {
		if errors.Is(err, store.ErrPurchaseNotFound) {
			return nil
		}
		return fmt.Errorf("failed to re-read purchase %s: %w", purchase.ID, err)
	}

	if fresh.Renewals == nil {
		fresh.Renewals = domain.RenewalMap{}
	}
	if fresh.AccessStates == nil {
		fresh.AccessStates = domain.AccessStateMap{}
	}

	entry := domain.RenewalEntry{
		Date:           ev.OccurredAt,
		Amount:         ev.Amount,
		InvoiceID:      ev.InvoiceID,
		SubscriptionID: ev.SubscriptionID,
	}

	changed := false
	for _, scope := range scopes {
		if fresh.Renewals.Append(scope, entry) {
			changed = true
		}
	}
	if applyEvent(fresh.AccessStates, scopes, ev, s.now().Unix()) {
		changed = true
	}
	if !changed {
		return nil
	}

	if err := s.persistPurchaseState(ctx, fresh, false); err != nil {
		s.logPersistenceFailure(fresh.ExternalSessionID, fresh, err)
		return err
	}
	s.notifyAccess(ctx, "access.updated", fresh, mappedProductIDs(scopes), false)
	return nil
}

// collectRenewals rebuilds a subscription's renewal ledger from its paid
// invoices during backfill. A listing failure degrades to an empty ledger:
// the purchase itself still reconciles, and renewals keep arriving through
// invoice webhooks.
func (s *Service) collectRenewals(ctx context.Context, subscriptionID string, catalog CatalogSnapshot) domain.RenewalMap {
	invoices, err := s.provider.ListInvoices(ctx, subscriptionID)
	if err != nil {
		log.Printf("level=warn component=sync msg=\"invoice listing failed; skipping renewal backfill\" subscription_id=%s err=%v", subscriptionID, err)
		return nil
	}

	ledger := domain.RenewalMap{}
	for i := range invoices {
		inv := &invoices[i]
		if inv.Status != "paid" {
			continue
		}
		scopes := scopesForLineItems(lineItemsFromInvoice(inv), catalog, true)
		entry := domain.RenewalEntry{
			Date:           inv.Created,
			Amount:         inv.AmountPaid,
			InvoiceID:      inv.ID,
			SubscriptionID: subscriptionID,
		}
		for _, scope := range scopes {
			ledger.Append(scope, entry)
		}
	}
	if len(ledger) == 0 {
		return nil
	}
	return ledger
}

// mergeRenewals appends every entry of src not already in dst, keyed by
// invoice id per scope. Reports whether the ledger grew.
func mergeRenewals(dst, src domain.RenewalMap) bool {
	changed := false
	for scope, entries := range src {
		for _, entry := range entries {
			if dst.Append(scope, entry) {
				changed = true
			}
		}
	}
	return changed
}

func scopesOverlap(a, b []domain.ScopeKey) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// latestPurchase returns the purchase with the latest purchase time, breaking
// ties by record id so repeated runs pick the same one.
func latestPurchase(purchases []*domain.PurchaseRecord) *domain.PurchaseRecord {
	var latest *domain.PurchaseRecord
	for _, purchase := range purchases {
		if latest == nil {
			latest = purchase
			continue
		}
		if purchase.PurchasedAt.After(latest.PurchasedAt) {
			latest = purchase
			continue
		}
		if purchase.PurchasedAt.Equal(latest.PurchasedAt) && purchase.ID.String() > latest.ID.String() {
			latest = purchase
		}
	}
	return latest
}
