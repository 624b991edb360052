/**
 * @description
 * This file implements session ingestion: the shared path behind the live
 * checkout-completion callback, the checkout.session.completed webhook, and
 * the backfill sync. All three normalize the session the same way, take the
 * per-user lock only for the final merge, and branch between dry run and real
 * run exclusively at the write boundary.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/internal/store"
	"github.com/memberly/access-service/pkg/stripeclient"
)

// ErrSessionNotCompleted is returned when a checkout callback references a
// session that has not finished with a settled payment.
var ErrSessionNotCompleted = errors.New("checkout session is not completed")

// ErrUnknownBuyer is returned when a session carries no email to resolve or
// create a user from.
var ErrUnknownBuyer = errors.New("session has no resolvable buyer")

type ingestOptions struct {
	// userID pins the purchase to a known user (live checkout path). When
	// empty the buyer is resolved through the user directory.
	userID         string
	updateExisting bool
	dryRun         bool
	source         string
}

// CompleteCheckout handles the synchronous checkout-completion callback for an
// authenticated user. The session is fetched fresh from the provider — the
// client-supplied id is never trusted beyond being a lookup key.
func (s *Service) CompleteCheckout(ctx context.Context, userID, sessionID string) (*domain.PurchaseRecord, error) {
	sess, err := s.provider.FetchSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session %s: %w", sessionID, err)
	}
	if !sess.Completed() {
		return nil, ErrSessionNotCompleted
	}

	record, _, err := s.ingestSession(ctx, sess, ingestOptions{userID: userID, updateExisting: true, source: "checkout"})
	return record, err
}

// ingestSession reconciles one completed session into a purchase record.
// Provider round trips (subscription fetch, user directory) happen before the
// per-user lock; only the read-merge-write runs under it.
func (s *Service) ingestSession(ctx context.Context, sess *stripeclient.CheckoutSession, opts ingestOptions) (*domain.PurchaseRecord, domain.SyncOutcome, error) {
	catalog, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, errorOutcome(sess.ID, err), fmt.Errorf("failed to snapshot catalog: %w", err)
	}

	items := lineItemsFromSession(sess)
	allScopes := scopesForLineItems(items, catalog, false)
	recurringScopes := scopesForLineItems(items, catalog, true)

	sub, err := s.resolveSubscription(ctx, sess)
	if err != nil {
		return nil, errorOutcome(sess.ID, err), err
	}
	ev := checkoutEvent(sess, sub)

	existing, err := s.repo.GetPurchaseBySessionID(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrPurchaseNotFound) {
		return nil, errorOutcome(sess.ID, err), fmt.Errorf("failed to look up session %s: %w", sess.ID, err)
	}

	if existing != nil && !opts.updateExisting {
		return existing, domain.SyncOutcome{SessionID: sess.ID, Status: domain.SyncLinked, Detail: "already linked to purchase " + existing.ID.String()}, nil
	}

	// Backfill runs rebuild the renewal ledger from invoice history; live
	// paths rely on invoice webhooks instead.
	var backfill domain.RenewalMap
	if opts.source == "sync" && sub != nil {
		backfill = s.collectRenewals(ctx, sub.ID, catalog)
	}

	userID := opts.userID
	if userID == "" && existing != nil {
		userID = existing.UserID
	}
	if userID == "" {
		userID, err = s.resolveBuyer(ctx, sess, opts.dryRun)
		if err != nil {
			return nil, errorOutcome(sess.ID, err), err
		}
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	// Re-read under the lock: a racing ingester may have created or merged
	// state since the pre-lock lookup.
	existing, err = s.repo.GetPurchaseBySessionID(ctx, sess.ID)
	if err != nil && !errors.Is(err, store.ErrPurchaseNotFound) {
		return nil, errorOutcome(sess.ID, err), fmt.Errorf("failed to look up session %s: %w", sess.ID, err)
	}

	if existing == nil {
		record, outcome, err := s.createPurchase(ctx, sess, ev, userID, items, allScopes, recurringScopes, backfill, opts)
		return record, outcome, err
	}

	record, changed := s.mergeIntoPurchase(existing, ev, items, allScopes, recurringScopes, backfill)
	if !changed {
		return record, domain.SyncOutcome{SessionID: sess.ID, Status: domain.SyncSkip, Detail: "no state change"}, nil
	}
	if err := s.persistPurchaseState(ctx, record, opts.dryRun); err != nil {
		s.logPersistenceFailure(sess.ID, record, err)
		return nil, errorOutcome(sess.ID, err), err
	}
	s.notifyAccess(ctx, "access.updated", record, mappedProductIDs(allScopes), opts.dryRun)
	return record, domain.SyncOutcome{SessionID: sess.ID, Status: domain.SyncUpdate, Detail: updateDetail(opts.dryRun)}, nil
}

func (s *Service) createPurchase(ctx context.Context, sess *stripeclient.CheckoutSession, ev domain.Event, userID string, items []domain.LineItem, allScopes, recurringScopes []domain.ScopeKey, backfill domain.RenewalMap, opts ingestOptions) (*domain.PurchaseRecord, domain.SyncOutcome, error) {
	record := &domain.PurchaseRecord{
		ID:                 uuid.New(),
		UserID:             userID,
		ExternalSessionID:  sess.ID,
		ExternalCustomerID: sess.Customer.ID,
		SubscriptionID:     ev.SubscriptionID,
		PurchasedAt:        time.Unix(sess.Created, 0).UTC(),
		LineItems:          items,
		RawSnapshot:        sess.Raw,
		ProductIDs:         scopeStrings(allScopes),
		AccessStates:       domain.AccessStateMap{},
		Renewals:           domain.RenewalMap{},
	}

	// One-time-only purchases get no access state entries at all: the access
	// decision treats them as lifetime.
	applyEvent(record.AccessStates, recurringScopes, ev, s.now().Unix())
	mergeRenewals(record.Renewals, backfill)

	if !opts.dryRun {
		if err := s.repo.CreatePurchase(ctx, record); err != nil {
			s.logPersistenceFailure(sess.ID, record, err)
			return nil, errorOutcome(sess.ID, err), fmt.Errorf("failed to create purchase for session %s: %w", sess.ID, err)
		}
	}
	s.notifyAccess(ctx, "access.granted", record, mappedProductIDs(allScopes), opts.dryRun)

	return record, domain.SyncOutcome{SessionID: sess.ID, Status: domain.SyncCreate, Detail: createDetail(userID, opts.dryRun)}, nil
}

// mergeIntoPurchase refreshes the purchase's normalized metadata and applies
// the event. Reports whether anything changed.
func (s *Service) mergeIntoPurchase(record *domain.PurchaseRecord, ev domain.Event, items []domain.LineItem, allScopes, recurringScopes []domain.ScopeKey, backfill domain.RenewalMap) (*domain.PurchaseRecord, bool) {
	changed := false

	productIDs := scopeStrings(allScopes)
	if !equalStrings(record.ProductIDs, productIDs) {
		record.ProductIDs = productIDs
		changed = true
	}
	if len(items) > 0 && len(record.LineItems) == 0 {
		record.LineItems = items
		changed = true
	}
	if ev.SubscriptionID != "" && record.SubscriptionID == "" {
		record.SubscriptionID = ev.SubscriptionID
		changed = true
	}

	if record.AccessStates == nil {
		record.AccessStates = domain.AccessStateMap{}
	}
	if applyEvent(record.AccessStates, recurringScopes, ev, s.now().Unix()) {
		changed = true
	}
	if record.Renewals == nil {
		record.Renewals = domain.RenewalMap{}
	}
	if mergeRenewals(record.Renewals, backfill) {
		changed = true
	}
	return record, changed
}

// resolveSubscription returns the session's subscription, fetching it when the
// provider sent only a reference. Called before any lock is taken.
func (s *Service) resolveSubscription(ctx context.Context, sess *stripeclient.CheckoutSession) (*stripeclient.Subscription, error) {
	if sess.Subscription.Object != nil {
		return sess.Subscription.Object, nil
	}
	if sess.Subscription.ID == "" {
		return nil, nil
	}
	sub, err := s.provider.FetchSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s for session %s: %w", sess.Subscription.ID, sess.ID, err)
	}
	return sub, nil
}

// resolveBuyer maps the session's buyer to a user id, creating a directory
// entry for previously-unseen buyers. Dry runs never create users.
func (s *Service) resolveBuyer(ctx context.Context, sess *stripeclient.CheckoutSession, dryRun bool) (string, error) {
	email := sess.CustomerDetails.Email
	if email == "" {
		return "", ErrUnknownBuyer
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("failed to look up buyer %s: %w", email, err)
	}
	if user != nil {
		return user.ID, nil
	}
	if dryRun {
		// The real run would create this user; trace the decision without
		// the side effect.
		return "dry-run:" + email, nil
	}

	user, err = s.users.CreateUser(ctx, email, sess.CustomerDetails.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create user for buyer %s: %w", email, err)
	}
	return user.ID, nil
}

func (s *Service) logPersistenceFailure(sessionID string, record *domain.PurchaseRecord, err error) {
	log.Printf("level=error component=service msg=\"purchase write failed\" session_id=%s purchase_id=%s user_id=%s err=%v", sessionID, record.ID, record.UserID, err)
}

func mappedProductIDs(scopes []domain.ScopeKey) []int {
	ids := make([]int, 0, len(scopes))
	for _, scope := range scopes {
		if id, ok := scope.InternalProductID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func errorOutcome(sessionID string, err error) domain.SyncOutcome {
	return domain.SyncOutcome{SessionID: sessionID, Status: domain.SyncError, Detail: err.Error()}
}

func createDetail(userID string, dryRun bool) string {
	if dryRun {
		return "would create purchase for user " + userID
	}
	return "created purchase for user " + userID
}

func updateDetail(dryRun bool) string {
	if dryRun {
		return "would update access state"
	}
	return "updated access state"
}
