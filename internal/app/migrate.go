/**
 * @description
 * This file implements scope migration: when an admin maps a previously
 * unmapped external product to an internal id (a product becomes access-gated
 * after purchases already exist), every purchase holding state under the
 * unmapped scope is migrated to the mapped scope — end raise-merged, canceled
 * winning over paused, unmapped entry removed without a tombstone — and each
 * affected purchase triggers exactly one access-granted notification.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/internal/store"
)

// CatalogAdmin is the write side of the product catalog.
type CatalogAdmin interface {
	UpsertMapping(ctx context.Context, externalProductID string, internalProductID int) error
}

// MapProduct upserts a catalog mapping and migrates existing purchase state
// from the unmapped scope to the new mapped scope. Returns the number of
// purchases migrated.
func (s *Service) MapProduct(ctx context.Context, admin CatalogAdmin, externalProductID string, internalProductID int) (int, error) {
	if externalProductID == "" || internalProductID <= 0 {
		return 0, errors.New("mapping requires an external product id and a positive internal id")
	}

	if err := admin.UpsertMapping(ctx, externalProductID, internalProductID); err != nil {
		return 0, fmt.Errorf("failed to upsert mapping %s -> %d: %w", externalProductID, internalProductID, err)
	}

	from := domain.UnmappedScope(externalProductID)
	to := domain.MappedScope(internalProductID)

	affected, err := s.repo.ListPurchasesWithScope(ctx, from)
	if err != nil {
		return 0, fmt.Errorf("failed to list purchases holding scope %s: %w", from, err)
	}

	migrated := 0
	for _, purchase := range affected {
		ok, err := s.migratePurchase(ctx, purchase, from, to)
		if err != nil {
			// Per-item isolation, same as sync: record and continue so one
			// broken purchase does not block the rest of the migration.
			log.Printf("level=error component=migration msg=\"purchase migration failed\" purchase_id=%s user_id=%s scope=%s err=%v", purchase.ID, purchase.UserID, from, err)
			continue
		}
		if ok {
			migrated++
		}
	}

	log.Printf("level=info component=migration msg=\"scope migration finished\" external_product_id=%s internal_product_id=%d affected=%d migrated=%d", externalProductID, internalProductID, len(affected), migrated)
	return migrated, nil
}

func (s *Service) migratePurchase(ctx context.Context, purchase *domain.PurchaseRecord, from, to domain.ScopeKey) (bool, error) {
	unlock := s.locks.Lock(purchase.UserID)
	defer unlock()

	fresh, err := s.repo.GetPurchaseBySessionID(ctx, purchase.ExternalSessionID)
	if err != nil {
		if errors.Is(err, store.ErrPurchaseNotFound) {
			return false, nil
		}
		return false, err
	}

	if !migrateScope(fresh.AccessStates, from, to) {
		return false, nil
	}

	// Renewal ledgers follow their scope so history stays queryable under
	// the mapped key.
	if entries, ok := fresh.Renewals[from]; ok {
		for _, entry := range entries {
			fresh.Renewals.Append(to, entry)
		}
		delete(fresh.Renewals, from)
	}

	fresh.ProductIDs = replaceScopeString(fresh.ProductIDs, from.String(), to.String())

	if err := s.persistPurchaseState(ctx, fresh, false); err != nil {
		s.logPersistenceFailure(fresh.ExternalSessionID, fresh, err)
		return false, err
	}

	toID, _ := to.InternalProductID()
	s.notifyAccess(ctx, "access.granted", fresh, []int{toID}, false)
	return true, nil
}

func replaceScopeString(ids []string, from, to string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == from {
			id = to
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
