/**
 * @description
 * This file implements the read-only access decision. Among all of the user's
 * purchases that resolve to the queried product under the current catalog, the
 * latest purchase wins — older cycles for the same product are ignored even if
 * their windows are nominally still open.
 */
package app

import (
	"context"
	"fmt"

	"github.com/memberly/access-service/internal/domain"
)

// HasActiveAccess reports whether the user currently has access to the
// internal product. Derived, never persisted.
func (s *Service) HasActiveAccess(ctx context.Context, userID string, productID int) (bool, error) {
	catalog, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to snapshot catalog: %w", err)
	}
	purchases, err := s.repo.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to list purchases for user %s: %w", userID, err)
	}

	scope := domain.MappedScope(productID)
	var candidates []*domain.PurchaseRecord
	for _, purchase := range purchases {
		scopes := scopesForLineItems(purchase.LineItems, catalog, false)
		if containsScope(scopes, scope) {
			candidates = append(candidates, purchase)
		}
	}
	if len(candidates) == 0 {
		return false, nil
	}

	// Latest cycle wins.
	latest := latestPurchase(candidates)

	if state, ok := latest.StateFor(scope); ok {
		if state.Paused {
			return false, nil
		}
		if state.HasEnd() {
			return state.End >= s.now().Unix(), nil
		}
	}

	// The winning purchase has no usable window for this scope. A one-time
	// (lifetime) purchase is the case where no purchase for this product
	// carries access state at all; anything else is a denial.
	for _, purchase := range candidates {
		if _, ok := purchase.StateFor(scope); ok {
			return false, nil
		}
	}
	return true, nil
}

func containsScope(scopes []domain.ScopeKey, target domain.ScopeKey) bool {
	for _, scope := range scopes {
		if scope == target {
			return true
		}
	}
	return false
}
