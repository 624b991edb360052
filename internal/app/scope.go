/**
 * @description
 * This file implements the scope resolver: the pure mapping from a line item's
 * external product reference to a stable scope key under a given catalog
 * snapshot. Using a snapshot (instead of per-item catalog lookups) guarantees
 * the resolution is stable within one reconciliation pass.
 */
package app

import "github.com/memberly/access-service/internal/domain"

// ComputeScopeKey resolves a line item to its scope key. A catalog hit yields
// the mapped internal product id; a miss yields the unmapped external id, or
// the "unknown" scope when the line carries no product reference at all.
func ComputeScopeKey(item domain.LineItem, catalog CatalogSnapshot) domain.ScopeKey {
	if item.ExternalProductID == "" {
		return domain.UnmappedScope("")
	}
	if internalID, ok := catalog[item.ExternalProductID]; ok && internalID > 0 {
		return domain.MappedScope(internalID)
	}
	return domain.UnmappedScope(item.ExternalProductID)
}

// scopesForLineItems resolves every line item of a purchase, deduplicated in
// line order. recurringOnly restricts the result to recurring price types —
// one-time lines never participate in period-end computation.
func scopesForLineItems(items []domain.LineItem, catalog CatalogSnapshot, recurringOnly bool) []domain.ScopeKey {
	seen := make(map[domain.ScopeKey]struct{}, len(items))
	scopes := make([]domain.ScopeKey, 0, len(items))
	for _, item := range items {
		if recurringOnly && item.PriceType != domain.PriceTypeRecurring {
			continue
		}
		scope := ComputeScopeKey(item, catalog)
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		scopes = append(scopes, scope)
	}
	return scopes
}

// scopeStrings serializes scopes for the stored product_ids metadata.
func scopeStrings(scopes []domain.ScopeKey) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		out = append(out, scope.String())
	}
	return out
}
