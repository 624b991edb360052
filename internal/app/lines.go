/**
 * @description
 * This file implements the purchase line renderer: a pure projection of stored
 * line items plus reconciled access state into human-readable audit lines.
 * Scopes are resolved under the current catalog mapping (which may differ from
 * the mapping at purchase time); state lookup is exact per scope — there is no
 * inheritance or fallback across scopes.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/memberly/access-service/internal/domain"
)

// PurchaseLine is one rendered audit line.
type PurchaseLine struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	Amount      string `json:"amount"`
	Suffix      string `json:"suffix,omitempty"`
	Rendered    string `json:"rendered"`
}

// RenderPurchaseLines projects one purchase into audit lines. Same inputs
// always produce the same output; nothing is mutated.
func RenderPurchaseLines(purchase *domain.PurchaseRecord, catalog CatalogSnapshot) []PurchaseLine {
	lines := make([]PurchaseLine, 0, len(purchase.LineItems))
	for _, item := range purchase.LineItems {
		scope := ComputeScopeKey(item, catalog)
		state, ok := purchase.StateFor(scope)

		suffix := ""
		if ok {
			suffix = stateSuffix(state)
		}

		amount := formatAmount(item.UnitAmount, item.Currency)
		rendered := fmt.Sprintf("%s x%d (%s)", item.Description, item.Quantity, amount)
		if suffix != "" {
			rendered += " - " + suffix
		}
		lines = append(lines, PurchaseLine{
			Description: item.Description,
			Quantity:    item.Quantity,
			Amount:      amount,
			Suffix:      suffix,
			Rendered:    rendered,
		})
	}
	return lines
}

// stateSuffix renders the access window by strict priority:
// CANCELED (date) > PAUSED > date > empty.
func stateSuffix(state domain.AccessState) string {
	switch {
	case state.Canceled:
		if state.HasEnd() {
			return "CANCELED (" + formatDate(state.End) + ")"
		}
		return "CANCELED"
	case state.Paused:
		return "PAUSED"
	case state.HasEnd():
		return formatDate(state.End)
	default:
		return ""
	}
}

func formatDate(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02")
}

func formatAmount(minorUnits int64, currency string) string {
	return fmt.Sprintf("%d.%02d %s", minorUnits/100, minorUnits%100, currency)
}

// ListPurchaseLines loads and renders all purchases of a user.
func (s *Service) ListPurchaseLines(ctx context.Context, userID string) (map[string][]PurchaseLine, error) {
	catalog, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot catalog: %w", err)
	}
	purchases, err := s.repo.ListPurchasesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases for user %s: %w", userID, err)
	}

	out := make(map[string][]PurchaseLine, len(purchases))
	for _, purchase := range purchases {
		out[purchase.ID.String()] = RenderPurchaseLines(purchase, catalog)
	}
	return out, nil
}
