/**
 * @description
 * This file defines the purchase record: the stored artifact created once per
 * completed checkout session (live or backfilled). The record carries the raw
 * provider snapshot for audit, the normalized line items, and the reconciled
 * per-scope access state and renewal ledger.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PriceType distinguishes one-time from recurring line items. Only recurring
// lines participate in period-end computation.
type PriceType string

const (
	PriceTypeOneTime   PriceType = "one_time"
	PriceTypeRecurring PriceType = "recurring"
)

// LineItem is one normalized line of a checkout session.
type LineItem struct {
	ExternalProductID string    `json:"external_product_id"`
	Quantity          int64     `json:"quantity"`
	UnitAmount        int64     `json:"unit_amount"`
	Currency          string    `json:"currency"`
	PriceType         PriceType `json:"price_type"`
	Description       string    `json:"description"`
}

// PurchaseRecord is created once per completed checkout/sync session and never
// deleted except on teardown. RawSnapshot is audit-only: it is never reparsed
// for logic after initial ingestion.
type PurchaseRecord struct {
	ID                 uuid.UUID      `json:"id"`
	UserID             string         `json:"user_id"`
	ExternalSessionID  string         `json:"external_session_id"`
	ExternalCustomerID string         `json:"external_customer_id,omitempty"`
	SubscriptionID     string         `json:"subscription_id,omitempty"`
	PurchasedAt        time.Time      `json:"purchased_at"`
	LineItems          []LineItem     `json:"line_items"`
	RawSnapshot        []byte         `json:"-"`
	ProductIDs         []string       `json:"product_ids"`
	AccessStates       AccessStateMap `json:"period_end_map"`
	Renewals           RenewalMap     `json:"renewals"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// StateFor returns the access state stored for a scope, if any.
func (p *PurchaseRecord) StateFor(scope ScopeKey) (AccessState, bool) {
	if p.AccessStates == nil {
		return AccessState{}, false
	}
	state, ok := p.AccessStates[scope]
	return state, ok
}

// HasAnyAccessState reports whether any scope of this purchase carries state.
// Purchases of one-time lines only never do; they are treated as lifetime.
func (p *PurchaseRecord) HasAnyAccessState() bool {
	return len(p.AccessStates) > 0
}
