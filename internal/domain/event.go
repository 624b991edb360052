/**
 * @description
 * This file defines the canonical lifecycle event. All three ingestion paths
 * (checkout completion, provider webhooks, backfill sync) normalize their
 * provider-specific payloads into this one shape before the state merger sees
 * them; the merger never inspects provider payloads directly.
 */
package domain

// EventKind is the normalized lifecycle transition an event carries.
type EventKind string

const (
	// EventCheckoutCompleted covers live checkout callbacks and backfilled sessions.
	EventCheckoutCompleted EventKind = "checkout_completed"
	// EventSubscriptionUpdated covers status/pause/period changes on a subscription.
	EventSubscriptionUpdated EventKind = "subscription_updated"
	// EventSubscriptionCanceled covers terminal cancellation of a subscription.
	EventSubscriptionCanceled EventKind = "subscription_canceled"
	// EventInvoicePaid covers a successful recurring-billing payment.
	EventInvoicePaid EventKind = "invoice_paid"
)

// Event is the canonical, provider-agnostic lifecycle event.
// Timestamp fields are unix seconds; zero means absent.
type Event struct {
	Kind      EventKind
	ScopeKeys []ScopeKey

	PeriodEnd         int64
	Paused            bool
	Resumed           bool
	Canceled          bool
	CancelAtPeriodEnd bool
	CancelAt          int64
	EndedAt           int64

	InvoiceID      string
	Amount         int64
	SubscriptionID string
	CustomerID     string

	OccurredAt int64
}
