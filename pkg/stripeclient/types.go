/**
 * @description
 * This file defines the provider payload types for the Stripe API surface the
 * engine consumes: checkout sessions, subscriptions, invoices, and webhook
 * event envelopes.
 *
 * Stripe expands related objects in place depending on request parameters and
 * API version, so reference fields arrive either as a bare id string or as a
 * full embedded object. The Expandable* types absorb both shapes at decode
 * time so nothing downstream ever inspects provider-specific variants.
 */
package stripeclient

import "encoding/json"

// ExpandableID is a reference field that may be a plain id or an object with
// an "id" key.
type ExpandableID struct {
	ID string
}

func (e *ExpandableID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

func (e ExpandableID) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ID)
}

// ExpandableSubscription is a subscription reference that may arrive as a bare
// id or as the full subscription object.
type ExpandableSubscription struct {
	ID     string
	Object *Subscription
}

func (e *ExpandableSubscription) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &e.ID)
	}
	sub := &Subscription{}
	if err := json.Unmarshal(b, sub); err != nil {
		return err
	}
	e.Object = sub
	e.ID = sub.ID
	return nil
}

func (e ExpandableSubscription) MarshalJSON() ([]byte, error) {
	if e.Object != nil {
		return json.Marshal(e.Object)
	}
	return json.Marshal(e.ID)
}

// Price describes the price attached to a line or subscription item.
type Price struct {
	ID         string       `json:"id"`
	Product    ExpandableID `json:"product"`
	Type       string       `json:"type"`
	UnitAmount int64        `json:"unit_amount"`
	Currency   string       `json:"currency"`
}

// SessionLineItem is one line of a checkout session.
type SessionLineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	AmountTotal int64  `json:"amount_total"`
	Price       Price  `json:"price"`
}

// LineItemList is Stripe's paginated list container for session lines.
type LineItemList struct {
	Data    []SessionLineItem `json:"data"`
	HasMore bool              `json:"has_more"`
}

// CustomerDetails carries the buyer identity captured at checkout.
type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CheckoutSession is a completed (or in-flight) checkout session.
type CheckoutSession struct {
	ID              string                 `json:"id"`
	Status          string                 `json:"status"`
	PaymentStatus   string                 `json:"payment_status"`
	Created         int64                  `json:"created"`
	Customer        ExpandableID           `json:"customer"`
	CustomerDetails CustomerDetails        `json:"customer_details"`
	Subscription    ExpandableSubscription `json:"subscription"`
	LineItems       *LineItemList          `json:"line_items"`

	// Raw is the undecoded provider payload, kept for the audit snapshot.
	// Set by the client after a fetch; never reparsed for logic.
	Raw json.RawMessage `json:"-"`
}

// Completed reports whether the session finished with a settled payment.
// no_payment_required covers fully-discounted checkouts.
func (s *CheckoutSession) Completed() bool {
	return s.Status == "complete" && (s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required")
}

// SessionList is one page of a session listing.
type SessionList struct {
	Data    []CheckoutSession `json:"data"`
	HasMore bool              `json:"has_more"`
}

// PauseCollection marks a subscription whose billing is paused.
type PauseCollection struct {
	Behavior string `json:"behavior"`
}

// SubscriptionItem is one product line of a subscription.
type SubscriptionItem struct {
	Price Price `json:"price"`
}

// SubscriptionItemList is Stripe's list container for subscription items.
type SubscriptionItemList struct {
	Data []SubscriptionItem `json:"data"`
}

// Subscription is the recurring-billing object driving access windows.
type Subscription struct {
	ID                string               `json:"id"`
	Status            string               `json:"status"`
	Customer          ExpandableID         `json:"customer"`
	CurrentPeriodEnd  int64                `json:"current_period_end"`
	CancelAtPeriodEnd bool                 `json:"cancel_at_period_end"`
	CancelAt          int64                `json:"cancel_at"`
	CanceledAt        int64                `json:"canceled_at"`
	EndedAt           int64                `json:"ended_at"`
	PauseCollection   *PauseCollection     `json:"pause_collection"`
	Items             SubscriptionItemList `json:"items"`
}

// Paused reports whether billing collection is paused.
func (s *Subscription) Paused() bool {
	return s.PauseCollection != nil && s.PauseCollection.Behavior != ""
}

// Canceled reports a terminal subscription state.
func (s *Subscription) Canceled() bool {
	return s.Status == "canceled" || s.Status == "incomplete_expired" || s.EndedAt > 0
}

// InvoiceLinePeriod is the billing period one invoice line covers.
type InvoiceLinePeriod struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// InvoiceLine is one line of an invoice.
type InvoiceLine struct {
	Description string            `json:"description"`
	Quantity    int64             `json:"quantity"`
	Amount      int64             `json:"amount"`
	Price       Price             `json:"price"`
	Period      InvoiceLinePeriod `json:"period"`
}

// InvoiceLineList is Stripe's list container for invoice lines.
type InvoiceLineList struct {
	Data []InvoiceLine `json:"data"`
}

// Invoice is a recurring-billing payment document.
type Invoice struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Created      int64                  `json:"created"`
	AmountPaid   int64                  `json:"amount_paid"`
	Customer     ExpandableID           `json:"customer"`
	Subscription ExpandableSubscription `json:"subscription"`
	Lines        InvoiceLineList        `json:"lines"`
}

// Event is the webhook envelope delivered by the provider.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}
