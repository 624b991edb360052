/**
 * @description
 * This file is the normalization adapter: the single place where provider
 * payload shapes (sessions, subscriptions, invoices, in any of their expanded
 * or collapsed variants) are converted into the canonical domain.Event and
 * domain.LineItem forms. The state merger never sees a provider shape.
 */
package app

import (
	"github.com/memberly/access-service/internal/domain"
	"github.com/memberly/access-service/pkg/stripeclient"
)

// lineItemsFromSession normalizes a session's lines. A missing price type is
// treated as one-time so it can never extend an access window by accident.
func lineItemsFromSession(sess *stripeclient.CheckoutSession) []domain.LineItem {
	if sess.LineItems == nil {
		return nil
	}
	items := make([]domain.LineItem, 0, len(sess.LineItems.Data))
	for _, line := range sess.LineItems.Data {
		items = append(items, domain.LineItem{
			ExternalProductID: line.Price.Product.ID,
			Quantity:          line.Quantity,
			UnitAmount:        line.Price.UnitAmount,
			Currency:          line.Price.Currency,
			PriceType:         normalizePriceType(line.Price.Type),
			Description:       line.Description,
		})
	}
	return items
}

// lineItemsFromInvoice normalizes an invoice's lines for scope derivation.
func lineItemsFromInvoice(inv *stripeclient.Invoice) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(inv.Lines.Data))
	for _, line := range inv.Lines.Data {
		items = append(items, domain.LineItem{
			ExternalProductID: line.Price.Product.ID,
			Quantity:          line.Quantity,
			UnitAmount:        line.Price.UnitAmount,
			Currency:          line.Price.Currency,
			PriceType:         normalizePriceType(line.Price.Type),
			Description:       line.Description,
		})
	}
	return items
}

func normalizePriceType(t string) domain.PriceType {
	if t == string(domain.PriceTypeRecurring) {
		return domain.PriceTypeRecurring
	}
	return domain.PriceTypeOneTime
}

// eventFromSubscription maps a subscription object to the canonical event. A
// subscription that is neither paused nor canceled explicitly signals resume:
// an update clearing pause_collection must clear the paused flag.
func eventFromSubscription(sub *stripeclient.Subscription, occurredAt int64) domain.Event {
	canceled := sub.Canceled()
	paused := sub.Paused()

	kind := domain.EventSubscriptionUpdated
	if canceled {
		kind = domain.EventSubscriptionCanceled
	}

	endedAt := sub.EndedAt
	if endedAt == 0 && canceled {
		endedAt = sub.CanceledAt
	}

	return domain.Event{
		Kind:              kind,
		PeriodEnd:         sub.CurrentPeriodEnd,
		Paused:            paused && !canceled,
		Resumed:           !paused && !canceled,
		Canceled:          canceled,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CancelAt:          sub.CancelAt,
		EndedAt:           endedAt,
		SubscriptionID:    sub.ID,
		CustomerID:        sub.Customer.ID,
		OccurredAt:        occurredAt,
	}
}

// checkoutEvent maps a completed session (and its subscription, when one
// exists) to the canonical event applied at ingestion time.
func checkoutEvent(sess *stripeclient.CheckoutSession, sub *stripeclient.Subscription) domain.Event {
	ev := domain.Event{
		Kind:       domain.EventCheckoutCompleted,
		CustomerID: sess.Customer.ID,
		OccurredAt: sess.Created,
	}
	if sub != nil {
		canceled := sub.Canceled()
		ev.PeriodEnd = sub.CurrentPeriodEnd
		ev.Paused = sub.Paused() && !canceled
		ev.Resumed = !sub.Paused() && !canceled
		ev.Canceled = canceled
		ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		ev.CancelAt = sub.CancelAt
		ev.EndedAt = sub.EndedAt
		ev.SubscriptionID = sub.ID
	}
	return ev
}

// eventFromInvoice maps a paid invoice to the canonical renewal event.
// periodEnd comes from the freshly fetched subscription when available, else
// from the invoice's own recurring line periods.
func eventFromInvoice(inv *stripeclient.Invoice, periodEnd int64) domain.Event {
	if periodEnd == 0 {
		periodEnd = invoicePeriodEnd(inv)
	}
	return domain.Event{
		Kind:           domain.EventInvoicePaid,
		PeriodEnd:      periodEnd,
		InvoiceID:      inv.ID,
		Amount:         inv.AmountPaid,
		SubscriptionID: inv.Subscription.ID,
		CustomerID:     inv.Customer.ID,
		OccurredAt:     inv.Created,
	}
}

// invoicePeriodEnd returns the latest period end across recurring lines only.
// One-time lines never participate in period-end computation.
func invoicePeriodEnd(inv *stripeclient.Invoice) int64 {
	var end int64
	for _, line := range inv.Lines.Data {
		if normalizePriceType(line.Price.Type) != domain.PriceTypeRecurring {
			continue
		}
		if line.Period.End > end {
			end = line.Period.End
		}
	}
	return end
}
