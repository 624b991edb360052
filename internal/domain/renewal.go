/**
 * @description
 * This file defines the renewal ledger: a deduplicated, append-only record of
 * recurring-billing payments per scope. Entries are unique by invoice id within
 * one scope's list; no ordering is guaranteed — consumers sort by date.
 */
package domain

import "sort"

// RenewalEntry records one recurring-billing payment attributed to a scope.
type RenewalEntry struct {
	Date           int64  `json:"date"`
	Amount         int64  `json:"amount"`
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// RenewalMap holds the renewal ledger of one purchase, keyed by scope.
type RenewalMap map[ScopeKey][]RenewalEntry

// Append adds an entry to the scope's ledger unless an entry with the same
// invoice id already exists. Reports whether the ledger grew.
func (m RenewalMap) Append(scope ScopeKey, entry RenewalEntry) bool {
	for _, existing := range m[scope] {
		if existing.InvoiceID == entry.InvoiceID {
			return false
		}
	}
	m[scope] = append(m[scope], entry)
	return true
}

// Clone returns a copy safe to mutate independently.
func (m RenewalMap) Clone() RenewalMap {
	if m == nil {
		return nil
	}
	out := make(RenewalMap, len(m))
	for k, v := range m {
		entries := make([]RenewalEntry, len(v))
		copy(entries, v)
		out[k] = entries
	}
	return out
}

// SortedByDate returns the scope's entries ordered by payment date ascending.
func (m RenewalMap) SortedByDate(scope ScopeKey) []RenewalEntry {
	entries := make([]RenewalEntry, len(m[scope]))
	copy(entries, m[scope])
	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries
}
