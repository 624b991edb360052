/**
 * @description
 * This file implements the state merger: the pure transition logic that applies
 * a canonical lifecycle event to per-scope access state. Three invariants are
 * enforced by construction:
 *
 * - Flag priority: canceled beats paused; a canceled scope never becomes paused.
 * - Raise-only end: the end timestamp may only increase via ordinary updates.
 *   Even the cancellation path computes its candidate end and writes it only
 *   when it raises the stored value.
 * - Idempotency: replaying an identical event leaves the state untouched.
 *
 * Flag fields are last-write-wins across distinct events; out-of-order webhook
 * delivery can therefore leave a stale paused/canceled flag. That is accepted
 * source behavior, not something this merger tries to repair.
 */
package app

import "github.com/memberly/access-service/internal/domain"

// applyEventToState returns the state after applying one event, and whether
// anything changed. now supplies the fallback end for cancellations that carry
// no timestamp of their own.
func applyEventToState(state domain.AccessState, ev domain.Event, now int64) (domain.AccessState, bool) {
	next := state

	// Flag transition. Cancellation clears paused; pause and resume are
	// ignored once a scope is canceled.
	switch {
	case ev.Canceled:
		next.Paused = false
		next.Canceled = true
	case ev.Paused:
		if !next.Canceled {
			next.Paused = true
		}
	case ev.Resumed:
		if !next.Canceled {
			next.Paused = false
		}
	}

	// End-timestamp transition, raise-only.
	candidate := endCandidate(ev, now)
	if candidate > next.End {
		next.End = candidate
	}

	return next, next != state
}

// endCandidate computes the end timestamp an event proposes, by priority.
func endCandidate(ev domain.Event, now int64) int64 {
	if ev.Canceled {
		switch {
		case ev.EndedAt > 0:
			return ev.EndedAt
		case ev.CancelAt > 0:
			return ev.CancelAt
		case ev.PeriodEnd > 0:
			return ev.PeriodEnd
		default:
			return now
		}
	}
	if ev.CancelAtPeriodEnd {
		return ev.PeriodEnd
	}
	return ev.PeriodEnd
}

// applyEvent applies ev to every target scope of a purchase's state map,
// creating zero-state entries for scopes seen for the first time. Reports
// whether any entry changed.
func applyEvent(states domain.AccessStateMap, scopes []domain.ScopeKey, ev domain.Event, now int64) bool {
	changed := false
	for _, scope := range scopes {
		current := states[scope]
		next, stateChanged := applyEventToState(current, ev, now)
		if _, exists := states[scope]; !exists || stateChanged {
			states[scope] = next
			changed = changed || stateChanged || !exists
		}
	}
	return changed
}

// migrateScope moves access state from an unmapped scope to its newly mapped
// scope on one purchase: the end is raise-merged, canceled wins over paused,
// and the unmapped entry is removed without a tombstone. Reports whether the
// purchase held the old scope at all.
func migrateScope(states domain.AccessStateMap, from, to domain.ScopeKey) bool {
	old, ok := states[from]
	if !ok {
		return false
	}

	next := states[to]
	if old.End > next.End {
		next.End = old.End
	}
	if old.Canceled {
		next.Canceled = true
		next.Paused = false
	} else if old.Paused && !next.Canceled {
		next.Paused = true
	}

	states[to] = next
	delete(states, from)
	return true
}
