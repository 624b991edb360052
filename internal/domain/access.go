/**
 * @description
 * This file defines the per-(purchase, scope) access state: the end of the paid
 * access window plus the paused/canceled lifecycle flags. Two invariants hold
 * for every stored state:
 *
 *   - canceled implies not paused
 *   - End is raise-only: ordinary updates may increase it but never lower it
 */
package domain

// AccessState is the access window for one purchase+scope pair.
// A zero End means "no end recorded" (not "expired").
type AccessState struct {
	End      int64 `json:"end"`
	Paused   bool  `json:"paused,omitempty"`
	Canceled bool  `json:"canceled,omitempty"`
}

// HasEnd reports whether an end timestamp has been recorded.
func (s AccessState) HasEnd() bool {
	return s.End > 0
}

// AccessStateMap holds the access states of one purchase, keyed by scope.
type AccessStateMap map[ScopeKey]AccessState

// Clone returns a copy safe to mutate independently.
func (m AccessStateMap) Clone() AccessStateMap {
	if m == nil {
		return nil
	}
	out := make(AccessStateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal reports whether two state maps hold identical entries.
func (m AccessStateMap) Equal(other AccessStateMap) bool {
	if len(m) != len(other) {
		return false
	}
	for k, v := range m {
		if o, ok := other[k]; !ok || o != v {
			return false
		}
	}
	return true
}
