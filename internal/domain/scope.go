/**
 * @description
 * This file defines the ScopeKey type: the stable per-product identifier used to
 * index access state and renewal ledgers within a purchase. A scope key is a
 * tagged union — either a mapped internal product id, or an unmapped external
 * (provider) product id for products that are not access-gated yet.
 *
 * The string serialization ("p:<id>" / "x:<extID>") is what gets used as the
 * jsonb map key in the purchase store, so it must stay parseable and stable.
 */
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// UnknownExternalProductID is the external product id recorded when a line item
// carries no product reference at all.
const UnknownExternalProductID = "unknown"

const (
	mappedPrefix   = "p:"
	unmappedPrefix = "x:"
)

// ScopeKey identifies one product scope within a purchase. Exactly one of the
// two branches is set: a positive internal product id (mapped), or a non-empty
// external product id (unmapped).
type ScopeKey struct {
	internalID int
	externalID string
}

// MappedScope returns the scope key for an internal (access-gated) product.
func MappedScope(internalProductID int) ScopeKey {
	return ScopeKey{internalID: internalProductID}
}

// UnmappedScope returns the scope key for a product the catalog does not map.
// An empty external id collapses to the "unknown" scope.
func UnmappedScope(externalProductID string) ScopeKey {
	if externalProductID == "" {
		externalProductID = UnknownExternalProductID
	}
	return ScopeKey{externalID: externalProductID}
}

// IsMapped reports whether the scope refers to an internal product.
func (k ScopeKey) IsMapped() bool {
	return k.internalID > 0
}

// InternalProductID returns the internal product id and whether the scope is mapped.
func (k ScopeKey) InternalProductID() (int, bool) {
	return k.internalID, k.internalID > 0
}

// ExternalProductID returns the external product id for unmapped scopes.
func (k ScopeKey) ExternalProductID() (string, bool) {
	return k.externalID, k.internalID <= 0
}

// IsZero reports whether the key was never initialized.
func (k ScopeKey) IsZero() bool {
	return k.internalID <= 0 && k.externalID == ""
}

// String serializes the scope key for use as a stored map key.
func (k ScopeKey) String() string {
	if k.internalID > 0 {
		return mappedPrefix + strconv.Itoa(k.internalID)
	}
	if k.externalID == "" {
		return unmappedPrefix + UnknownExternalProductID
	}
	return unmappedPrefix + k.externalID
}

// ParseScopeKey parses the serialized form produced by String.
func ParseScopeKey(s string) (ScopeKey, error) {
	switch {
	case strings.HasPrefix(s, mappedPrefix):
		id, err := strconv.Atoi(s[len(mappedPrefix):])
		if err != nil || id <= 0 {
			return ScopeKey{}, fmt.Errorf("invalid mapped scope key %q", s)
		}
		return MappedScope(id), nil
	case strings.HasPrefix(s, unmappedPrefix):
		ext := s[len(unmappedPrefix):]
		if ext == "" {
			return ScopeKey{}, fmt.Errorf("invalid unmapped scope key %q", s)
		}
		return UnmappedScope(ext), nil
	default:
		return ScopeKey{}, fmt.Errorf("unrecognized scope key %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler so ScopeKey can be used as a
// JSON object key.
func (k ScopeKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ScopeKey) UnmarshalText(text []byte) error {
	parsed, err := ParseScopeKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
