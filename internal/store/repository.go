/**
 * @description
 * This file defines the store-level errors shared by the repository
 * implementations. Handlers and the reconciliation service branch on these
 * sentinels instead of inspecting driver errors.
 */
package store

import "errors"

var (
	// ErrPurchaseNotFound is returned when no purchase matches the lookup.
	ErrPurchaseNotFound = errors.New("purchase not found")
	// ErrCustomerNotIndexed is returned when a provider customer id has no
	// user in the customer index.
	ErrCustomerNotIndexed = errors.New("customer not indexed")
	// ErrDuplicateSession is returned when a purchase already exists for the
	// external session id.
	ErrDuplicateSession = errors.New("purchase already exists for session")
)
