// Package store defines the persistence interfaces for tag registrations,
// label records, and the checkout ledger, plus the sentinel errors every
// implementation maps its failures onto.
package store

import "errors"

var (
	// ErrNotFound: the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrKeyAlreadyOut: a checkout was attempted while an open ledger
	// entry exists for the same key and credential.
	ErrKeyAlreadyOut = errors.New("key is already checked out")

	// ErrKeyNotCheckedOut: a check-in was attempted with no open ledger
	// entry for the key and credential.
	ErrKeyNotCheckedOut = errors.New("key is not checked out")
)
