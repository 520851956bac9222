// Package repository declares the storage contracts of the ride service.
// Implementations map driver failures onto the two errors below; anything
// else is a permanent failure.
package repository

import "errors"

var (
	// ErrNotFound is returned when the ride, session or payment is absent.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable marks transient failures. The operation may be
	// retried with the same idempotency key or precondition.
	ErrStoreUnavailable = errors.New("store unavailable")
)
