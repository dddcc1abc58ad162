package store

import "errors"

// Common store errors shared by all implementations.
var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateKey is returned when attempting to create a resource with a duplicate key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConcurrentModification is returned when an optimistic locking conflict is detected.
	// This occurs when the expected counter value doesn't match during a conditional update.
	ErrConcurrentModification = errors.New("resource was modified by another request")
)
