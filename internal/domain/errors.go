// Package domain defines the core persistence models for the messaging engine.
// This file centralizes entity-level and storage-level error values so they can
// be consistently returned by entity methods and store implementations and
// checked by callers with errors.Is.
package domain

import "errors"

// Entity state errors.
var (
	// ErrInvalidTransition is returned when a state-machine method is called
	// out of order (e.g. delivering a message that was never sent, archiving
	// a conversation that is not resolved).
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConversationClosed is returned when an operation requires an active
	// (open or assigned) conversation but the conversation is resolved or
	// archived.
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrRetryLimitReached is returned when the retry counter of a message
	// would exceed the maximum number of attempts.
	ErrRetryLimitReached = errors.New("retry limit reached")
)

// Storage errors. Store implementations translate their backend-specific
// failures into these values so services stay storage-agnostic.
var (
	// ErrNotFound indicates that a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey indicates that an insert violated a uniqueness
	// constraint (webhook idempotency key, active conversation per phone).
	ErrDuplicateKey = errors.New("duplicate key")
)
