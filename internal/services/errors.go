// Package services defines the business logic for webhook ingestion, outbound
// dispatch, and the agent workflow. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Dispatch-related errors.
var (
	// ErrInvalidPhone is returned when a destination phone number does not
	// match the provider's expected E.164 format.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrValidationFailed is returned when outbound content is empty, exceeds
	// the provider's length ceiling, or a required field (template name,
	// media URL) is missing or malformed.
	ErrValidationFailed = errors.New("message validation failed")

	// ErrSendFailed wraps a provider failure after the message was persisted
	// and marked FAILED. The provider's typed error remains in the chain.
	ErrSendFailed = errors.New("provider send failed")

	// ErrRetryNotAllowed is returned when a message is not eligible for
	// resubmission (not FAILED, retry limit reached, or expired).
	ErrRetryNotAllowed = errors.New("message not eligible for retry")
)

// Lookup errors.
var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates that the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")
)
