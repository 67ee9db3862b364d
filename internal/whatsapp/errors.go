package whatsapp

import (
	"errors"
	"fmt"
)

// Transport-level failures the dispatch layer can branch on with errors.Is.
var (
	// ErrRateLimited is returned on HTTP 429. Retry-worthy after backoff.
	ErrRateLimited = errors.New("whatsapp: rate limited")

	// ErrServiceUnavailable is returned on HTTP 5xx. Retry-worthy.
	ErrServiceUnavailable = errors.New("whatsapp: service unavailable")
)

// SendError carries the provider's structured error for non-retryable
// rejections (4xx other than 429): bad recipient, policy violations,
// unapproved templates.
type SendError struct {
	StatusCode int
	Code       int
	Type       string
	Detail     string
}

func (e *SendError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("whatsapp: %s (code=%d status=%d)", e.Detail, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("whatsapp: http status %d", e.StatusCode)
}
