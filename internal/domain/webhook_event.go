package domain

import "time"

// WebhookEventType classifies provider callbacks. Unknown types are recorded
// and acknowledged without further side effects (forward compatibility).
type WebhookEventType string

// Webhook event types.
const (
	EventMessageReceived WebhookEventType = "message_received"
	EventMessageStatus   WebhookEventType = "message_status"
	EventTemplateStatus  WebhookEventType = "template_status"
)

// WebhookEvent is the append-only record of one received provider callback,
// keyed by a provider-supplied idempotency token. Two events with the same key
// represent the same external occurrence and must produce only one set of side
// effects; the unique index on IdempotencyKey is what makes the conditional
// insert in the webhook store atomic.
//
// Events are retained as an audit trail and are not deleted by the engine.
type WebhookEvent struct {
	ID   string           `json:"id"   gorm:"type:char(36);primaryKey"`
	Type WebhookEventType `json:"type" gorm:"type:varchar(32);not null;index"`

	// IdempotencyKey is the provider's message id for message events, or a
	// composite of message id and new status for status events.
	IdempotencyKey string `json:"idempotency_key" gorm:"type:varchar(200);not null;uniqueIndex:ux_webhook_idem_key"`

	// Payload is the raw provider callback body, stored opaquely.
	Payload string `json:"payload" gorm:"type:text;not null"`

	// ProcessedAt and ProcessingError are mutually exclusive outcomes of the
	// single processing attempt made on receipt.
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error,omitempty" gorm:"type:text"`
	RetryCount      int        `json:"retry_count"                gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// MarkProcessed records successful processing and clears any earlier error.
func (e *WebhookEvent) MarkProcessed(now time.Time) {
	e.ProcessedAt = &now
	e.ProcessingError = ""
	e.UpdatedAt = now
}

// MarkFailed records a processing failure and bumps the retry counter used by
// the out-of-band reconciliation job.
func (e *WebhookEvent) MarkFailed(reason string, now time.Time) {
	e.ProcessedAt = nil
	e.ProcessingError = reason
	e.RetryCount++
	e.UpdatedAt = now
}

// Processed reports whether the event completed successfully.
func (e *WebhookEvent) Processed() bool { return e.ProcessedAt != nil }
