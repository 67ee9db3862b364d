// Package domain defines the persistence models for conversations, messages,
// and webhook events. These types are mapped with GORM and form the core data
// layer of the messaging engine. All state changes go through entity methods;
// callers must never mutate fields directly.
package domain

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// MessageDirection distinguishes traffic originating from the business
// (outbound) from customer traffic (inbound).
type MessageDirection string

// Message directions.
const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageStatus is the delivery status of a message. The lifecycle is
// PENDING → QUEUED → SENT → DELIVERED → READ, with FAILED reachable from any
// pre-SENT state and used as the terminal state after a send failure.
type MessageStatus string

// Message delivery statuses.
const (
	StatusPending   MessageStatus = "pending"
	StatusQueued    MessageStatus = "queued"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// ContentKind is the kind of payload a message carries.
type ContentKind string

// Message content kinds.
const (
	KindText        ContentKind = "text"
	KindTemplate    ContentKind = "template"
	KindImage       ContentKind = "image"
	KindDocument    ContentKind = "document"
	KindVideo       ContentKind = "video"
	KindAudio       ContentKind = "audio"
	KindInteractive ContentKind = "interactive"
)

// MaxMessageRetries bounds how many times a failed message may be resubmitted.
const MaxMessageRetries = 3

// MessageExpiry is how long a message stays eligible for retry after creation.
const MessageExpiry = 24 * time.Hour

// Message represents one directed message (inbound or outbound) between the
// business and a customer phone number. Identity fields are immutable after
// creation; delivery status, the provider-assigned id, the failure reason, and
// the retry counter change only through the transition methods below.
//
// Invariants:
//   - WhatsAppMessageID is set iff the status has reached SENT or later
//     (inbound messages are created DELIVERED and carry the provider id).
//   - RetryCount only increases and never exceeds MaxMessageRetries.
type Message struct {
	ID             string           `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string           `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	Direction      MessageDirection `json:"direction"       gorm:"type:varchar(16);not null;check:direction IN ('inbound','outbound')"`
	Kind           ContentKind      `json:"kind"            gorm:"type:varchar(16);not null"`
	Status         MessageStatus    `json:"status"          gorm:"type:varchar(16);not null;index"`

	// Content is the message body for text/interactive kinds; for media kinds
	// it may be empty and Caption carries the human-readable text.
	Content      string `json:"content"                 gorm:"type:text;not null"`
	TemplateName string `json:"template_name,omitempty" gorm:"type:varchar(128)"`
	Caption      string `json:"caption,omitempty"       gorm:"type:text"`
	MediaURL     string `json:"media_url,omitempty"     gorm:"type:varchar(2048)"`

	// TemplateParams are the positional body parameters of a template send,
	// persisted so a retry resubmits the exact original rendering.
	TemplateParams []string `json:"template_params,omitempty" gorm:"serializer:json"`

	// PhoneNumber is the counterparty number, denormalized for by-phone lookups.
	PhoneNumber string `json:"phone_number" gorm:"type:varchar(20);not null;index"`

	// WhatsAppMessageID is the provider-assigned external id, used to correlate
	// delivery-status callbacks. Indexed: status webhooks resolve the target
	// message through this column, not by scanning pending messages.
	WhatsAppMessageID string `json:"whatsapp_message_id,omitempty" gorm:"column:whatsapp_message_id;type:varchar(128);index:idx_msgs_wamid"`

	FailureReason string `json:"failure_reason,omitempty" gorm:"type:text"`
	RetryCount    int    `json:"retry_count"              gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at" gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// MarkSent records a successful provider accept. It is an idempotent no-op if
// the message already reached SENT, DELIVERED, or READ; otherwise it sets the
// status to SENT and records the provider-assigned external id.
func (m *Message) MarkSent(externalID string, now time.Time) {
	switch m.Status {
	case StatusSent, StatusDelivered, StatusRead:
		return
	}
	m.Status = StatusSent
	m.WhatsAppMessageID = externalID
	m.UpdatedAt = now
}

// MarkDelivered advances the message to DELIVERED. A message cannot be
// delivered before it was sent: PENDING/QUEUED fail with ErrInvalidTransition.
// Already DELIVERED or READ is an idempotent no-op.
func (m *Message) MarkDelivered(now time.Time) error {
	switch m.Status {
	case StatusPending, StatusQueued:
		return fmt.Errorf("deliver from %s: %w", m.Status, ErrInvalidTransition)
	case StatusDelivered, StatusRead:
		return nil
	}
	m.Status = StatusDelivered
	m.UpdatedAt = now
	return nil
}

// MarkRead advances the message to READ, with the same precondition as
// MarkDelivered. Already READ is an idempotent no-op.
func (m *Message) MarkRead(now time.Time) error {
	switch m.Status {
	case StatusPending, StatusQueued:
		return fmt.Errorf("read from %s: %w", m.Status, ErrInvalidTransition)
	case StatusRead:
		return nil
	}
	m.Status = StatusRead
	m.UpdatedAt = now
	return nil
}

// MarkFailed records a failure reason and sets FAILED. Already FAILED is an
// idempotent no-op (the first recorded reason wins).
func (m *Message) MarkFailed(reason string, now time.Time) {
	if m.Status == StatusFailed {
		return
	}
	m.Status = StatusFailed
	m.FailureReason = reason
	m.UpdatedAt = now
}

// CanRetry reports whether a failed message is still eligible for
// resubmission: FAILED status, fewer than MaxMessageRetries attempts, and not
// yet expired.
func (m *Message) CanRetry(now time.Time) bool {
	return m.Status == StatusFailed &&
		m.RetryCount < MaxMessageRetries &&
		!m.IsExpired(now)
}

// IncrementRetryCount bumps the retry counter before a resubmission. The
// entity does not resubmit itself; the dispatch layer owns that. Returns
// ErrRetryLimitReached once the counter hit MaxMessageRetries.
func (m *Message) IncrementRetryCount(now time.Time) error {
	if m.RetryCount >= MaxMessageRetries {
		return ErrRetryLimitReached
	}
	m.RetryCount++
	m.UpdatedAt = now
	return nil
}

// IsExpired reports whether the message is older than MessageExpiry,
// independent of status.
func (m *Message) IsExpired(now time.Time) bool {
	return now.Sub(m.CreatedAt) > MessageExpiry
}

// DisplayText renders a human-readable summary of the message content for
// audit trails and agent UIs. Pure function of the entity state.
func (m *Message) DisplayText() string {
	switch m.Kind {
	case KindTemplate:
		if m.TemplateName != "" {
			return fmt.Sprintf("Template message: %s", m.TemplateName)
		}
		return "Template message"
	case KindImage:
		return mediaDisplay("Image", m.Caption)
	case KindDocument:
		return mediaDisplay("Document", m.Caption)
	case KindVideo:
		return mediaDisplay("Video", m.Caption)
	case KindAudio:
		return mediaDisplay("Audio", m.Caption)
	default:
		return m.Content
	}
}

// mediaDisplay renders "[Kind]" or "[Kind] caption".
func mediaDisplay(kind, caption string) string {
	if caption == "" {
		return "[" + kind + "]"
	}
	return "[" + kind + "] " + caption
}
