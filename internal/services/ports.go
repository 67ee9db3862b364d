// Package services implements the business logic of the messaging engine:
// webhook ingestion, outbound dispatch, agent workflow, SLA policy, and
// business-event formatting.
//
// This file defines the port contracts the orchestrators depend on. Concrete
// implementations (GORM repositories, the WhatsApp Cloud API client) are wired
// in by the composition root; services never reach for globals.
package services

import (
	"context"
	"time"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// MessageStore persists Message entities.
//
// Implementations translate backend failures into domain.ErrNotFound /
// domain.ErrDuplicateKey where applicable.
type MessageStore interface {
	// Save upserts a message by id.
	Save(ctx context.Context, m *domain.Message) error

	// Get fetches a message by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Message, error)

	// ListByConversation returns a page of messages for a conversation,
	// ascending by creation time.
	ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]domain.Message, error)

	// CountByConversation returns the message total for pagination.
	CountByConversation(ctx context.Context, conversationID string) (int64, error)

	// ListByPhone returns a page of messages exchanged with a phone number,
	// ascending by creation time.
	ListByPhone(ctx context.Context, phone string, offset, limit int) ([]domain.Message, error)

	// FindByExternalID resolves the message carrying the provider-assigned id,
	// or domain.ErrNotFound. Status callbacks rely on this being an indexed
	// lookup, not a scan over a bounded pending window.
	FindByExternalID(ctx context.Context, externalID string) (*domain.Message, error)

	// ListPending returns up to limit messages still awaiting a send attempt.
	ListPending(ctx context.Context, limit int) ([]domain.Message, error)

	// Delete removes a message (retention sweeps only).
	Delete(ctx context.Context, id string) error
}

// ConversationFilter selects conversations for List. Zero values mean "any".
type ConversationFilter struct {
	Status      domain.ConversationStatus
	Priority    domain.ConversationPriority
	AgentID     string
	CustomerID  string
	Tag         string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Offset      int
	Limit       int
}

// ConversationStore persists Conversation aggregates.
type ConversationStore interface {
	// Save upserts a conversation by id. Creating a second active conversation
	// for a phone that already has one may surface domain.ErrDuplicateKey;
	// callers recover by re-reading with FindByPhone.
	Save(ctx context.Context, c *domain.Conversation) error

	// Get fetches a conversation by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Conversation, error)

	// FindByPhone returns the most recently created conversation for the
	// phone number, or domain.ErrNotFound.
	FindByPhone(ctx context.Context, phone string) (*domain.Conversation, error)

	// ListActive returns a page of open/assigned conversations, most recent
	// activity first.
	ListActive(ctx context.Context, offset, limit int) ([]domain.Conversation, error)

	// List returns a filtered page and the unpaginated total.
	List(ctx context.Context, f ConversationFilter) ([]domain.Conversation, int64, error)

	// Search matches customer name or phone number by substring.
	Search(ctx context.Context, q string, offset, limit int) ([]domain.Conversation, error)

	// ListResolvedBefore returns conversations resolved and untouched since
	// cutoff, for archival sweeps.
	ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error)

	// Delete removes a conversation (retention sweeps only).
	Delete(ctx context.Context, id string) error
}

// WebhookEventStore persists WebhookEvent records.
type WebhookEventStore interface {
	// Create inserts a new event. The insert is conditional on the idempotency
	// key being absent and must be atomic: a concurrent duplicate insert is
	// rejected with domain.ErrDuplicateKey by the store, never silently
	// accepted twice. This is the contract webhook dedup rests on.
	Create(ctx context.Context, e *domain.WebhookEvent) error

	// Get fetches an event by id, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.WebhookEvent, error)

	// FindByKey fetches an event by idempotency key, or domain.ErrNotFound.
	FindByKey(ctx context.Context, key string) (*domain.WebhookEvent, error)

	// Update persists the processed/failed outcome recorded on the entity.
	Update(ctx context.Context, e *domain.WebhookEvent) error

	// ListUnprocessed returns up to limit events that have not completed,
	// for the out-of-band reconciliation job.
	ListUnprocessed(ctx context.Context, limit int) ([]domain.WebhookEvent, error)

	// Delete removes an event (retention sweeps only).
	Delete(ctx context.Context, id string) error
}

// SendResult is the provider's answer to an accepted outbound send.
type SendResult struct {
	// ExternalID is the provider-assigned message id.
	ExternalID string
	// Status is the provider's coarse accept status (e.g. "accepted").
	Status string
}

// Sender is the outbound send port. Implementations return the typed failures
// defined by the provider adapter (rate-limited, send-error, unavailable);
// the dispatch orchestrator treats any of them as a send failure.
type Sender interface {
	SendText(ctx context.Context, to, body string) (*SendResult, error)
	SendTemplate(ctx context.Context, to, name string, params []string) (*SendResult, error)
	SendMedia(ctx context.Context, to string, kind domain.ContentKind, mediaURL, caption string) (*SendResult, error)
}
