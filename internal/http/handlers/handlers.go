// Handler wiring and shared service contracts.
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. All business rules (state
// machines, SLA policy, idempotent ingestion) live in the services layer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
	"github.com/ordermesh/go-whatsapp-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// WebhookProcessor ingests provider callbacks with at-most-once side effects.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type WebhookProcessor interface {
	// Process records and dispatches one callback, deduplicated by key.
	Process(ctx context.Context, eventType domain.WebhookEventType, payload json.RawMessage, idempotencyKey string) (*services.ProcessResult, error)
}

// MessageDispatcher sends outbound messages and retries failed ones.
type MessageDispatcher interface {
	// SendMessage validates, persists, and sends an outbound message.
	SendMessage(ctx context.Context, req services.SendMessageRequest) (*services.SendMessageResult, error)
	// Retry resubmits a failed message within the retry policy.
	Retry(ctx context.Context, messageID string) (*services.SendMessageResult, error)
}

// MessageReader exposes the message queries the HTTP layer needs.
type MessageReader interface {
	// ListByConversation returns a page of messages, oldest first.
	ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]domain.Message, error)
	// CountByConversation returns the message total for pagination.
	CountByConversation(ctx context.Context, conversationID string) (int64, error)
}

// ConversationWorkflow drives the agent-facing conversation operations.
type ConversationWorkflow interface {
	Get(ctx context.Context, id string) (*domain.Conversation, error)
	Assign(ctx context.Context, id, agentID string, candidates []string, workloads map[string]int) (*domain.Conversation, error)
	Resolve(ctx context.Context, id string) (*domain.Conversation, error)
	Reopen(ctx context.Context, id string) (*domain.Conversation, error)
	Archive(ctx context.Context, id string) (*domain.Conversation, error)
	MarkRead(ctx context.Context, id string) (*domain.Conversation, error)
	AddTag(ctx context.Context, id, tag string) (*domain.Conversation, error)
	RemoveTag(ctx context.Context, id, tag string) (*domain.Conversation, error)
	SetPriority(ctx context.Context, id string, p domain.ConversationPriority) (*domain.Conversation, error)
	List(ctx context.Context, f services.ConversationFilter) ([]domain.Conversation, int64, error)
	Search(ctx context.Context, q string, offset, limit int) ([]domain.Conversation, error)
	SLA(ctx context.Context, id string) (*services.SLAReport, error)
	Escalations(ctx context.Context, limit int) ([]services.EscalationEntry, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for webhooks, messages, and conversations.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	webhooks WebhookProcessor
	dispatch MessageDispatcher
	messages MessageReader
	convs    ConversationWorkflow
}

// New constructs and returns a Handlers instance bound to the given services.
func New(webhooks WebhookProcessor, dispatch MessageDispatcher, messages MessageReader, convs ConversationWorkflow) *Handlers {
	return &Handlers{webhooks: webhooks, dispatch: dispatch, messages: messages, convs: convs}
}

//
// Shared DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// paginate derives the metadata for a page of total items.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// parseTimeParam reads an optional RFC 3339 query parameter.
func parseTimeParam(c *gin.Context, name string) *time.Time {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

// failDispatch translates dispatch-service errors into HTTP responses.
func failDispatch(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidPhone):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPhone, "phone must be E.164, e.g. +40712345678")
	case errors.Is(err, services.ErrValidationFailed):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, domain.ErrConversationClosed):
		fail(c, http.StatusConflict, ErrCodeConversationClosed, "conversation does not accept new messages")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case errors.Is(err, services.ErrRetryNotAllowed):
		fail(c, http.StatusConflict, ErrCodeRetryNotAllowed, err.Error())
	case errors.Is(err, services.ErrSendFailed):
		fail(c, http.StatusBadGateway, ErrCodeSendFailed, "provider rejected the message; retry later")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// failConversation translates workflow errors into HTTP responses.
func failConversation(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, domain.ErrConversationClosed):
		fail(c, http.StatusConflict, ErrCodeConversationClosed, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrValidationFailed):
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
