// Webhook HTTP handler.
//
// This file exposes the provider callback endpoint:
//   - POST /webhooks/whatsapp
//
// The endpoint acknowledges every well-formed delivery with HTTP 200, even
// when processing fails: the provider redelivers on non-2xx, and redelivering
// a payload that deterministically fails would only burn the retry budget.
// Failed events are recorded and reconciled out of band.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
)

// WebhookRequest is the JSON payload of a provider callback delivery.
type WebhookRequest struct {
	// Type classifies the callback (message_received, message_status,
	// template_status). Unknown values are recorded and acknowledged.
	Type string `json:"type" binding:"required"`

	// IdempotencyKey deduplicates redeliveries. Falls back to the
	// X-Idempotency-Key header when absent from the body.
	IdempotencyKey string `json:"idempotency_key"`

	// Payload is the provider's event body, kept opaque at this layer.
	Payload json.RawMessage `json:"payload"`
}

// ReceiveWebhook ingests one provider callback.
//
// Responses:
//   - 200 {event_id, status} for processed, duplicate, and failed outcomes
//   - 400 for malformed JSON or a missing idempotency key
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	var req WebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
	}

	res, err := h.webhooks.Process(c.Request.Context(), domain.WebhookEventType(req.Type), req.Payload, key)
	if err != nil {
		if errors.Is(err, services.ErrValidationFailed) {
			fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "idempotency key required")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	ok(c, http.StatusOK, res)
}
