// Message HTTP handlers.
//
// This file exposes REST endpoints for outbound dispatch and message history:
//   - POST /messages                       (send an outbound message)
//   - POST /messages/{id}/retry            (resubmit a failed message)
//   - GET  /conversations/{id}/messages    (list paginated conversation history)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending an outbound message.
// Exactly one content shape applies: plain text (content), a template
// (template_name + template_params), or media (media_url + kind + optional
// caption in content).
type SendMessageRequest struct {
	Phone   string `json:"phone" binding:"required" example:"+40712345678"`
	Content string `json:"content" example:"Your order has shipped."`

	TemplateName   string   `json:"template_name,omitempty" example:"order_shipped"`
	TemplateParams []string `json:"template_params,omitempty"`

	MediaURL string `json:"media_url,omitempty" example:"https://cdn.example.com/invoice.pdf"`
	Kind     string `json:"kind,omitempty" example:"document"`

	CustomerID   string `json:"customer_id,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
}

// ListMessagesResponse contains a page of conversation messages and
// pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Handlers
//

// SendMessage dispatches an outbound message.
//
// Responses:
//   - 201 with the dispatch result on success
//   - 400 invalid_phone / validation_failed
//   - 409 conversation_closed
//   - 502 send_failed (message persisted as FAILED, retry allowed)
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "phone required")
		return
	}

	res, err := h.dispatch.SendMessage(c.Request.Context(), services.SendMessageRequest{
		Phone:          req.Phone,
		Content:        req.Content,
		TemplateName:   req.TemplateName,
		TemplateParams: req.TemplateParams,
		MediaURL:       req.MediaURL,
		Kind:           domain.ContentKind(req.Kind),
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
	})
	if err != nil {
		failDispatch(c, err)
		return
	}
	ok(c, http.StatusCreated, res)
}

// RetryMessage resubmits a failed message.
//
// Responses:
//   - 200 with the dispatch result on success
//   - 404 when the message does not exist
//   - 409 retry_not_allowed (not FAILED, limit reached, or expired)
//   - 502 send_failed
func (h *Handlers) RetryMessage(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a UUID")
		return
	}

	res, err := h.dispatch.Retry(c.Request.Context(), id)
	if err != nil {
		failDispatch(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListMessages returns a paginated page of a conversation's history,
// oldest first.
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	convID := c.Param("id")
	if _, err := uuid.Parse(convID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	// Existence check so a bogus id is a 404, not an empty page.
	if _, err := h.convs.Get(ctx, convID); err != nil {
		failConversation(c, err)
		return
	}

	page, pageSize := clampPagination(c)
	items, err := h.messages.ListByConversation(ctx, convID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	total, err := h.messages.CountByConversation(ctx, convID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginate(page, pageSize, total),
	})
}
