// Conversation HTTP handlers.
//
// This file exposes REST endpoints for the agent workflow:
//   - GET    /conversations                 (filtered, paginated list)
//   - GET    /conversations/search          (name/phone substring search)
//   - GET    /conversations/escalations     (active, ranked by urgency)
//   - GET    /conversations/{id}            (fetch one)
//   - GET    /conversations/{id}/sla        (derived SLA view)
//   - POST   /conversations/{id}/assign     (assign or auto-suggest an agent)
//   - POST   /conversations/{id}/resolve
//   - POST   /conversations/{id}/reopen
//   - POST   /conversations/{id}/archive
//   - POST   /conversations/{id}/read
//   - POST   /conversations/{id}/tags       (add)
//   - DELETE /conversations/{id}/tags/{tag} (remove)
//   - PUT    /conversations/{id}/priority
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
)

//
// DTOs
//

// AssignRequest selects an agent for a conversation. An empty AgentID asks
// the service to suggest the least-loaded candidate.
type AssignRequest struct {
	AgentID    string         `json:"agent_id"`
	Candidates []string       `json:"candidates,omitempty"`
	Workloads  map[string]int `json:"workloads,omitempty"`
}

// TagRequest adds a tag to a conversation.
type TagRequest struct {
	Tag string `json:"tag" binding:"required,min=1,max=64"`
}

// PriorityRequest changes a conversation's priority.
type PriorityRequest struct {
	Priority string `json:"priority" binding:"required" example:"high"`
}

// ListConversationsResponse wraps a page of conversations and pagination
// information.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

//
// Helpers
//

// conversationID validates the :id path parameter.
func conversationID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// ListConversations returns a filtered page of conversations.
//
// Filters: status, priority, agent_id, customer_id, tag, created_from,
// created_to (RFC 3339).
func (h *Handlers) ListConversations(c *gin.Context) {
	page, pageSize := clampPagination(c)
	f := services.ConversationFilter{
		Status:      domain.ConversationStatus(c.Query("status")),
		Priority:    domain.ConversationPriority(c.Query("priority")),
		AgentID:     c.Query("agent_id"),
		CustomerID:  c.Query("customer_id"),
		Tag:         c.Query("tag"),
		CreatedFrom: parseTimeParam(c, "created_from"),
		CreatedTo:   parseTimeParam(c, "created_to"),
		Offset:      (page - 1) * pageSize,
		Limit:       pageSize,
	}

	items, total, err := h.convs.List(c.Request.Context(), f)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginate(page, pageSize, total),
	})
}

// SearchConversations matches conversations by customer name or phone
// substring (q query parameter).
func (h *Handlers) SearchConversations(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	page, pageSize := clampPagination(c)

	items, err := h.convs.Search(c.Request.Context(), q, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"conversations": items})
}

// ListEscalations returns active conversations ranked by urgency score,
// most urgent first.
func (h *Handlers) ListEscalations(c *gin.Context) {
	_, pageSize := clampPagination(c)
	entries, err := h.convs.Escalations(c.Request.Context(), pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, gin.H{"escalations": entries})
}

// GetConversation fetches one conversation by id.
func (h *Handlers) GetConversation(c *gin.Context) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	conv, err := h.convs.Get(c.Request.Context(), id)
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// GetConversationSLA returns the derived SLA view of one conversation.
func (h *Handlers) GetConversationSLA(c *gin.Context) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	rep, err := h.convs.SLA(c.Request.Context(), id)
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, rep)
}

// AssignConversation hands a conversation to an agent, or picks the
// least-loaded candidate when agent_id is empty.
func (h *Handlers) AssignConversation(c *gin.Context) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" && len(req.Candidates) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "agent_id or candidates required")
		return
	}

	conv, err := h.convs.Assign(c.Request.Context(), id, req.AgentID, req.Candidates, req.Workloads)
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// ResolveConversation closes a conversation.
func (h *Handlers) ResolveConversation(c *gin.Context) {
	h.transition(c, h.convs.Resolve)
}

// ReopenConversation transitions a resolved conversation back to OPEN.
func (h *Handlers) ReopenConversation(c *gin.Context) {
	h.transition(c, h.convs.Reopen)
}

// ArchiveConversation retires a resolved conversation.
func (h *Handlers) ArchiveConversation(c *gin.Context) {
	h.transition(c, h.convs.Archive)
}

// MarkConversationRead zeroes the unread counter.
func (h *Handlers) MarkConversationRead(c *gin.Context) {
	h.transition(c, h.convs.MarkRead)
}

// AddConversationTag attaches a tag (set semantics).
func (h *Handlers) AddConversationTag(c *gin.Context) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Tag) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tag required (1-64 chars)")
		return
	}
	conv, err := h.convs.AddTag(c.Request.Context(), id, strings.TrimSpace(req.Tag))
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// RemoveConversationTag detaches a tag; removing an absent tag is a no-op.
func (h *Handlers) RemoveConversationTag(c *gin.Context) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	tag := strings.TrimSpace(c.Param("tag"))
	if tag == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "tag required")
		return
	}
	conv, err := h.convs.RemoveTag(c.Request.Context(), id, tag)
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// SetConversationPriority changes the priority (low/normal/high).
func (h *Handlers) SetConversationPriority(c *gin.Context) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	var req PriorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "priority required")
		return
	}
	conv, err := h.convs.SetPriority(c.Request.Context(), id, domain.ConversationPriority(req.Priority))
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// transition factors the id-validate / call / respond shape shared by the
// bodyless workflow endpoints.
func (h *Handlers) transition(c *gin.Context, op func(ctx context.Context, id string) (*domain.Conversation, error)) {
	id, valid := conversationID(c)
	if !valid {
		return
	}
	conv, err := op(c.Request.Context(), id)
	if err != nil {
		failConversation(c, err)
		return
	}
	ok(c, http.StatusOK, conv)
}
