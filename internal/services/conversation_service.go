// Package services – ConversationService
//
// This file implements the agent-facing workflow: assignment, resolution,
// reopening, archival, read marking, tags, priority, listing/search, and the
// SLA-driven sweeps invoked by the external scheduler. Entity guards do the
// actual state-machine enforcement; this service orchestrates lookups,
// persistence, and the ConversationManager policy.
package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ordermesh/go-whatsapp-backend/internal/cache"
	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// SLAReport is the derived SLA view of one conversation.
type SLAReport struct {
	ConversationID     string    `json:"conversation_id"`
	Status             SLAStatus `json:"status"`
	MinutesUntilBreach int       `json:"minutes_until_breach"`
	EscalationScore    int       `json:"escalation_score"`
}

// EscalationEntry pairs a conversation with its urgency score for ranking.
type EscalationEntry struct {
	Conversation domain.Conversation `json:"conversation"`
	Score        int                 `json:"score"`
}

// ConversationService coordinates conversation workflow operations.
type ConversationService struct {
	Conversations ConversationStore
	Manager       *ConversationManager
	Cache         cache.ConversationCache

	Log zerolog.Logger

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *ConversationService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// get loads a conversation or maps the miss to ErrConversationNotFound.
func (s *ConversationService) get(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.Conversations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return conv, nil
}

// Get returns one conversation by id.
func (s *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.get(ctx, id)
}

// Assign hands the conversation to the given agent. When agentID is empty and
// candidates are provided, the least-loaded candidate is chosen.
func (s *ConversationService) Assign(ctx context.Context, id, agentID string, candidates []string, workloads map[string]int) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if agentID == "" {
		suggested, ok := s.Manager.SuggestAgent(candidates, workloads)
		if !ok {
			return nil, errors.New("no agent available for assignment")
		}
		agentID = suggested
	}
	if err := conv.Assign(agentID, s.now()); err != nil {
		return nil, err
	}
	return conv, s.Conversations.Save(ctx, conv)
}

// Resolve closes the conversation.
func (s *ConversationService) Resolve(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := conv.Resolve(s.now()); err != nil {
		return nil, err
	}
	return conv, s.Conversations.Save(ctx, conv)
}

// Reopen transitions a resolved conversation back to OPEN (no-op otherwise).
func (s *ConversationService) Reopen(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Reopen(s.now())
	return conv, s.Conversations.Save(ctx, conv)
}

// Archive retires a resolved conversation and drops its cache entry so the
// phone number maps to a fresh conversation on next contact.
func (s *ConversationService) Archive(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := conv.Archive(s.now()); err != nil {
		return nil, err
	}
	if err := s.Conversations.Save(ctx, conv); err != nil {
		return nil, err
	}
	if s.Cache != nil {
		_ = s.Cache.Invalidate(ctx, conv.PhoneNumber)
	}
	return conv, nil
}

// MarkRead zeroes the unread counter.
func (s *ConversationService) MarkRead(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.MarkRead(s.now())
	return conv, s.Conversations.Save(ctx, conv)
}

// AddTag adds a tag; persisting is skipped when the set did not change.
func (s *ConversationService) AddTag(ctx context.Context, id, tag string) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.AddTag(tag, s.now()) {
		return conv, nil
	}
	return conv, s.Conversations.Save(ctx, conv)
}

// RemoveTag removes a tag; persisting is skipped when the set did not change.
func (s *ConversationService) RemoveTag(ctx context.Context, id, tag string) (*domain.Conversation, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.RemoveTag(tag, s.now()) {
		return conv, nil
	}
	return conv, s.Conversations.Save(ctx, conv)
}

// SetPriority updates the priority; persisting is skipped for no-op changes.
func (s *ConversationService) SetPriority(ctx context.Context, id string, p domain.ConversationPriority) (*domain.Conversation, error) {
	switch p {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		return nil, ErrValidationFailed
	}
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conv.SetPriority(p, s.now()) {
		return conv, nil
	}
	return conv, s.Conversations.Save(ctx, conv)
}

// List returns a filtered page of conversations and the unpaginated total.
func (s *ConversationService) List(ctx context.Context, f ConversationFilter) ([]domain.Conversation, int64, error) {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.Conversations.List(ctx, f)
}

// Search matches conversations by customer name or phone substring.
func (s *ConversationService) Search(ctx context.Context, q string, offset, limit int) ([]domain.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.Conversations.Search(ctx, q, offset, limit)
}

// SLA returns the derived SLA view of one conversation.
func (s *ConversationService) SLA(ctx context.Context, id string) (*SLAReport, error) {
	conv, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SLAReport{
		ConversationID:     conv.ID,
		Status:             s.Manager.CheckSLAStatus(conv),
		MinutesUntilBreach: s.Manager.MinutesUntilBreach(conv),
		EscalationScore:    s.Manager.EscalationPriority(conv),
	}, nil
}

// Escalations returns active conversations ranked by escalation score,
// most urgent first. The score is a sorting aid only.
func (s *ConversationService) Escalations(ctx context.Context, limit int) ([]EscalationEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	convs, err := s.Conversations.ListActive(ctx, 0, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]EscalationEntry, 0, len(convs))
	for i := range convs {
		entries = append(entries, EscalationEntry{
			Conversation: convs[i],
			Score:        s.Manager.EscalationPriority(&convs[i]),
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })
	return entries, nil
}

// AutoCloseIdle resolves active conversations idle past the manager's
// threshold. Invoked by the external scheduler; returns how many were closed.
func (s *ConversationService) AutoCloseIdle(ctx context.Context, batch int) (int, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "AutoCloseIdle")
	defer span.End()

	if batch <= 0 {
		batch = 100
	}
	convs, err := s.Conversations.ListActive(ctx, 0, batch)
	if err != nil {
		return 0, err
	}
	closed := 0
	for i := range convs {
		conv := &convs[i]
		if !s.Manager.ShouldAutoClose(conv) {
			continue
		}
		if err := conv.Resolve(s.now()); err != nil {
			continue
		}
		if err := s.Conversations.Save(ctx, conv); err != nil {
			s.Log.Error().Err(err).Str("conversation_id", conv.ID).Msg("auto-close save failed")
			continue
		}
		closed++
	}
	span.SetAttributes(attribute.Int("conversations.closed", closed))
	return closed, nil
}

// ArchiveResolvedBefore archives conversations resolved and untouched since
// the cutoff. Invoked by the external scheduler; returns how many were
// archived.
func (s *ConversationService) ArchiveResolvedBefore(ctx context.Context, cutoff time.Time, batch int) (int, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ArchiveResolvedBefore",
		trace.WithAttributes(attribute.String("cutoff", cutoff.Format(time.RFC3339))),
	)
	defer span.End()

	if batch <= 0 {
		batch = 100
	}
	convs, err := s.Conversations.ListResolvedBefore(ctx, cutoff, batch)
	if err != nil {
		return 0, err
	}
	archived := 0
	for i := range convs {
		conv := &convs[i]
		if err := conv.Archive(s.now()); err != nil {
			continue
		}
		if err := s.Conversations.Save(ctx, conv); err != nil {
			s.Log.Error().Err(err).Str("conversation_id", conv.ID).Msg("archive save failed")
			continue
		}
		if s.Cache != nil {
			_ = s.Cache.Invalidate(ctx, conv.PhoneNumber)
		}
		archived++
	}
	span.SetAttributes(attribute.Int("conversations.archived", archived))
	return archived, nil
}
