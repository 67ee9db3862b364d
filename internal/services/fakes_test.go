package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// ----- In-memory port fakes -----
//
// The fakes copy entities on Save/Get so tests observe only what was actually
// persisted, mirroring a real store.

type memMessages struct {
	byID    map[string]domain.Message
	saveErr error
}

func newMemMessages() *memMessages {
	return &memMessages{byID: map[string]domain.Message{}}
}

func (s *memMessages) Save(_ context.Context, m *domain.Message) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.byID[m.ID] = *m
	return nil
}

func (s *memMessages) Get(_ context.Context, id string) (*domain.Message, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := m
	return &cp, nil
}

func (s *memMessages) ListByConversation(_ context.Context, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range s.byID {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, offset, limit), nil
}

func (s *memMessages) CountByConversation(_ context.Context, conversationID string) (int64, error) {
	var n int64
	for _, m := range s.byID {
		if m.ConversationID == conversationID {
			n++
		}
	}
	return n, nil
}

func (s *memMessages) ListByPhone(_ context.Context, phone string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range s.byID {
		if m.PhoneNumber == phone {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, offset, limit), nil
}

func (s *memMessages) FindByExternalID(_ context.Context, externalID string) (*domain.Message, error) {
	for _, m := range s.byID {
		if m.WhatsAppMessageID == externalID && externalID != "" {
			cp := m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memMessages) ListPending(_ context.Context, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, m := range s.byID {
		if m.Status == domain.StatusPending || m.Status == domain.StatusQueued {
			out = append(out, m)
		}
	}
	return page(out, 0, limit), nil
}

func (s *memMessages) Delete(_ context.Context, id string) error {
	delete(s.byID, id)
	return nil
}

type memConversations struct {
	byID    map[string]domain.Conversation
	saveErr error
	// dupOnCreate makes the first insert of an unseen id fail with
	// ErrDuplicateKey once, simulating a concurrent first contact.
	dupOnCreate bool
}

func newMemConversations() *memConversations {
	return &memConversations{byID: map[string]domain.Conversation{}}
}

func (s *memConversations) Save(_ context.Context, c *domain.Conversation) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	if _, exists := s.byID[c.ID]; !exists && s.dupOnCreate {
		s.dupOnCreate = false
		return domain.ErrDuplicateKey
	}
	s.byID[c.ID] = *c
	return nil
}

func (s *memConversations) Get(_ context.Context, id string) (*domain.Conversation, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (s *memConversations) FindByPhone(_ context.Context, phone string) (*domain.Conversation, error) {
	var best *domain.Conversation
	for id := range s.byID {
		c := s.byID[id]
		if c.PhoneNumber != phone {
			continue
		}
		if best == nil || c.CreatedAt.After(best.CreatedAt) {
			cp := c
			best = &cp
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}

func (s *memConversations) ListActive(_ context.Context, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, c := range s.byID {
		if c.IsActive() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return page(out, offset, limit), nil
}

func (s *memConversations) List(_ context.Context, f ConversationFilter) ([]domain.Conversation, int64, error) {
	var out []domain.Conversation
	for _, c := range s.byID {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Priority != "" && c.Priority != f.Priority {
			continue
		}
		if f.AgentID != "" && c.AssignedAgentID != f.AgentID {
			continue
		}
		out = append(out, c)
	}
	total := int64(len(out))
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return page(out, f.Offset, f.Limit), total, nil
}

func (s *memConversations) Search(_ context.Context, q string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, c := range s.byID {
		if strings.Contains(c.PhoneNumber, q) || strings.Contains(strings.ToLower(c.CustomerName), strings.ToLower(q)) {
			out = append(out, c)
		}
	}
	return page(out, offset, limit), nil
}

func (s *memConversations) ListResolvedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, c := range s.byID {
		if c.Status == domain.ConversationResolved && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	return page(out, 0, limit), nil
}

func (s *memConversations) Delete(_ context.Context, id string) error {
	delete(s.byID, id)
	return nil
}

type memEvents struct {
	byKey map[string]domain.WebhookEvent
}

func newMemEvents() *memEvents {
	return &memEvents{byKey: map[string]domain.WebhookEvent{}}
}

func (s *memEvents) Create(_ context.Context, e *domain.WebhookEvent) error {
	if _, exists := s.byKey[e.IdempotencyKey]; exists {
		return domain.ErrDuplicateKey
	}
	s.byKey[e.IdempotencyKey] = *e
	return nil
}

func (s *memEvents) Get(_ context.Context, id string) (*domain.WebhookEvent, error) {
	for _, e := range s.byKey {
		if e.ID == id {
			cp := e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memEvents) FindByKey(_ context.Context, key string) (*domain.WebhookEvent, error) {
	e, ok := s.byKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := e
	return &cp, nil
}

func (s *memEvents) Update(_ context.Context, e *domain.WebhookEvent) error {
	s.byKey[e.IdempotencyKey] = *e
	return nil
}

func (s *memEvents) ListUnprocessed(_ context.Context, limit int) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	for _, e := range s.byKey {
		if !e.Processed() {
			out = append(out, e)
		}
	}
	return page(out, 0, limit), nil
}

func (s *memEvents) Delete(_ context.Context, id string) error {
	for k, e := range s.byKey {
		if e.ID == id {
			delete(s.byKey, k)
		}
	}
	return nil
}

// fakeSender records send calls and returns a configurable outcome.
type fakeSender struct {
	result *SendResult
	err    error

	textCalls     int
	templateCalls int
	mediaCalls    int

	lastTo, lastBody, lastTemplate string
	lastParams                     []string
	lastMediaURL, lastCaption      string
	lastKind                       domain.ContentKind
}

func (f *fakeSender) SendText(_ context.Context, to, body string) (*SendResult, error) {
	f.textCalls++
	f.lastTo, f.lastBody = to, body
	return f.result, f.err
}

func (f *fakeSender) SendTemplate(_ context.Context, to, name string, params []string) (*SendResult, error) {
	f.templateCalls++
	f.lastTo, f.lastTemplate, f.lastParams = to, name, params
	return f.result, f.err
}

func (f *fakeSender) SendMedia(_ context.Context, to string, kind domain.ContentKind, mediaURL, caption string) (*SendResult, error) {
	f.mediaCalls++
	f.lastTo, f.lastKind, f.lastMediaURL, f.lastCaption = to, kind, mediaURL, caption
	return f.result, f.err
}

func page[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
