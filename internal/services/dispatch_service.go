// Package services – DispatchService
//
// This file implements the outbound send orchestrator. The message row is
// persisted PENDING before the provider call so a record exists even when the
// send fails; the provider outcome is then applied as a SENT or FAILED
// transition. Inline retries are deliberately absent: Retry is a separate,
// explicit operation bounded by the entity's retry policy.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ordermesh/go-whatsapp-backend/internal/cache"
	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// MaxContentRunes is the provider's ceiling on outbound text length.
const MaxContentRunes = 4096

// phoneRE matches the provider's expected E.164 numbering format.
var phoneRE = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// SendMessageRequest is the input of SendMessage. Template and media sends
// substitute their own required fields; whatever text is present (content or
// caption) is validated against the same length ceiling.
type SendMessageRequest struct {
	Phone   string
	Content string

	TemplateName   string
	TemplateParams []string

	MediaURL string
	// Kind selects the media kind for media sends (image/document/video/
	// audio); ignored for text and template sends.
	Kind domain.ContentKind

	// Optional ERP references attached to a newly created conversation.
	CustomerID   string
	CustomerName string
}

// SendMessageResult reports the outcome of an accepted send. Status is coarse
// ("queued"); the true delivery status arrives later via status webhooks.
type SendMessageResult struct {
	MessageID      string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	Status         string          `json:"status"`
	Timestamp      time.Time       `json:"timestamp"`
	Message        *domain.Message `json:"-"`
}

// DispatchService validates outbound requests, resolves the conversation, and
// drives the message through persist → send → apply-result.
type DispatchService struct {
	Messages      MessageStore
	Conversations ConversationStore
	Sender        Sender
	Cache         cache.ConversationCache

	Log zerolog.Logger

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *DispatchService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// SendMessage validates the request, creates/reuses the conversation, persists
// the message PENDING, invokes the send port, and applies the result.
//
// Closed conversations never accept outbound traffic through this path; an
// explicit reopen (or inbound traffic) must happen first.
func (s *DispatchService) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResult, error) {
	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "SendMessage")
	defer span.End()

	req.Phone = strings.TrimSpace(req.Phone)
	if !phoneRE.MatchString(req.Phone) {
		return nil, fmt.Errorf("phone %q: %w", req.Phone, ErrInvalidPhone)
	}

	kind, err := validateContent(&req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("message.kind", string(kind)))

	now := s.now()
	conv, err := resolveConversation(ctx, s.Conversations, s.Cache, req.Phone, req.CustomerID, req.CustomerName, now)
	if err != nil {
		return nil, err
	}
	if !conv.IsActive() {
		return nil, fmt.Errorf("conversation %s is %s: %w", conv.ID, conv.Status, domain.ErrConversationClosed)
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionOutbound,
		Kind:           kind,
		Status:         domain.StatusPending,
		Content:        req.Content,
		TemplateName:   req.TemplateName,
		TemplateParams: req.TemplateParams,
		Caption:        req.Content,
		MediaURL:       req.MediaURL,
		PhoneNumber:    req.Phone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if kind != domain.KindImage && kind != domain.KindDocument && kind != domain.KindVideo && kind != domain.KindAudio {
		msg.Caption = ""
	}
	if err := s.Messages.Save(ctx, msg); err != nil {
		return nil, err
	}

	res, sendErr := s.send(ctx, msg)
	if sendErr != nil {
		msg.MarkFailed(sendErr.Error(), s.now())
		if err := s.Messages.Save(ctx, msg); err != nil {
			s.Log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to persist send failure")
		}
		return nil, errors.Join(ErrSendFailed, sendErr)
	}

	msg.MarkSent(res.ExternalID, s.now())
	if err := s.Messages.Save(ctx, msg); err != nil {
		return nil, err
	}

	conv.AddMessage(msg.UpdatedAt)
	if err := s.Conversations.Save(ctx, conv); err != nil {
		return nil, err
	}

	return &SendMessageResult{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Status:         "queued",
		Timestamp:      msg.UpdatedAt,
		Message:        msg,
	}, nil
}

// Retry resubmits a failed message through the send port. Eligibility is the
// entity's retry policy: FAILED status, under the retry limit, not expired.
// The counter is bumped and persisted before the resubmission.
func (s *DispatchService) Retry(ctx context.Context, messageID string) (*SendMessageResult, error) {
	tr := otel.Tracer("services/DispatchService")
	ctx, span := tr.Start(ctx, "Retry",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer span.End()

	msg, err := s.Messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}

	now := s.now()
	if !msg.CanRetry(now) {
		return nil, fmt.Errorf("message %s (status %s, retries %d): %w",
			msg.ID, msg.Status, msg.RetryCount, ErrRetryNotAllowed)
	}
	if err := msg.IncrementRetryCount(now); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetryNotAllowed, err)
	}
	if err := s.Messages.Save(ctx, msg); err != nil {
		return nil, err
	}

	res, sendErr := s.send(ctx, msg)
	if sendErr != nil {
		// Already FAILED; persist only the bumped counter timestamps.
		if err := s.Messages.Save(ctx, msg); err != nil {
			s.Log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to persist retry failure")
		}
		return nil, errors.Join(ErrSendFailed, sendErr)
	}

	msg.MarkSent(res.ExternalID, s.now())
	if err := s.Messages.Save(ctx, msg); err != nil {
		return nil, err
	}
	return &SendMessageResult{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		Status:         "queued",
		Timestamp:      msg.UpdatedAt,
		Message:        msg,
	}, nil
}

// send invokes the matching send-port variant for the message kind. Template
// parameters come from the persisted message, so retries replay the original
// rendering.
func (s *DispatchService) send(ctx context.Context, m *domain.Message) (*SendResult, error) {
	switch m.Kind {
	case domain.KindTemplate:
		return s.Sender.SendTemplate(ctx, m.PhoneNumber, m.TemplateName, m.TemplateParams)
	case domain.KindImage, domain.KindDocument, domain.KindVideo, domain.KindAudio:
		return s.Sender.SendMedia(ctx, m.PhoneNumber, m.Kind, m.MediaURL, m.Caption)
	default:
		return s.Sender.SendText(ctx, m.PhoneNumber, m.Content)
	}
}

// validateContent normalizes the request, decides the content kind, and
// enforces the provider's content rules.
func validateContent(req *SendMessageRequest) (domain.ContentKind, error) {
	req.Content = strings.TrimSpace(req.Content)
	if utf8.RuneCountInString(req.Content) > MaxContentRunes {
		return "", fmt.Errorf("content exceeds %d runes: %w", MaxContentRunes, ErrValidationFailed)
	}

	switch {
	case req.TemplateName != "":
		return domain.KindTemplate, nil

	case req.MediaURL != "":
		u, err := url.Parse(req.MediaURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("media url %q: %w", req.MediaURL, ErrValidationFailed)
		}
		switch req.Kind {
		case domain.KindDocument, domain.KindVideo, domain.KindAudio:
			return req.Kind, nil
		default:
			return domain.KindImage, nil
		}

	default:
		if req.Content == "" {
			return "", fmt.Errorf("content is empty: %w", ErrValidationFailed)
		}
		return domain.KindText, nil
	}
}

// resolveConversation returns the canonical conversation for a phone number,
// creating one (OPEN) on first contact. An ARCHIVED newest conversation is
// retired for good and counts as absent: the phone maps to a fresh
// conversation, never back onto the archived row. A duplicate-key conflict
// from a concurrent first contact is recovered by re-reading. The cache is a
// best effort accelerator; its errors are never surfaced.
func resolveConversation(ctx context.Context, store ConversationStore, cc cache.ConversationCache, phone, customerID, customerName string, now time.Time) (*domain.Conversation, error) {
	if cc != nil {
		if id, err := cc.GetConversationID(ctx, phone); err == nil && id != "" {
			if conv, gerr := store.Get(ctx, id); gerr == nil && conv.Status != domain.ConversationArchived {
				return conv, nil
			}
			_ = cc.Invalidate(ctx, phone)
		}
	}

	conv, err := store.FindByPhone(ctx, phone)
	if err == nil && conv.Status != domain.ConversationArchived {
		if cc != nil {
			_ = cc.StoreConversationID(ctx, phone, conv.ID)
		}
		return conv, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	conv = &domain.Conversation{
		ID:           uuid.NewString(),
		PhoneNumber:  phone,
		CustomerID:   customerID,
		CustomerName: customerName,
		Status:       domain.ConversationOpen,
		Priority:     domain.PriorityNormal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := store.Save(ctx, conv); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return store.FindByPhone(ctx, phone)
		}
		return nil, err
	}
	if cc != nil {
		_ = cc.StoreConversationID(ctx, phone, conv.ID)
	}
	return conv, nil
}
