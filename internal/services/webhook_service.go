// Package services – WebhookService
//
// This file implements the idempotent webhook ingestion orchestrator: the
// entry point for provider callbacks. Dedup is a single atomic conditional
// insert against the webhook-event store (unique idempotency key); a
// check-then-insert sequence would race under the provider's at-least-once
// redelivery.
//
// Observability: Process is OpenTelemetry-instrumented; spans carry the event
// type and dedup outcome.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ordermesh/go-whatsapp-backend/internal/cache"
	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// ProcessStatus is the coarse outcome reported to the HTTP layer. The webhook
// response always acknowledges receipt; failed means processing failed but the
// event was recorded and will be reconciled out of band.
type ProcessStatus string

// Webhook processing outcomes.
const (
	ProcessProcessed ProcessStatus = "processed"
	ProcessDuplicate ProcessStatus = "duplicate"
	ProcessFailed    ProcessStatus = "failed"
)

// ProcessResult is returned for every delivered webhook.
type ProcessResult struct {
	EventID string        `json:"event_id"`
	Status  ProcessStatus `json:"status"`
}

// inboundMessagePayload is the projection of a MESSAGE_RECEIVED callback. The
// payload itself stays opaque; only these fields are consumed.
type inboundMessagePayload struct {
	From        string `json:"from"`
	Text        string `json:"text"`
	MessageID   string `json:"message_id"`
	ProfileName string `json:"profile_name"`
	Type        string `json:"type"`
	MediaURL    string `json:"media_url"`
	Caption     string `json:"caption"`
}

// statusPayload is the projection of a MESSAGE_STATUS callback.
type statusPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// WebhookService processes provider callbacks with at-most-once side effects
// per idempotency key. All dependencies are injected; the service holds no
// state across invocations.
type WebhookService struct {
	Events        WebhookEventStore
	Messages      MessageStore
	Conversations ConversationStore
	Cache         cache.ConversationCache

	Log zerolog.Logger

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *WebhookService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Process records and dispatches one provider callback.
//
// The event is inserted first, conditionally on its idempotency key: when the
// key already exists the prior event wins and the call returns a duplicate
// outcome with no further side effects, even if the prior processing failed
// (failed events are reconciled by a separate job, not by redelivery). The
// returned error is non-nil only for invalid input; processing failures are
// reported through the result status so the HTTP layer still acknowledges.
func (s *WebhookService) Process(ctx context.Context, eventType domain.WebhookEventType, payload json.RawMessage, idempotencyKey string) (*ProcessResult, error) {
	tr := otel.Tracer("services/WebhookService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(attribute.String("webhook.type", string(eventType))),
	)
	defer span.End()

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required: %w", ErrValidationFailed)
	}

	now := s.now()
	ev := &domain.WebhookEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		IdempotencyKey: idempotencyKey,
		Payload:        string(payload),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.Events.Create(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			span.SetAttributes(attribute.Bool("webhook.duplicate", true))
			res := &ProcessResult{Status: ProcessDuplicate}
			if prior, ferr := s.Events.FindByKey(ctx, idempotencyKey); ferr == nil {
				res.EventID = prior.ID
			}
			return res, nil
		}
		return nil, err
	}

	if err := s.dispatch(ctx, ev); err != nil {
		ev.MarkFailed(err.Error(), s.now())
		if uerr := s.Events.Update(ctx, ev); uerr != nil {
			s.Log.Error().Err(uerr).Str("event_id", ev.ID).Msg("failed to record webhook failure")
		}
		s.Log.Warn().Err(err).
			Str("event_id", ev.ID).
			Str("event_type", string(eventType)).
			Msg("webhook processing failed")
		return &ProcessResult{EventID: ev.ID, Status: ProcessFailed}, nil
	}

	ev.MarkProcessed(s.now())
	if err := s.Events.Update(ctx, ev); err != nil {
		return nil, err
	}
	return &ProcessResult{EventID: ev.ID, Status: ProcessProcessed}, nil
}

// dispatch routes the event by type. TEMPLATE_STATUS and unrecognized types
// are recorded but produce no further side effect (forward-compatible no-op).
func (s *WebhookService) dispatch(ctx context.Context, ev *domain.WebhookEvent) error {
	switch ev.Type {
	case domain.EventMessageReceived:
		return s.handleMessageReceived(ctx, ev)
	case domain.EventMessageStatus:
		return s.handleMessageStatus(ctx, ev)
	default:
		return nil
	}
}

// handleMessageReceived attaches an inbound message to its conversation,
// creating the conversation on first contact and reopening it when the
// customer writes into a resolved thread.
func (s *WebhookService) handleMessageReceived(ctx context.Context, ev *domain.WebhookEvent) error {
	var p inboundMessagePayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode message payload: %w", err)
	}
	if p.From == "" || p.MessageID == "" {
		return fmt.Errorf("message payload missing sender or message id")
	}

	now := s.now()
	conv, err := resolveConversation(ctx, s.Conversations, s.Cache, p.From, "", p.ProfileName, now)
	if err != nil {
		return err
	}
	// Inbound traffic always reopens a resolved thread.
	if !conv.IsActive() {
		conv.Reopen(now)
	}

	kind := domain.KindText
	switch p.Type {
	case "image":
		kind = domain.KindImage
	case "document":
		kind = domain.KindDocument
	case "video":
		kind = domain.KindVideo
	case "audio":
		kind = domain.KindAudio
	case "interactive":
		kind = domain.KindInteractive
	}

	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      domain.DirectionInbound,
		Kind:           kind,
		// Receipt implies delivery for inbound messages.
		Status:            domain.StatusDelivered,
		Content:           p.Text,
		Caption:           p.Caption,
		MediaURL:          p.MediaURL,
		PhoneNumber:       p.From,
		WhatsAppMessageID: p.MessageID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Messages.Save(ctx, msg); err != nil {
		return err
	}

	conv.AddMessage(now)
	return s.Conversations.Save(ctx, conv)
}

// handleMessageStatus applies a delivery-status transition to the message
// identified by the provider's external id. An unknown external id is logged
// and discarded: the callback may refer to a message deleted by retention or
// sent outside this engine.
func (s *WebhookService) handleMessageStatus(ctx context.Context, ev *domain.WebhookEvent) error {
	var p statusPayload
	if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil {
		return fmt.Errorf("decode status payload: %w", err)
	}
	if p.MessageID == "" {
		return fmt.Errorf("status payload missing message id")
	}

	msg, err := s.Messages.FindByExternalID(ctx, p.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.Log.Warn().
				Str("whatsapp_message_id", p.MessageID).
				Str("status", p.Status).
				Msg("status callback for unknown message, discarded")
			return nil
		}
		return err
	}

	now := s.now()
	switch strings.ToLower(p.Status) {
	case "sent":
		msg.MarkSent(p.MessageID, now)
	case "delivered":
		if err := msg.MarkDelivered(now); err != nil {
			return err
		}
	case "read":
		if err := msg.MarkRead(now); err != nil {
			return err
		}
	case "failed":
		reason := p.Reason
		if reason == "" {
			reason = "provider reported failure"
		}
		msg.MarkFailed(reason, now)
	default:
		return fmt.Errorf("unknown status %q", p.Status)
	}

	return s.Messages.Save(ctx, msg)
}
