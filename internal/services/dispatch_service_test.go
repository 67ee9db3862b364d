package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

func newDispatchService(msgs *memMessages, convs *memConversations, sender *fakeSender) *DispatchService {
	return &DispatchService{
		Messages:      msgs,
		Conversations: convs,
		Sender:        sender,
		Log:           zerolog.Nop(),
		Now:           func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) },
	}
}

func TestSendMessage_InvalidPhone_NoSideEffects(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	s := newDispatchService(msgs, convs, &fakeSender{})

	for _, phone := range []string{"", "0700123456", "+0sdf", "+1", "not-a-phone", "+4070012345678901234"} {
		_, err := s.SendMessage(context.Background(), SendMessageRequest{Phone: phone, Content: "hi"})
		if !errors.Is(err, ErrInvalidPhone) {
			t.Fatalf("phone %q: err = %v, want ErrInvalidPhone", phone, err)
		}
	}
	if len(msgs.byID) != 0 || len(convs.byID) != 0 {
		t.Fatal("no message or conversation may be created on validation failure")
	}
}

func TestSendMessage_ContentValidation(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	s := newDispatchService(msgs, convs, &fakeSender{})
	ctx := context.Background()

	if _, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "   "}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("empty content: err = %v", err)
	}

	long := make([]byte, MaxContentRunes+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: string(long)}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("oversized content: err = %v", err)
	}

	if _, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", MediaURL: "ftp://x/y.png"}); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("bad media url: err = %v", err)
	}
}

func TestSendMessage_TextSuccess(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.100", Status: "accepted"}}
	s := newDispatchService(msgs, convs, sender)

	res, err := s.SendMessage(context.Background(), SendMessageRequest{
		Phone:   "+40700000001",
		Content: "Hi",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.Status != "queued" || res.MessageID == "" || res.ConversationID == "" {
		t.Fatalf("result = %+v", res)
	}
	if sender.textCalls != 1 || sender.lastTo != "+40700000001" || sender.lastBody != "Hi" {
		t.Fatalf("sender calls = %+v", sender)
	}

	m, err := msgs.Get(context.Background(), res.MessageID)
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if m.Status != domain.StatusSent || m.WhatsAppMessageID != "wamid.100" {
		t.Fatalf("message = %+v", m)
	}
	if m.Direction != domain.DirectionOutbound || m.Kind != domain.KindText {
		t.Fatalf("message = %+v", m)
	}

	conv, _ := convs.Get(context.Background(), res.ConversationID)
	if conv.MessageCount != 1 || conv.Status != domain.ConversationOpen {
		t.Fatalf("conversation = %+v", conv)
	}
}

func TestSendMessage_SecondMessageReusesConversation(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.100"}}
	s := newDispatchService(msgs, convs, sender)
	ctx := context.Background()

	first, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "one"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	sender.result = &SendResult{ExternalID: "wamid.101"}
	second, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "two"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Fatal("second send created a new conversation")
	}
	conv, _ := convs.Get(ctx, first.ConversationID)
	if conv.MessageCount != 2 {
		t.Fatalf("message count = %d, want 2", conv.MessageCount)
	}
}

func TestSendMessage_ClosedConversationRejected(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	s := newDispatchService(msgs, convs, &fakeSender{result: &SendResult{ExternalID: "x"}})
	ctx := context.Background()

	convs.byID["c1"] = domain.Conversation{
		ID:          "c1",
		PhoneNumber: "+40700000001",
		Status:      domain.ConversationResolved,
		CreatedAt:   time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
	}

	_, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "hi"})
	if !errors.Is(err, domain.ErrConversationClosed) {
		t.Fatalf("err = %v, want ErrConversationClosed", err)
	}
	if len(msgs.byID) != 0 {
		t.Fatal("no message may be persisted for a closed conversation")
	}
}

func TestSendMessage_ProviderFailure_PersistsFailedMessage(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sendErr := errors.New("rate limited")
	s := newDispatchService(msgs, convs, &fakeSender{err: sendErr})
	ctx := context.Background()

	_, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "hi"})
	if !errors.Is(err, ErrSendFailed) {
		t.Fatalf("err = %v, want ErrSendFailed", err)
	}
	if !errors.Is(err, sendErr) {
		t.Fatalf("provider error lost from chain: %v", err)
	}

	// The message exists and records the failure even though the send failed.
	if len(msgs.byID) != 1 {
		t.Fatalf("message count = %d, want 1", len(msgs.byID))
	}
	for _, m := range msgs.byID {
		if m.Status != domain.StatusFailed || m.FailureReason == "" {
			t.Fatalf("message = %+v", m)
		}
	}

	// The failed send does not count as conversation traffic.
	conv, _ := convs.FindByPhone(ctx, "+40700000001")
	if conv.MessageCount != 0 {
		t.Fatalf("message count = %d, want 0", conv.MessageCount)
	}
}

func TestSendMessage_TemplateAndMediaVariants(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.1"}}
	s := newDispatchService(msgs, convs, sender)
	ctx := context.Background()

	_, err := s.SendMessage(ctx, SendMessageRequest{
		Phone:          "+40700000001",
		TemplateName:   "order_confirmed",
		TemplateParams: []string{"Ana", "ORD-1"},
	})
	if err != nil {
		t.Fatalf("template send: %v", err)
	}
	if sender.templateCalls != 1 || sender.lastTemplate != "order_confirmed" {
		t.Fatalf("sender = %+v", sender)
	}

	_, err = s.SendMessage(ctx, SendMessageRequest{
		Phone:    "+40700000001",
		Content:  "your invoice",
		MediaURL: "https://files.example.com/invoice.pdf",
		Kind:     domain.KindDocument,
	})
	if err != nil {
		t.Fatalf("media send: %v", err)
	}
	if sender.mediaCalls != 1 || sender.lastKind != domain.KindDocument || sender.lastCaption != "your invoice" {
		t.Fatalf("sender = %+v", sender)
	}
}

func TestSendMessage_RecoversFromConcurrentCreate(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.1"}}
	s := newDispatchService(msgs, convs, sender)
	ctx := context.Background()

	// Simulate a concurrent first contact: the insert conflicts once and the
	// winning row is already visible on re-read.
	convs.dupOnCreate = true
	convs.byID["winner"] = domain.Conversation{
		ID:          "winner",
		PhoneNumber: "+40700000001",
		Status:      domain.ConversationOpen,
		CreatedAt:   time.Date(2026, 8, 28, 11, 59, 0, 0, time.UTC),
	}

	res, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.ConversationID != "winner" {
		t.Fatalf("conversation = %q, want winner", res.ConversationID)
	}
}

func TestRetry(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.2"}}
	s := newDispatchService(msgs, convs, sender)
	ctx := context.Background()

	created := time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)
	msgs.byID["m1"] = domain.Message{
		ID:            "m1",
		Direction:     domain.DirectionOutbound,
		Kind:          domain.KindText,
		Status:        domain.StatusFailed,
		Content:       "hi again",
		PhoneNumber:   "+40700000001",
		FailureReason: "timeout",
		CreatedAt:     created,
	}

	res, err := s.Retry(ctx, "m1")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if res.Status != "queued" {
		t.Fatalf("result = %+v", res)
	}

	m, _ := msgs.Get(ctx, "m1")
	if m.Status != domain.StatusSent || m.RetryCount != 1 || m.WhatsAppMessageID != "wamid.2" {
		t.Fatalf("message = %+v", m)
	}
}

func TestRetry_NotEligible(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	s := newDispatchService(msgs, convs, &fakeSender{})
	ctx := context.Background()

	if _, err := s.Retry(ctx, "missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("missing: err = %v", err)
	}

	// Sent message is not retryable.
	msgs.byID["m1"] = domain.Message{ID: "m1", Status: domain.StatusSent, CreatedAt: time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)}
	if _, err := s.Retry(ctx, "m1"); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("sent: err = %v", err)
	}

	// Expired failed message is not retryable.
	msgs.byID["m2"] = domain.Message{ID: "m2", Status: domain.StatusFailed, CreatedAt: time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC)}
	if _, err := s.Retry(ctx, "m2"); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("expired: err = %v", err)
	}

	// Retry limit exhausted.
	msgs.byID["m3"] = domain.Message{ID: "m3", Status: domain.StatusFailed, RetryCount: domain.MaxMessageRetries, CreatedAt: time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC)}
	if _, err := s.Retry(ctx, "m3"); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("limit: err = %v", err)
	}
}

func TestResolvedThenInboundThenSendSucceeds(t *testing.T) {
	// End-to-end admission scenario: outbound to a resolved conversation
	// fails, an inbound webhook reopens it, and the next outbound succeeds.
	msgs, convs, evs := newMemMessages(), newMemConversations(), newMemEvents()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.out"}}
	disp := newDispatchService(msgs, convs, sender)
	hook := newWebhookService(msgs, convs, evs)
	ctx := context.Background()

	convs.byID["c1"] = domain.Conversation{
		ID:          "c1",
		PhoneNumber: "+40700000001",
		Status:      domain.ConversationResolved,
		CreatedAt:   time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
	}

	if _, err := disp.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "hi"}); !errors.Is(err, domain.ErrConversationClosed) {
		t.Fatalf("send to resolved: err = %v", err)
	}

	payload := []byte(`{"from":"+40700000001","text":"hello again","message_id":"wamid.in"}`)
	if res, err := hook.Process(ctx, domain.EventMessageReceived, payload, "wamid.in"); err != nil || res.Status != ProcessProcessed {
		t.Fatalf("webhook: res = %+v, err = %v", res, err)
	}

	res, err := disp.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "welcome back"})
	if err != nil {
		t.Fatalf("send after reopen: %v", err)
	}
	conv, _ := convs.Get(ctx, res.ConversationID)
	if conv.ID != "c1" || conv.MessageCount != 2 {
		t.Fatalf("conversation = %+v", conv)
	}
}

func TestSendMessage_ArchivedPhone_GetsFreshConversation(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.9"}}
	s := newDispatchService(msgs, convs, sender)
	ctx := context.Background()

	convs.byID["c1"] = domain.Conversation{
		ID:          "c1",
		PhoneNumber: "+40700000001",
		Status:      domain.ConversationArchived,
		CreatedAt:   time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	res, err := s.SendMessage(ctx, SendMessageRequest{Phone: "+40700000001", Content: "hello again"})
	if err != nil {
		t.Fatalf("send to phone with archived history: %v", err)
	}
	if res.ConversationID == "c1" {
		t.Fatal("message attached to the archived conversation")
	}

	conv, _ := convs.Get(ctx, res.ConversationID)
	if conv.Status != domain.ConversationOpen || conv.MessageCount != 1 {
		t.Fatalf("conversation = %+v", conv)
	}
	old, _ := convs.Get(ctx, "c1")
	if old.Status != domain.ConversationArchived || old.MessageCount != 0 {
		t.Fatalf("archived conversation mutated: %+v", old)
	}
}

func TestRetry_TemplateReplaysPersistedParams(t *testing.T) {
	msgs, convs := newMemMessages(), newMemConversations()
	sender := &fakeSender{result: &SendResult{ExternalID: "wamid.t2"}}
	s := newDispatchService(msgs, convs, sender)
	ctx := context.Background()

	msgs.byID["m1"] = domain.Message{
		ID:             "m1",
		Direction:      domain.DirectionOutbound,
		Kind:           domain.KindTemplate,
		Status:         domain.StatusFailed,
		TemplateName:   "order_shipped",
		TemplateParams: []string{"ORD-77", "Ana"},
		PhoneNumber:    "+40700000001",
		FailureReason:  "timeout",
		CreatedAt:      time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC),
	}

	if _, err := s.Retry(ctx, "m1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if sender.templateCalls != 1 || sender.lastTemplate != "order_shipped" {
		t.Fatalf("template calls = %d, name = %q", sender.templateCalls, sender.lastTemplate)
	}
	if len(sender.lastParams) != 2 || sender.lastParams[0] != "ORD-77" || sender.lastParams[1] != "Ana" {
		t.Fatalf("params = %v, want the originally persisted ones", sender.lastParams)
	}
}
