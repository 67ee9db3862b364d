package domain

import (
	"errors"
	"testing"
	"time"
)

func newOutbound(status MessageStatus, created time.Time) *Message {
	return &Message{
		ID:             "m1",
		ConversationID: "c1",
		Direction:      DirectionOutbound,
		Kind:           KindText,
		Status:         status,
		Content:        "hello",
		PhoneNumber:    "+40700000001",
		CreatedAt:      created,
	}
}

func TestMarkSent_SetsStatusAndExternalID(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusPending, now)

	m.MarkSent("wamid.1", now)

	if m.Status != StatusSent {
		t.Fatalf("status = %s, want sent", m.Status)
	}
	if m.WhatsAppMessageID != "wamid.1" {
		t.Fatalf("external id = %q, want wamid.1", m.WhatsAppMessageID)
	}
}

func TestMarkSent_IdempotentOnceSentOrLater(t *testing.T) {
	now := time.Now().UTC()
	for _, st := range []MessageStatus{StatusSent, StatusDelivered, StatusRead} {
		m := newOutbound(st, now)
		m.WhatsAppMessageID = "wamid.orig"

		m.MarkSent("wamid.other", now.Add(time.Minute))

		if m.Status != st {
			t.Fatalf("status changed from %s to %s", st, m.Status)
		}
		if m.WhatsAppMessageID != "wamid.orig" {
			t.Fatalf("external id overwritten: %q", m.WhatsAppMessageID)
		}
	}
}

func TestMarkSent_AllowedFromFailed(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusFailed, now)

	m.MarkSent("wamid.late", now)

	if m.Status != StatusSent || m.WhatsAppMessageID != "wamid.late" {
		t.Fatalf("late sent not applied: %+v", m)
	}
}

func TestMarkDelivered_RejectsPreSendStates(t *testing.T) {
	now := time.Now().UTC()
	for _, st := range []MessageStatus{StatusPending, StatusQueued} {
		m := newOutbound(st, now)
		if err := m.MarkDelivered(now); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("MarkDelivered from %s: err = %v, want ErrInvalidTransition", st, err)
		}
		if m.Status != st {
			t.Fatalf("entity mutated on failed transition: %s", m.Status)
		}
	}
}

func TestMarkDelivered_IdempotentAndMonotonic(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusSent, now)

	if err := m.MarkDelivered(now); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if m.Status != StatusDelivered {
		t.Fatalf("status = %s, want delivered", m.Status)
	}

	// Second call is a no-op; READ is never downgraded.
	if err := m.MarkRead(now); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := m.MarkDelivered(now); err != nil {
		t.Fatalf("MarkDelivered after read: %v", err)
	}
	if m.Status != StatusRead {
		t.Fatalf("status downgraded to %s", m.Status)
	}
}

func TestMarkRead_RejectsPreSendStates(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusQueued, now)
	if err := m.MarkRead(now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkFailed_FirstReasonWins(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusPending, now)

	m.MarkFailed("timeout", now)
	m.MarkFailed("other", now)

	if m.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", m.Status)
	}
	if m.FailureReason != "timeout" {
		t.Fatalf("reason = %q, want timeout", m.FailureReason)
	}
}

func TestCanRetry(t *testing.T) {
	now := time.Now().UTC()

	cases := []struct {
		name    string
		status  MessageStatus
		retries int
		age     time.Duration
		want    bool
	}{
		{"failed fresh", StatusFailed, 0, time.Hour, true},
		{"failed at limit", StatusFailed, MaxMessageRetries, time.Hour, false},
		{"failed expired", StatusFailed, 0, 25 * time.Hour, false},
		{"sent", StatusSent, 0, time.Hour, false},
		{"pending", StatusPending, 0, time.Hour, false},
	}
	for _, tc := range cases {
		m := newOutbound(tc.status, now.Add(-tc.age))
		m.RetryCount = tc.retries
		if got := m.CanRetry(now); got != tc.want {
			t.Fatalf("%s: CanRetry = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIncrementRetryCount_CapsAtLimit(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusFailed, now)

	for i := 0; i < MaxMessageRetries; i++ {
		if err := m.IncrementRetryCount(now); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}
	if err := m.IncrementRetryCount(now); !errors.Is(err, ErrRetryLimitReached) {
		t.Fatalf("err = %v, want ErrRetryLimitReached", err)
	}
	if m.RetryCount != MaxMessageRetries {
		t.Fatalf("retry count = %d, want %d", m.RetryCount, MaxMessageRetries)
	}
}

func TestIsExpired_IndependentOfStatus(t *testing.T) {
	now := time.Now().UTC()
	m := newOutbound(StatusRead, now.Add(-25*time.Hour))
	if !m.IsExpired(now) {
		t.Fatal("expected expired")
	}
	m2 := newOutbound(StatusFailed, now.Add(-time.Hour))
	if m2.IsExpired(now) {
		t.Fatal("expected not expired")
	}
}

func TestDisplayText(t *testing.T) {
	now := time.Now().UTC()

	m := newOutbound(StatusPending, now)
	if got := m.DisplayText(); got != "hello" {
		t.Fatalf("text display = %q", got)
	}

	m.Kind = KindTemplate
	m.TemplateName = "order_confirmed"
	if got := m.DisplayText(); got != "Template message: order_confirmed" {
		t.Fatalf("template display = %q", got)
	}

	m.Kind = KindImage
	m.Caption = "invoice"
	if got := m.DisplayText(); got != "[Image] invoice" {
		t.Fatalf("image display = %q", got)
	}

	m.Caption = ""
	m.Kind = KindDocument
	if got := m.DisplayText(); got != "[Document]" {
		t.Fatalf("document display = %q", got)
	}
}
