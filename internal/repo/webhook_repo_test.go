package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

func newEvent(key string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:             uuid.NewString(),
		Type:           domain.EventMessageReceived,
		IdempotencyKey: key,
		Payload:        `{"from":"+40712345678","text":"hi","message_id":"wamid.1"}`,
	}
}

func TestWebhookEventRepo_Create_DuplicateKeyIsAtomic(t *testing.T) {
	r := &WebhookEventRepo{DB: newTestDB(t)}
	ctx := context.Background()

	first := newEvent("wamid.1")
	if err := r.Create(ctx, first); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Same key, different row: the unique index rejects the insert and the
	// translated sentinel tells the service it lost the race.
	dup := newEvent("wamid.1")
	if err := r.Create(ctx, dup); !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("duplicate create: err = %v, want ErrDuplicateKey", err)
	}

	// The original row is untouched and resolvable by key.
	got, err := r.FindByKey(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("winner = %s, want %s", got.ID, first.ID)
	}

	// A different key inserts fine.
	if err := r.Create(ctx, newEvent("wamid.2")); err != nil {
		t.Fatalf("second key: %v", err)
	}
}

func TestWebhookEventRepo_GetAndFindByKey(t *testing.T) {
	r := &WebhookEventRepo{DB: newTestDB(t)}
	ctx := context.Background()

	e := newEvent("wamid.9")
	if err := r.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := r.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IdempotencyKey != "wamid.9" {
		t.Fatalf("key = %q", got.IdempotencyKey)
	}

	if _, err := r.Get(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing id: err = %v", err)
	}
	if _, err := r.FindByKey(ctx, "absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing key: err = %v", err)
	}
}

func TestWebhookEventRepo_Update_ProcessingOutcome(t *testing.T) {
	r := &WebhookEventRepo{DB: newTestDB(t)}
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEvent("wamid.5")
	if err := r.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	e.MarkFailed("malformed payload", now)
	if err := r.Update(ctx, e); err != nil {
		t.Fatalf("update failed outcome: %v", err)
	}
	got, _ := r.Get(ctx, e.ID)
	if got.Processed() || got.ProcessingError != "malformed payload" || got.RetryCount != 1 {
		t.Fatalf("failed outcome = %+v", got)
	}

	e.MarkProcessed(now)
	if err := r.Update(ctx, e); err != nil {
		t.Fatalf("update processed outcome: %v", err)
	}
	got, _ = r.Get(ctx, e.ID)
	if !got.Processed() || got.ProcessingError != "" {
		t.Fatalf("processed outcome = %+v", got)
	}
}

func TestWebhookEventRepo_ListUnprocessed(t *testing.T) {
	r := &WebhookEventRepo{DB: newTestDB(t)}
	ctx := context.Background()
	now := time.Now().UTC()

	pendingA := newEvent("wamid.a")
	pendingA.CreatedAt = now.Add(-2 * time.Minute)
	pendingB := newEvent("wamid.b")
	pendingB.CreatedAt = now.Add(-1 * time.Minute)
	done := newEvent("wamid.c")
	done.MarkProcessed(now)

	for _, e := range []*domain.WebhookEvent{pendingA, pendingB, done} {
		if err := r.Create(ctx, e); err != nil {
			t.Fatalf("create %s: %v", e.IdempotencyKey, err)
		}
	}

	got, err := r.ListUnprocessed(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnprocessed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unprocessed = %d, want 2", len(got))
	}
	if got[0].ID != pendingA.ID {
		t.Fatalf("first = %s, want oldest %s", got[0].ID, pendingA.ID)
	}
}
