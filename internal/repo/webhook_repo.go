// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the WebhookEvent store.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// WebhookEventRepo is the GORM-backed implementation of the WebhookEvent
// store port. Create relies on the unique index on idempotency_key to make
// deduplication a single atomic insert.
type WebhookEventRepo struct {
	DB *gorm.DB
}

// Create inserts a new event. When another event already holds the same
// idempotency key, domain.ErrDuplicateKey is returned and nothing is written.
func (r *WebhookEventRepo) Create(ctx context.Context, e *domain.WebhookEvent) error {
	return translateError(r.DB.WithContext(ctx).Create(e).Error)
}

// Get fetches an event by id.
func (r *WebhookEventRepo) Get(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, translateError(err)
	}
	return &e, nil
}

// FindByKey resolves the event that owns an idempotency key.
func (r *WebhookEventRepo) FindByKey(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	if err := r.DB.WithContext(ctx).Where("idempotency_key = ?", key).First(&e).Error; err != nil {
		return nil, translateError(err)
	}
	return &e, nil
}

// Update persists processing outcome fields set on the entity.
func (r *WebhookEventRepo) Update(ctx context.Context, e *domain.WebhookEvent) error {
	return translateError(r.DB.WithContext(ctx).Save(e).Error)
}

// ListUnprocessed returns up to limit events still awaiting (or having
// failed) processing, oldest first, for replay tooling.
func (r *WebhookEventRepo) ListUnprocessed(ctx context.Context, limit int) ([]domain.WebhookEvent, error) {
	var out []domain.WebhookEvent
	err := r.DB.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// Delete removes an event (retention sweeps only; soft delete via GORM).
func (r *WebhookEventRepo) Delete(ctx context.Context, id string) error {
	return translateError(r.DB.WithContext(ctx).Delete(&domain.WebhookEvent{}, "id = ?", id).Error)
}
