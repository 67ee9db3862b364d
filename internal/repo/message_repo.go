// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the Message store.
//
// Error semantics:
//   - When a message is not found, methods return domain.ErrNotFound.
//   - On other DB errors (constraint violations, connectivity issues, etc.),
//     the translated error is propagated.
//
// The repository follows the "thin store" approach: no business logic, only
// CRUD persistence and query composition. State transitions happen on the
// entity; Save persists whatever the entity currently holds.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// MessageRepo is the GORM-backed implementation of the Message store port.
type MessageRepo struct {
	DB *gorm.DB
}

// Save upserts a message by primary key.
func (r *MessageRepo) Save(ctx context.Context, m *domain.Message) error {
	return translateError(r.DB.WithContext(ctx).Save(m).Error)
}

// Get fetches a message by id.
func (r *MessageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	var m domain.Message
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, translateError(err)
	}
	return &m, nil
}

// ListByConversation returns a page of messages for a conversation, ascending
// by creation time (id breaks ties for a stable order).
func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := r.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// CountByConversation returns the message total for pagination metadata.
func (r *MessageRepo) CountByConversation(ctx context.Context, conversationID string) (int64, error) {
	var total int64
	err := r.DB.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, translateError(err)
}

// ListByPhone returns a page of messages exchanged with a phone number,
// ascending by creation time.
func (r *MessageRepo) ListByPhone(ctx context.Context, phone string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := r.DB.WithContext(ctx).
		Where("phone_number = ?", phone).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// FindByExternalID resolves the message carrying a provider-assigned id. The
// column is indexed; status callbacks depend on this lookup staying O(log n).
func (r *MessageRepo) FindByExternalID(ctx context.Context, externalID string) (*domain.Message, error) {
	if externalID == "" {
		return nil, domain.ErrNotFound
	}
	var m domain.Message
	err := r.DB.WithContext(ctx).
		Where("whatsapp_message_id = ?", externalID).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &m, nil
}

// ListPending returns up to limit messages still awaiting a send attempt,
// oldest first.
func (r *MessageRepo) ListPending(ctx context.Context, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := r.DB.WithContext(ctx).
		Where("status IN ?", []domain.MessageStatus{domain.StatusPending, domain.StatusQueued}).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// Delete removes a message (retention sweeps only; soft delete via GORM).
func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	return translateError(r.DB.WithContext(ctx).Delete(&domain.Message{}, "id = ?", id).Error)
}
