// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the Conversation store.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
)

// ConversationRepo is the GORM-backed implementation of the Conversation
// store port.
type ConversationRepo struct {
	DB *gorm.DB
}

// Save upserts a conversation by primary key.
func (r *ConversationRepo) Save(ctx context.Context, c *domain.Conversation) error {
	return translateError(r.DB.WithContext(ctx).Save(c).Error)
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, translateError(err)
	}
	return &c, nil
}

// FindByPhone returns the most recently created conversation for a phone
// number. When historical duplicates exist, the newest row is the canonical
// one.
func (r *ConversationRepo) FindByPhone(ctx context.Context, phone string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := r.DB.WithContext(ctx).
		Where("phone_number = ?", phone).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &c, nil
}

// ListActive returns a page of open/assigned conversations, most recent
// activity first.
func (r *ConversationRepo) ListActive(ctx context.Context, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := r.DB.WithContext(ctx).
		Where("status IN ?", []domain.ConversationStatus{domain.ConversationOpen, domain.ConversationAssigned}).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// List returns a filtered page of conversations and the unpaginated total.
func (r *ConversationRepo) List(ctx context.Context, f services.ConversationFilter) ([]domain.Conversation, int64, error) {
	q := r.DB.WithContext(ctx).Model(&domain.Conversation{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.AgentID != "" {
		q = q.Where("assigned_agent_id = ?", f.AgentID)
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.Tag != "" {
		// Tags are stored as a JSON array; match the quoted element.
		q = q.Where(`tag_list LIKE ?`, `%"`+f.Tag+`"%`)
	}
	if f.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		q = q.Where("created_at <= ?", *f.CreatedTo)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translateError(err)
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	var out []domain.Conversation
	err := q.Order("updated_at DESC").
		Offset(f.Offset).
		Limit(f.Limit).
		Find(&out).Error
	return out, total, translateError(err)
}

// Search matches conversations by customer-name or phone substring.
func (r *ConversationRepo) Search(ctx context.Context, q string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	pat := "%" + q + "%"
	err := r.DB.WithContext(ctx).
		Where("phone_number LIKE ? OR customer_name LIKE ?", pat, pat).
		Order("updated_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// ListResolvedBefore returns conversations resolved and untouched since the
// cutoff, oldest first, for archival sweeps.
func (r *ConversationRepo) ListResolvedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := r.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.ConversationResolved, cutoff).
		Order("updated_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, translateError(err)
}

// Delete removes a conversation (retention sweeps only; soft delete via GORM).
func (r *ConversationRepo) Delete(ctx context.Context, id string) error {
	return translateError(r.DB.WithContext(ctx).Delete(&domain.Conversation{}, "id = ?", id).Error)
}
