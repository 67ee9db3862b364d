// Package cache provides a best-effort lookup accelerator mapping customer
// phone numbers to their canonical conversation id. The store remains the
// source of truth: a miss or a cache error always falls through to the store,
// and entries are invalidated when a conversation is archived.
package cache

import (
	"context"
	"errors"
)

// ErrMiss is returned when the phone number has no cached conversation id.
var ErrMiss = errors.New("cache miss")

// ConversationCache maps phone numbers to conversation ids.
type ConversationCache interface {
	// GetConversationID returns the cached id, or ErrMiss.
	GetConversationID(ctx context.Context, phone string) (string, error)

	// StoreConversationID records the mapping with the configured TTL.
	StoreConversationID(ctx context.Context, phone, conversationID string) error

	// Invalidate drops the mapping; absent keys are a no-op.
	Invalidate(ctx context.Context, phone string) error
}

// Noop satisfies ConversationCache without caching anything. Used when no
// Redis address is configured.
type Noop struct{}

// GetConversationID always misses.
func (Noop) GetConversationID(context.Context, string) (string, error) { return "", ErrMiss }

// StoreConversationID discards the mapping.
func (Noop) StoreConversationID(context.Context, string, string) error { return nil }

// Invalidate is a no-op.
func (Noop) Invalidate(context.Context, string) error { return nil }
