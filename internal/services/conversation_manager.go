// Package services – ConversationManager
//
// This file implements the stateless SLA and assignment policy. The manager
// computes derived values (SLA status, escalation score, agent suggestion)
// from a Conversation snapshot and injected thresholds; it persists nothing
// and never mutates the conversation.
package services

import (
	"time"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
)

// SLAStatus classifies how long a conversation has waited for a response
// relative to the configured threshold.
type SLAStatus string

// SLA statuses.
const (
	SLAOK       SLAStatus = "ok"
	SLAWarning  SLAStatus = "warning"
	SLABreached SLAStatus = "breached"
)

// slaWarningFactor is the fraction of the response threshold at which a
// conversation enters WARNING.
const slaWarningFactor = 0.8

// Default thresholds, overridable via configuration.
const (
	DefaultResponseThreshold = 120 * time.Minute
	DefaultIdleThreshold     = 1440 * time.Minute
)

// ConversationManager computes SLA status, escalation priority, and agent
// suggestions. Construct with NewConversationManager; zero thresholds fall
// back to the defaults.
type ConversationManager struct {
	// ResponseThreshold is how long a conversation may wait before the SLA
	// is breached.
	ResponseThreshold time.Duration
	// IdleThreshold is how long a conversation may sit without activity
	// before the external scheduler should auto-close it.
	IdleThreshold time.Duration

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewConversationManager constructs a manager with the given thresholds,
// falling back to the documented defaults when a threshold is zero.
func NewConversationManager(response, idle time.Duration) *ConversationManager {
	if response <= 0 {
		response = DefaultResponseThreshold
	}
	if idle <= 0 {
		idle = DefaultIdleThreshold
	}
	return &ConversationManager{
		ResponseThreshold: response,
		IdleThreshold:     idle,
		Now:               time.Now,
	}
}

// clockStart returns the point the SLA clock measures from: the later of the
// last message time and creation time. Conversations with no messages yet use
// creation time.
func clockStart(c *domain.Conversation) time.Time {
	if c.LastMessageAt != nil && c.LastMessageAt.After(c.CreatedAt) {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func (m *ConversationManager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// CheckSLAStatus classifies the conversation: BREACHED past the response
// threshold, WARNING past 80% of it, OK otherwise.
func (m *ConversationManager) CheckSLAStatus(c *domain.Conversation) SLAStatus {
	elapsed := m.now().Sub(clockStart(c))
	switch {
	case elapsed > m.ResponseThreshold:
		return SLABreached
	case float64(elapsed) > slaWarningFactor*float64(m.ResponseThreshold):
		return SLAWarning
	default:
		return SLAOK
	}
}

// MinutesUntilBreach returns the whole minutes left before the SLA breaches.
// The value is intentionally unclamped: negative results signal an already
// breached SLA and let callers rank overdue conversations by how overdue
// they are.
func (m *ConversationManager) MinutesUntilBreach(c *domain.Conversation) int {
	elapsed := m.now().Sub(clockStart(c))
	return int((m.ResponseThreshold - elapsed).Minutes())
}

// ShouldAutoClose reports whether the conversation has been idle past the
// idle threshold. An external scheduled job uses this to resolve or archive
// stale conversations; the manager itself transitions nothing.
func (m *ConversationManager) ShouldAutoClose(c *domain.Conversation) bool {
	return m.now().Sub(clockStart(c)) > m.IdleThreshold
}

// EscalationPriority returns a deterministic urgency score used purely for
// sorting: base priority weight (low=10, normal=20, high=30) + SLA penalty
// (breached=+100, warning=+50) + 5 per unread message. Higher is more urgent;
// the score never drives a transition.
func (m *ConversationManager) EscalationPriority(c *domain.Conversation) int {
	score := 20
	switch c.Priority {
	case domain.PriorityLow:
		score = 10
	case domain.PriorityHigh:
		score = 30
	}
	switch m.CheckSLAStatus(c) {
	case SLABreached:
		score += 100
	case SLAWarning:
		score += 50
	}
	return score + 5*c.UnreadCount
}

// SuggestAgent returns the candidate with the lowest current workload, ties
// broken by input order, and false when the candidate list is empty.
//
// This is a greedy least-loaded policy, not a fair round-robin: under
// sustained load it can starve newly added agents unless workload counts are
// decayed externally.
func (m *ConversationManager) SuggestAgent(agentIDs []string, workloads map[string]int) (string, bool) {
	if len(agentIDs) == 0 {
		return "", false
	}
	best := agentIDs[0]
	for _, id := range agentIDs[1:] {
		if workloads[id] < workloads[best] {
			best = id
		}
	}
	return best, true
}
