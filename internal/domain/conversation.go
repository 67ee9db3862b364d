package domain

import (
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
)

// ConversationStatus is the workflow state of a conversation.
// OPEN (initial) → ASSIGNED → RESOLVED → ARCHIVED; RESOLVED is reachable
// directly from OPEN or ASSIGNED, and a RESOLVED conversation can be reopened.
type ConversationStatus string

// Conversation statuses.
const (
	ConversationOpen     ConversationStatus = "open"
	ConversationAssigned ConversationStatus = "assigned"
	ConversationResolved ConversationStatus = "resolved"
	ConversationArchived ConversationStatus = "archived"
)

// ConversationPriority ranks conversations for agent attention.
type ConversationPriority string

// Conversation priorities.
const (
	PriorityLow    ConversationPriority = "low"
	PriorityNormal ConversationPriority = "normal"
	PriorityHigh   ConversationPriority = "high"
)

// Conversation represents the ongoing thread with one customer phone number.
// It aggregates message counters, agent assignment, tags, and priority.
// The phone number is the stable natural key used for lookups; when duplicate
// rows exist for one phone, lookup-by-phone returns the most recently created.
//
// Invariant: UnreadCount ≤ MessageCount, both non-negative.
type Conversation struct {
	ID          string `json:"id"           gorm:"type:char(36);primaryKey"`
	PhoneNumber string `json:"phone_number" gorm:"type:varchar(20);not null;index:idx_conv_phone"`

	// CustomerID / CustomerName are optional ERP references resolved from the
	// phone number or supplied by the caller.
	CustomerID   string `json:"customer_id,omitempty"   gorm:"type:char(36);index"`
	CustomerName string `json:"customer_name,omitempty" gorm:"type:varchar(255)"`

	Status          ConversationStatus   `json:"status"                      gorm:"type:varchar(16);not null;index;check:status IN ('open','assigned','resolved','archived')"`
	AssignedAgentID string               `json:"assigned_agent_id,omitempty" gorm:"type:varchar(64);index"`
	Priority        ConversationPriority `json:"priority"                    gorm:"type:varchar(8);not null;default:'normal'"`

	MessageCount int `json:"message_count" gorm:"not null;default:0"`
	UnreadCount  int `json:"unread_count"  gorm:"not null;default:0"`

	// TagList is the persisted tag set (unique, unordered). Access through
	// Tags/AddTag/RemoveTag; the field is exported only for GORM.
	TagList []string `json:"-" gorm:"serializer:json"`

	LastMessageAt *time.Time     `json:"last_message_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index:idx_conv_phone,priority:2"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// IsActive reports whether the conversation may receive new messages. This is
// the admission check used by both orchestrators: true iff OPEN or ASSIGNED.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationOpen || c.Status == ConversationAssigned
}

// Assign hands the conversation to an agent. Re-assignment to a different
// agent while ASSIGNED is permitted; closed conversations reject assignment
// with ErrConversationClosed.
func (c *Conversation) Assign(agentID string, now time.Time) error {
	if c.Status == ConversationResolved || c.Status == ConversationArchived {
		return fmt.Errorf("assign %s conversation: %w", c.Status, ErrConversationClosed)
	}
	c.Status = ConversationAssigned
	c.AssignedAgentID = agentID
	c.UpdatedAt = now
	return nil
}

// Resolve closes the conversation from any non-archived state.
func (c *Conversation) Resolve(now time.Time) error {
	if c.Status == ConversationArchived {
		return fmt.Errorf("resolve archived conversation: %w", ErrConversationClosed)
	}
	c.Status = ConversationResolved
	c.UpdatedAt = now
	return nil
}

// Reopen transitions RESOLVED → OPEN. Any other state is an idempotent no-op;
// inbound traffic calls this unconditionally.
func (c *Conversation) Reopen(now time.Time) {
	if c.Status != ConversationResolved {
		return
	}
	c.Status = ConversationOpen
	c.UpdatedAt = now
}

// Archive retires a conversation. Archival requires prior resolution; any
// other state fails with ErrInvalidTransition.
func (c *Conversation) Archive(now time.Time) error {
	if c.Status != ConversationResolved {
		return fmt.Errorf("archive %s conversation: %w", c.Status, ErrInvalidTransition)
	}
	c.Status = ConversationArchived
	c.UpdatedAt = now
	return nil
}

// AddMessage accounts for one persisted message: bumps the message and unread
// counters and refreshes the last-message timestamp. Called exactly once per
// message by the orchestrator that persisted it.
func (c *Conversation) AddMessage(now time.Time) {
	c.MessageCount++
	c.UnreadCount++
	c.LastMessageAt = &now
	c.UpdatedAt = now
}

// MarkRead zeroes the unread counter. Idempotent.
func (c *Conversation) MarkRead(now time.Time) {
	if c.UnreadCount == 0 {
		return
	}
	c.UnreadCount = 0
	c.UpdatedAt = now
}

// Tags returns a copy of the tag set. Callers must not rely on order and
// cannot mutate the conversation through the returned slice.
func (c *Conversation) Tags() []string {
	return slices.Clone(c.TagList)
}

// HasTag reports whether the tag is present.
func (c *Conversation) HasTag(tag string) bool {
	return slices.Contains(c.TagList, tag)
}

// AddTag inserts a tag with set semantics. Returns true when the set changed;
// the updated timestamp is only refreshed on actual change.
func (c *Conversation) AddTag(tag string, now time.Time) bool {
	if tag == "" || slices.Contains(c.TagList, tag) {
		return false
	}
	c.TagList = append(c.TagList, tag)
	c.UpdatedAt = now
	return true
}

// RemoveTag removes a tag; removing an absent tag is a no-op. Returns true
// when the set changed.
func (c *Conversation) RemoveTag(tag string, now time.Time) bool {
	i := slices.Index(c.TagList, tag)
	if i < 0 {
		return false
	}
	c.TagList = slices.Delete(c.TagList, i, i+1)
	c.UpdatedAt = now
	return true
}

// SetPriority updates the priority, skipping the write when the value is
// unchanged. Returns true when the priority changed.
func (c *Conversation) SetPriority(p ConversationPriority, now time.Time) bool {
	if c.Priority == p {
		return false
	}
	c.Priority = p
	c.UpdatedAt = now
	return true
}
