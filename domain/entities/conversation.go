package entities

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationStatus represents the status of a live conversation
type ConversationStatus string

const (
	ConversationStatusActive ConversationStatus = "active"
	ConversationStatusEnded  ConversationStatus = "ended"
	ConversationStatusFailed ConversationStatus = "failed"
)

// EntryRole represents who produced a transcript entry
type EntryRole string

const (
	EntryRoleUser   EntryRole = "user"
	EntryRoleModel  EntryRole = "model"
	EntryRoleSystem EntryRole = "system"
)

// TranscriptEntry is a single line of a conversation transcript
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Role      EntryRole `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
}

// ConversationMetadata contains conversation-level settings
type ConversationMetadata struct {
	Model      string `json:"model" bson:"model"`
	Voice      string `json:"voice,omitempty" bson:"voice,omitempty"`
	Modality   string `json:"modality" bson:"modality"`
	Transport  string `json:"transport" bson:"transport"`
	CloseCode  int    `json:"close_code,omitempty" bson:"close_code,omitempty"`
	FailReason string `json:"fail_reason,omitempty" bson:"fail_reason,omitempty"`
}

// Conversation is the record of one connect-to-disconnect live session
type Conversation struct {
	ID        string               `json:"id" bson:"_id"`
	StartedAt time.Time            `json:"started_at" bson:"started_at"`
	EndedAt   *time.Time           `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Status    ConversationStatus   `json:"status" bson:"status"`
	Entries   []TranscriptEntry    `json:"entries" bson:"entries"`
	Metadata  ConversationMetadata `json:"metadata" bson:"metadata"`
}

// NewConversation creates an active conversation
func NewConversation(metadata ConversationMetadata) *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Status:    ConversationStatusActive,
		Entries:   make([]TranscriptEntry, 0),
		Metadata:  metadata,
	}
}

// AddEntry appends a transcript entry. Blank content is ignored.
func (c *Conversation) AddEntry(role EntryRole, content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	c.Entries = append(c.Entries, TranscriptEntry{
		Timestamp: time.Now(),
		Role:      role,
		Content:   content,
	})
	return true
}

// End marks the conversation as finished
func (c *Conversation) End(status ConversationStatus) {
	now := time.Now()
	c.EndedAt = &now
	c.Status = status
}

// IsActive reports whether the conversation is still running
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

// Duration returns how long the conversation lasted so far
func (c *Conversation) Duration() time.Duration {
	if c.EndedAt != nil {
		return c.EndedAt.Sub(c.StartedAt)
	}
	return time.Since(c.StartedAt)
}

// Validate validates the conversation data
func (c *Conversation) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}

	switch c.Status {
	case ConversationStatusActive, ConversationStatusEnded, ConversationStatusFailed:
	default:
		return errors.New("invalid conversation status")
	}

	return nil
}
