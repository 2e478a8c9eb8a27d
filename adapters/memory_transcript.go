package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
)

// MemoryTranscriptRepository keeps conversations in process memory. It is
// used when no MongoDB URI is configured.
type MemoryTranscriptRepository struct {
	mu            sync.RWMutex
	conversations map[string]*entities.Conversation
}

// NewMemoryTranscriptRepository creates an empty in-memory repository
func NewMemoryTranscriptRepository() *MemoryTranscriptRepository {
	return &MemoryTranscriptRepository{
		conversations: make(map[string]*entities.Conversation),
	}
}

// Create implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conversation.ID]; exists {
		return fmt.Errorf("conversation %s already exists", conversation.ID)
	}
	m.conversations[conversation.ID] = clone(conversation)
	return nil
}

// AppendEntry implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) AppendEntry(ctx context.Context, conversationID string, entry entities.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conversation, exists := m.conversations[conversationID]
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrConversationNotFound)
	}
	conversation.Entries = append(conversation.Entries, entry)
	return nil
}

// Update implements repositories.TranscriptRepository. Entries are left as stored.
func (m *MemoryTranscriptRepository) Update(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, exists := m.conversations[conversation.ID]
	if !exists {
		return fmt.Errorf("conversation %s: %w", conversation.ID, domain.ErrConversationNotFound)
	}
	existing.Status = conversation.Status
	existing.Metadata = conversation.Metadata
	if conversation.EndedAt != nil {
		endedAt := *conversation.EndedAt
		existing.EndedAt = &endedAt
	}
	return nil
}

// GetByID implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conversation, exists := m.conversations[id]
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrConversationNotFound)
	}
	return clone(conversation), nil
}

// ListRecent implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) ListRecent(ctx context.Context, limit int) ([]*entities.Conversation, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	m.mu.RLock()
	result := make([]*entities.Conversation, 0, len(m.conversations))
	for _, c := range m.conversations {
		result = append(result, clone(c))
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.After(result[j].StartedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// clone returns a copy that shares nothing mutable with c
func clone(c *entities.Conversation) *entities.Conversation {
	cp := *c
	cp.Entries = append([]entities.TranscriptEntry(nil), c.Entries...)
	if c.EndedAt != nil {
		endedAt := *c.EndedAt
		cp.EndedAt = &endedAt
	}
	return &cp
}
