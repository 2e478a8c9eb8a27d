package repositories

import (
	"context"

	"github.com/satriahrh/geminiplay/domain/entities"
)

// TranscriptRepository defines data access methods for conversation transcripts
type TranscriptRepository interface {
	Create(ctx context.Context, conversation *entities.Conversation) error
	AppendEntry(ctx context.Context, conversationID string, entry entities.TranscriptEntry) error
	Update(ctx context.Context, conversation *entities.Conversation) error
	GetByID(ctx context.Context, id string) (*entities.Conversation, error)
	ListRecent(ctx context.Context, limit int) ([]*entities.Conversation, error)
}
