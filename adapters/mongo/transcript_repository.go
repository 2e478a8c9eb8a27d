package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

const conversationsCollection = "conversations"

// TranscriptRepository stores conversations in MongoDB
type TranscriptRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewTranscriptRepository creates the repository and its indexes
func NewTranscriptRepository(ctx context.Context, db *mongo.Database, logger *zap.Logger) (repositories.TranscriptRepository, error) {
	collection := db.Collection(conversationsCollection)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation indexes: %w", err)
	}
	logger.Info("Conversation indexes created")

	return &TranscriptRepository{
		collection: collection,
		logger:     logger,
	}, nil
}

// Create implements repositories.TranscriptRepository
func (r *TranscriptRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if err := conversation.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, conversation); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// AppendEntry implements repositories.TranscriptRepository
func (r *TranscriptRepository) AppendEntry(ctx context.Context, conversationID string, entry entities.TranscriptEntry) error {
	if conversationID == "" {
		return errors.New("conversation ID cannot be empty")
	}

	result, err := r.collection.UpdateByID(ctx, conversationID, bson.M{
		"$push": bson.M{"entries": entry},
	})
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, domain.ErrConversationNotFound)
	}
	return nil
}

// Update implements repositories.TranscriptRepository. Entries are owned
// by AppendEntry and are not rewritten.
func (r *TranscriptRepository) Update(ctx context.Context, conversation *entities.Conversation) error {
	if conversation == nil {
		return errors.New("conversation cannot be nil")
	}
	if conversation.ID == "" {
		return errors.New("conversation ID cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"status":   conversation.Status,
			"ended_at": conversation.EndedAt,
			"metadata": conversation.Metadata,
		},
	}

	result, err := r.collection.UpdateByID(ctx, conversation.ID, update)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", conversation.ID, domain.ErrConversationNotFound)
	}
	return nil
}

// GetByID implements repositories.TranscriptRepository
func (r *TranscriptRepository) GetByID(ctx context.Context, id string) (*entities.Conversation, error) {
	if id == "" {
		return nil, errors.New("conversation ID cannot be empty")
	}

	var conversation entities.Conversation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&conversation)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrConversationNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
	}
	return &conversation, nil
}

// ListRecent implements repositories.TranscriptRepository
func (r *TranscriptRepository) ListRecent(ctx context.Context, limit int) ([]*entities.Conversation, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*entities.Conversation, 0, limit)
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}
