package mongo

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
)

// TestTranscriptRepository_Integration requires a running MongoDB instance
// (skipped if MONGODB_URI is not set)
func TestTranscriptRepository_Integration(t *testing.T) {
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		t.Skip("Skipping MongoDB integration test - MONGODB_URI not set")
	}

	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	client, err := NewClient(ctx, mongoURI, "geminiplay_test", logger)
	if err != nil {
		t.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer client.Close(ctx)
	defer client.Database().Drop(ctx)

	repo, err := NewTranscriptRepository(ctx, client.Database(), logger)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}

	t.Run("CreateAppendAndEnd", func(t *testing.T) {
		conversation := entities.NewConversation(entities.ConversationMetadata{Model: "models/test", Modality: "audio"})
		if err := repo.Create(ctx, conversation); err != nil {
			t.Fatalf("Failed to create conversation: %v", err)
		}

		entry := entities.TranscriptEntry{Timestamp: time.Now(), Role: entities.EntryRoleUser, Content: "Hi"}
		if err := repo.AppendEntry(ctx, conversation.ID, entry); err != nil {
			t.Fatalf("Failed to append entry: %v", err)
		}

		conversation.End(entities.ConversationStatusEnded)
		if err := repo.Update(ctx, conversation); err != nil {
			t.Fatalf("Failed to update conversation: %v", err)
		}

		got, err := repo.GetByID(ctx, conversation.ID)
		if err != nil {
			t.Fatalf("Failed to get conversation: %v", err)
		}
		if got.Status != entities.ConversationStatusEnded {
			t.Errorf("Expected status %s, got %s", entities.ConversationStatusEnded, got.Status)
		}
		if len(got.Entries) != 1 || got.Entries[0].Content != "Hi" {
			t.Errorf("Unexpected entries %+v", got.Entries)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if err := repo.AppendEntry(ctx, "missing", entities.TranscriptEntry{}); !errors.Is(err, domain.ErrConversationNotFound) {
			t.Errorf("Expected ErrConversationNotFound, got %v", err)
		}
	})

	t.Run("ListRecent", func(t *testing.T) {
		recent, err := repo.ListRecent(ctx, 10)
		if err != nil {
			t.Fatalf("Failed to list conversations: %v", err)
		}
		if len(recent) == 0 {
			t.Error("Expected at least one conversation")
		}
	})
}
