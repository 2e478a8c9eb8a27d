package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

func TestMockDialer(t *testing.T) {
	_, err := NewMockDialer().Dial(context.Background(), repositories.LiveSetup{})
	assert.Error(t, err)

	conn, err := NewMockDialer().Dial(context.Background(), repositories.LiveSetup{APIKey: "k", ResponseModality: "text"})
	require.NoError(t, err)

	assert.Equal(t, repositories.EventOpen, (<-conn.Events()).Type)
	assert.Equal(t, repositories.EventSetupComplete, (<-conn.Events()).Type)

	require.NoError(t, conn.SendText(context.Background(), "hi"))
	assert.Equal(t, repositories.EventLog, (<-conn.Events()).Type)
	content := <-conn.Events()
	assert.Equal(t, `You said: "hi"`, content.Parts[0].Text)
	assert.Equal(t, repositories.EventTurnComplete, (<-conn.Events()).Type)

	for i := 0; i < 10; i++ {
		require.NoError(t, conn.SendRealtimeInput(context.Background(), []domain.MediaChunk{{MimeType: domain.MimeTypeJPEG}}))
	}
	assert.Equal(t, repositories.EventContent, (<-conn.Events()).Type)
	assert.Equal(t, repositories.EventTurnComplete, (<-conn.Events()).Type)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.Equal(t, repositories.EventClose, (<-conn.Events()).Type)
	_, ok := <-conn.Events()
	assert.False(t, ok)
	assert.Error(t, conn.SendText(context.Background(), "late"))
}
