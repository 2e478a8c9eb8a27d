package live

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// MockDialer is an offline backend. It acknowledges setup, echoes text turns
// and answers every tenth realtime chunk with a short model turn.
type MockDialer struct{}

// NewMockDialer creates a mock dialer
func NewMockDialer() *MockDialer {
	return &MockDialer{}
}

// Dial implements repositories.LiveDialer
func (d *MockDialer) Dial(ctx context.Context, setup repositories.LiveSetup) (repositories.LiveConn, error) {
	if setup.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	c := &mockConn{
		events: make(chan repositories.LiveEvent, eventBuffer),
		audio:  setup.ResponseModality == "" || setup.ResponseModality == "audio",
	}
	c.emit(repositories.LiveEvent{Type: repositories.EventOpen})
	c.emit(repositories.LiveEvent{Type: repositories.EventSetupComplete})
	return c, nil
}

type mockConn struct {
	mu     sync.Mutex
	events chan repositories.LiveEvent
	closed bool
	audio  bool
	chunks atomic.Uint64
}

func (c *mockConn) SendRealtimeInput(ctx context.Context, chunks []domain.MediaChunk) error {
	if c.isClosed() {
		return fmt.Errorf("connection closed")
	}
	for range chunks {
		if c.chunks.Add(1)%10 == 0 {
			c.reply("I can see and hear you.")
		}
	}
	return nil
}

func (c *mockConn) SendText(ctx context.Context, text string) error {
	if c.isClosed() {
		return fmt.Errorf("connection closed")
	}
	c.emit(repositories.LiveEvent{Type: repositories.EventLog, LogType: "client.send", LogMessage: text})
	c.reply(fmt.Sprintf("You said: %q", text))
	return nil
}

func (c *mockConn) Events() <-chan repositories.LiveEvent {
	return c.events
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	select {
	case c.events <- repositories.LiveEvent{Type: repositories.EventClose, CloseCode: 1000, CloseReason: "client closed"}:
	default:
	}
	close(c.events)
	return nil
}

func (c *mockConn) reply(text string) {
	if c.audio {
		// 100ms of silence at 24kHz
		c.emit(repositories.LiveEvent{Type: repositories.EventAudio, Audio: make([]byte, 4800)})
	}
	c.emit(repositories.LiveEvent{Type: repositories.EventContent, Parts: []repositories.ContentPart{{Text: text}}})
	c.emit(repositories.LiveEvent{Type: repositories.EventTurnComplete})
}

func (c *mockConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *mockConn) emit(ev repositories.LiveEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		// slow consumer; the mock drops rather than block the sender
	}
}
