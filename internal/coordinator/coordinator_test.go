package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

type fakeConn struct {
	mu      sync.Mutex
	sent    []domain.MediaChunk
	texts   []string
	sendErr error
	events  chan repositories.LiveEvent
	closed  atomic.Int32
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan repositories.LiveEvent, 16)}
}

func (c *fakeConn) SendRealtimeInput(ctx context.Context, chunks []domain.MediaChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, chunks...)
	return nil
}

func (c *fakeConn) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) Events() <-chan repositories.LiveEvent { return c.events }

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	c.once.Do(func() { close(c.events) })
	return nil
}

func (c *fakeConn) sentChunks() []domain.MediaChunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.MediaChunk(nil), c.sent...)
}

type fakeDialer struct {
	conn  *fakeConn
	err   error
	setup repositories.LiveSetup
}

func (d *fakeDialer) Dial(ctx context.Context, setup repositories.LiveSetup) (repositories.LiveConn, error) {
	d.setup = setup
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakePlayer struct {
	mu      sync.Mutex
	chunks  []entities.PcmChunk
	stops   atomic.Int32
	resumes atomic.Int32
}

func (p *fakePlayer) AddChunk(chunk entities.PcmChunk) {
	p.mu.Lock()
	p.chunks = append(p.chunks, chunk)
	p.mu.Unlock()
}

func (p *fakePlayer) Resume(ctx context.Context) error {
	p.resumes.Add(1)
	return nil
}

func (p *fakePlayer) Stop() { p.stops.Add(1) }

func (p *fakePlayer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

type fakeComponent struct {
	stops atomic.Int32
}

func (c *fakeComponent) Stop() error {
	c.stops.Add(1)
	return nil
}

var testSetup = repositories.LiveSetup{
	APIKey:           "test-key",
	Model:            "models/gemini-2.0-flash-exp",
	ResponseModality: "audio",
	VoiceName:        "Puck",
}

func connected(t *testing.T, handlers Handlers) (*Coordinator, *fakeConn, *fakePlayer) {
	t.Helper()
	conn := newFakeConn()
	player := &fakePlayer{}
	c := New(&fakeDialer{conn: conn}, player, handlers, zaptest.NewLogger(t), nil)
	require.NoError(t, c.Connect(context.Background(), testSetup))
	t.Cleanup(func() { c.Disconnect() })
	return c, conn, player
}

func attach(t *testing.T, c *Coordinator, name string, comp Stoppable) {
	t.Helper()
	_, release, gen, err := c.Bind(context.Background())
	require.NoError(t, err)
	defer release()
	require.NoError(t, c.Attach(gen, name, comp))
}

func TestCoordinator_Connect(t *testing.T) {
	var mu sync.Mutex
	var states []entities.TurnState
	dialer := &fakeDialer{conn: newFakeConn()}
	c := New(dialer, &fakePlayer{}, Handlers{
		OnStateChange: func(s entities.TurnState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, zaptest.NewLogger(t), nil)

	assert.Equal(t, entities.TurnDisconnected, c.State())
	require.NoError(t, c.Connect(context.Background(), testSetup))
	defer c.Disconnect()

	assert.Equal(t, entities.TurnConnected, c.State())
	assert.Equal(t, "Puck", dialer.setup.VoiceName)

	mu.Lock()
	assert.Equal(t, []entities.TurnState{entities.TurnConnecting, entities.TurnConnected}, states)
	mu.Unlock()

	err := c.Connect(context.Background(), testSetup)
	assert.True(t, domain.IsKind(err, domain.KindConnectFailed))
}

func TestCoordinator_ConnectFailures(t *testing.T) {
	tests := []struct {
		name   string
		dialer *fakeDialer
		setup  repositories.LiveSetup
	}{
		{
			name:   "missing API key",
			dialer: &fakeDialer{conn: newFakeConn()},
			setup:  repositories.LiveSetup{Model: "m"},
		},
		{
			name:   "dial error",
			dialer: &fakeDialer{err: errors.New("connection refused")},
			setup:  testSetup,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.dialer, &fakePlayer{}, Handlers{}, zaptest.NewLogger(t), nil)
			err := c.Connect(context.Background(), tt.setup)
			assert.True(t, domain.IsKind(err, domain.KindConnectFailed), "got %v", err)
			assert.Equal(t, entities.TurnDisconnected, c.State())
		})
	}
}

func TestCoordinator_SendAudioInterruptFlag(t *testing.T) {
	c, conn, _ := connected(t, Handlers{})
	ctx := context.Background()
	pcm := entities.PcmChunk{SampleRate: entities.CaptureSampleRate, Channels: 1, Data: []byte{1, 2, 3, 4}}

	require.NoError(t, c.SendAudio(ctx, pcm))

	conn.events <- repositories.LiveEvent{
		Type:  repositories.EventContent,
		Parts: []repositories.ContentPart{{FunctionCall: &repositories.FunctionCall{ID: "1", Name: "googleSearch"}}},
	}
	require.Eventually(t, func() bool { return c.State() == entities.TurnToolActive }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SendAudio(ctx, pcm))

	conn.events <- repositories.LiveEvent{Type: repositories.EventTurnComplete}
	require.Eventually(t, func() bool { return c.State() == entities.TurnConnected }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SendAudio(ctx, pcm))

	sent := conn.sentChunks()
	require.Len(t, sent, 3)
	for _, chunk := range sent {
		assert.Equal(t, domain.MimeTypeAudioPCM16k, chunk.MimeType)
		assert.Equal(t, "AQIDBA==", chunk.Data)
	}
	assert.False(t, sent[0].Interrupt)
	assert.True(t, sent[1].Interrupt)
	assert.False(t, sent[2].Interrupt)
}

func TestCoordinator_SendFrameAndText(t *testing.T) {
	c, conn, _ := connected(t, Handlers{})
	ctx := context.Background()

	require.NoError(t, c.SendFrame(ctx, entities.EncodedFrame{MimeType: domain.MimeTypeJPEG, Payload: "abcd"}))
	require.NoError(t, c.SendText(ctx, "hello"))

	sent := conn.sentChunks()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.MimeTypeJPEG, sent[0].MimeType)
	assert.Equal(t, "abcd", sent[0].Data)
	assert.Equal(t, []string{"hello"}, conn.texts)
}

func TestCoordinator_SendWhileDisconnected(t *testing.T) {
	c := New(&fakeDialer{conn: newFakeConn()}, &fakePlayer{}, Handlers{}, zaptest.NewLogger(t), nil)

	err := c.SendFrame(context.Background(), entities.EncodedFrame{MimeType: domain.MimeTypeJPEG, Payload: "abcd"})
	assert.True(t, domain.IsKind(err, domain.KindSendFailed))
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestCoordinator_SendFailureResetsConnection(t *testing.T) {
	disconnected := make(chan string, 1)
	c, conn, player := connected(t, Handlers{
		OnDisconnected: func(code int, reason string) { disconnected <- reason },
	})
	mic := &fakeComponent{}
	attach(t, c, "audio", mic)

	conn.mu.Lock()
	conn.sendErr = errors.New("broken pipe")
	conn.mu.Unlock()

	err := c.SendText(context.Background(), "hello")
	assert.True(t, domain.IsKind(err, domain.KindSendFailed))
	assert.Equal(t, entities.TurnDisconnected, c.State())

	require.Eventually(t, func() bool { return mic.stops.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return conn.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return player.stops.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, <-disconnected, "broken pipe")
}

func TestCoordinator_DisconnectCascades(t *testing.T) {
	c, conn, player := connected(t, Handlers{})
	mic, camera, screen := &fakeComponent{}, &fakeComponent{}, &fakeComponent{}
	attach(t, c, "audio", mic)
	attach(t, c, "camera", camera)
	attach(t, c, "screen", screen)
	c.Detach("screen")

	require.NoError(t, c.Disconnect())

	assert.Equal(t, entities.TurnDisconnected, c.State())
	assert.Equal(t, int32(1), conn.closed.Load())
	assert.Equal(t, int32(1), mic.stops.Load())
	assert.Equal(t, int32(1), camera.stops.Load())
	assert.Equal(t, int32(0), screen.stops.Load())
	assert.Equal(t, int32(1), player.stops.Load())

	require.NoError(t, c.Disconnect())
	assert.Equal(t, int32(1), mic.stops.Load())
}

func TestCoordinator_ServerCloseCascades(t *testing.T) {
	disconnected := make(chan int, 1)
	c, conn, _ := connected(t, Handlers{
		OnDisconnected: func(code int, reason string) { disconnected <- code },
	})
	mic := &fakeComponent{}
	attach(t, c, "audio", mic)

	conn.events <- repositories.LiveEvent{Type: repositories.EventClose, CloseCode: 1011, CloseReason: "internal"}

	select {
	case code := <-disconnected:
		assert.Equal(t, 1011, code)
	case <-time.After(time.Second):
		t.Fatal("Expected disconnect after close event")
	}
	assert.Equal(t, entities.TurnDisconnected, c.State())
	assert.Equal(t, int32(1), mic.stops.Load())
}

func TestCoordinator_InboundEvents(t *testing.T) {
	var mu sync.Mutex
	var texts, logs []string
	turns := make(chan struct{}, 1)
	c, conn, player := connected(t, Handlers{
		OnText: func(s string) {
			mu.Lock()
			texts = append(texts, s)
			mu.Unlock()
		},
		OnLog: func(typ, msg string) {
			mu.Lock()
			logs = append(logs, typ)
			mu.Unlock()
		},
		OnTurnComplete: func() { turns <- struct{}{} },
	})

	conn.events <- repositories.LiveEvent{Type: repositories.EventOpen}
	conn.events <- repositories.LiveEvent{Type: repositories.EventSetupComplete}
	conn.events <- repositories.LiveEvent{Type: repositories.EventAudio, Audio: []byte{0, 1, 0, 1}}
	conn.events <- repositories.LiveEvent{Type: repositories.EventAudio, Audio: []byte{0, 2, 0, 2}}
	conn.events <- repositories.LiveEvent{
		Type:  repositories.EventContent,
		Parts: []repositories.ContentPart{{Text: "Hello, "}, {Text: "world"}},
	}
	conn.events <- repositories.LiveEvent{Type: repositories.EventMessage, ServerError: "quota exceeded"}
	conn.events <- repositories.LiveEvent{Type: repositories.EventTurnComplete}

	select {
	case <-turns:
	case <-time.After(time.Second):
		t.Fatal("Expected turn complete")
	}

	assert.Equal(t, 2, player.count())
	assert.Equal(t, int32(2), player.resumes.Load())
	player.mu.Lock()
	assert.Equal(t, entities.PlaybackSampleRate, player.chunks[0].SampleRate)
	assert.Equal(t, []byte{0, 2, 0, 2}, player.chunks[1].Data)
	player.mu.Unlock()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"Hello, world"}, texts)
	assert.Equal(t, []string{"client.open", "server.setupcomplete", "server.error"}, logs)
	assert.Equal(t, entities.TurnConnected, c.State())
}

func TestCoordinator_InterruptedStopsPlaybackAndClearsTool(t *testing.T) {
	interrupted := make(chan struct{}, 1)
	c, conn, player := connected(t, Handlers{OnInterrupted: func() { interrupted <- struct{}{} }})

	conn.events <- repositories.LiveEvent{
		Type:  repositories.EventContent,
		Parts: []repositories.ContentPart{{FunctionCall: &repositories.FunctionCall{Name: "googleSearch"}}},
	}
	require.Eventually(t, func() bool { return c.State() == entities.TurnToolActive }, time.Second, 5*time.Millisecond)

	conn.events <- repositories.LiveEvent{Type: repositories.EventInterrupted}
	<-interrupted

	assert.Equal(t, int32(1), player.stops.Load())
	assert.Equal(t, entities.TurnConnected, c.State())
}

func TestCoordinator_FunctionResponseClearsTool(t *testing.T) {
	c, conn, _ := connected(t, Handlers{})

	conn.events <- repositories.LiveEvent{
		Type:  repositories.EventContent,
		Parts: []repositories.ContentPart{{FunctionCall: &repositories.FunctionCall{Name: "googleSearch"}}},
	}
	require.Eventually(t, func() bool { return c.State() == entities.TurnToolActive }, time.Second, 5*time.Millisecond)

	conn.events <- repositories.LiveEvent{
		Type:  repositories.EventContent,
		Parts: []repositories.ContentPart{{FunctionResponse: &repositories.FunctionResponse{Name: "googleSearch"}}},
	}
	require.Eventually(t, func() bool { return c.State() == entities.TurnConnected }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_BindWhileDisconnected(t *testing.T) {
	c := New(&fakeDialer{conn: newFakeConn()}, &fakePlayer{}, Handlers{}, zaptest.NewLogger(t), nil)

	_, _, _, err := c.Bind(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCoordinator_AttachAfterConnectionEnded(t *testing.T) {
	dialer := &fakeDialer{conn: newFakeConn()}
	c := New(dialer, &fakePlayer{}, Handlers{}, zaptest.NewLogger(t), nil)
	require.NoError(t, c.Connect(context.Background(), testSetup))

	ctx, release, gen, err := c.Bind(context.Background())
	require.NoError(t, err)
	defer release()

	// the connection ends while a component is still starting
	require.NoError(t, c.Disconnect())
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected bound context to end with the connection")
	}

	late := &fakeComponent{}
	assert.ErrorIs(t, c.Attach(gen, "audio", late), ErrNotConnected)

	// a new connection must not adopt the stale component
	dialer.conn = newFakeConn()
	require.NoError(t, c.Connect(context.Background(), testSetup))
	assert.ErrorIs(t, c.Attach(gen, "audio", late), ErrNotConnected)
	require.NoError(t, c.Disconnect())
	assert.Equal(t, int32(0), late.stops.Load())
}
