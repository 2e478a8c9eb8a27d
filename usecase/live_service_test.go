package usecase

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/geminiplay/adapters"
	"github.com/satriahrh/geminiplay/adapters/devices"
	"github.com/satriahrh/geminiplay/adapters/live"
	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/config"
	"github.com/satriahrh/geminiplay/internal/playback"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

type fakeMic struct {
	mu      sync.Mutex
	handler func([]byte)
	closed  int
}

func (m *fakeMic) Open(ctx context.Context, format repositories.AudioFormat, handler func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler != nil {
		return domain.ErrDeviceBusy
	}
	m.handler = handler
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler != nil {
		m.closed++
	}
	m.handler = nil
	return nil
}

func (m *fakeMic) push(pcm []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(pcm)
	}
}

func (m *fakeMic) open() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// stuckMic blocks in Open until released, ignoring ctx
type stuckMic struct {
	fakeMic
	entered chan struct{}
	gate    chan struct{}
}

func newStuckMic() *stuckMic {
	return &stuckMic{entered: make(chan struct{}), gate: make(chan struct{})}
}

func (m *stuckMic) Open(ctx context.Context, format repositories.AudioFormat, handler func([]byte)) error {
	close(m.entered)
	<-m.gate
	return m.fakeMic.Open(ctx, format, handler)
}

type fakeSpeaker struct{}

func (fakeSpeaker) Write(ctx context.Context, pcm []byte) error { return nil }
func (fakeSpeaker) Flush()                                      {}
func (fakeSpeaker) Resume(ctx context.Context) error            { return nil }
func (fakeSpeaker) Suspended() bool                             { return false }
func (fakeSpeaker) Close() error                                { return nil }

type recordingPublisher struct {
	mu            sync.Mutex
	notifications []entities.Notification
}

func (p *recordingPublisher) Publish(ctx context.Context, n entities.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
	return nil
}

func (p *recordingPublisher) has(typ entities.NotificationType, message string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.notifications {
		if n.Type == typ && n.Message == message {
			return true
		}
	}
	return false
}

type fixture struct {
	service     *LiveService
	mic         *fakeMic
	transcripts *adapters.MemoryTranscriptRepository
	publisher   *recordingPublisher
}

func testConfig(platform string) *config.Config {
	return &config.Config{
		Gemini: config.GeminiConfig{
			APIKey:           "test-key",
			Model:            "models/test",
			Transport:        config.TransportMock,
			VoiceName:        "Puck",
			ResponseModality: "text",
		},
		Capture: config.CaptureConfig{
			Screen: entities.DefaultScreenOptions(),
			Camera: entities.DefaultCameraOptions(),
		},
		Devices: config.DeviceConfig{Platform: platform},
	}
}

func newFixture(t *testing.T, cfg *config.Config, mutate func(*Dependencies)) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	metrics := telemetry.NewMetrics()

	f := &fixture{
		mic:         &fakeMic{},
		transcripts: adapters.NewMemoryTranscriptRepository(),
		publisher:   &recordingPublisher{},
	}
	deps := Dependencies{
		Dialer:      live.NewMockDialer(),
		Microphone:  f.mic,
		Streamer:    playback.NewStreamer(fakeSpeaker{}, logger, metrics),
		Transcripts: f.transcripts,
		Publisher:   f.publisher,
	}
	if mutate != nil {
		mutate(&deps)
	}

	f.service = NewLiveService(cfg, deps, logger, metrics)
	t.Cleanup(func() { f.service.Close() })
	return f
}

func (f *fixture) conversation(t *testing.T) *entities.Conversation {
	t.Helper()
	recent, err := f.transcripts.ListRecent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	return recent[0]
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	// noise keeps the JPEG above the minimum payload size
	r := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.Set(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestLiveService_Conversation(t *testing.T) {
	f := newFixture(t, testConfig("linux"), nil)
	ctx := context.Background()

	require.NoError(t, f.service.Connect(ctx, ""))
	assert.Equal(t, entities.TurnConnected, f.service.Status().State)
	assert.True(t, f.publisher.has(entities.NotificationLog, "Connected to Gemini Multimodal Live API"))

	err := f.service.Connect(ctx, "")
	assert.True(t, domain.IsKind(err, domain.KindConnectFailed))

	require.NoError(t, f.service.SendText(ctx, "  hello  "))
	require.Eventually(t, func() bool {
		entries := f.conversation(t).Entries
		return len(entries) > 0 && entries[len(entries)-1].Role == entities.EntryRoleModel
	}, time.Second, 10*time.Millisecond)

	conversation := f.conversation(t)
	assert.Equal(t, f.service.Status().ConversationID, conversation.ID)
	assert.Equal(t, "models/test", conversation.Metadata.Model)
	assert.Equal(t, config.TransportMock, conversation.Metadata.Transport)

	var spoken []entities.TranscriptEntry
	for _, e := range conversation.Entries {
		if e.Role != entities.EntryRoleSystem {
			spoken = append(spoken, e)
		}
	}
	require.Len(t, spoken, 2)
	assert.Equal(t, entities.EntryRoleUser, spoken[0].Role)
	assert.Equal(t, "hello", spoken[0].Content)
	assert.Equal(t, entities.EntryRoleModel, spoken[1].Role)
	assert.Equal(t, `You said: "hello"`, spoken[1].Content)

	require.NoError(t, f.service.Disconnect())
	assert.Equal(t, entities.TurnDisconnected, f.service.Status().State)
	assert.Empty(t, f.service.Status().ConversationID)

	conversation = f.conversation(t)
	assert.Equal(t, entities.ConversationStatusEnded, conversation.Status)
	assert.NotNil(t, conversation.EndedAt)
	assert.True(t, f.publisher.has(entities.NotificationLog, "Disconnected from server: client disconnect"))
}

func TestLiveService_ConnectFailure(t *testing.T) {
	cfg := testConfig("linux")
	cfg.Gemini.APIKey = ""
	f := newFixture(t, cfg, nil)

	err := f.service.Connect(context.Background(), "")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConnectFailed))
	assert.Equal(t, entities.TurnDisconnected, f.service.Status().State)

	conversation := f.conversation(t)
	assert.Equal(t, entities.ConversationStatusFailed, conversation.Status)
	assert.NotEmpty(t, conversation.Metadata.FailReason)
}

func TestLiveService_SendText(t *testing.T) {
	f := newFixture(t, testConfig("linux"), nil)
	ctx := context.Background()

	err := f.service.SendText(ctx, "hi")
	assert.True(t, domain.IsKind(err, domain.KindSendFailed))

	require.NoError(t, f.service.Connect(ctx, ""))
	err = f.service.SendText(ctx, "   ")
	assert.True(t, domain.IsKind(err, domain.KindSendFailed))
}

func TestLiveService_ToggleMic(t *testing.T) {
	f := newFixture(t, testConfig("linux"), nil)
	ctx := context.Background()

	active, err := f.service.ToggleMic(ctx)
	assert.False(t, active)
	assert.True(t, domain.IsKind(err, domain.KindStartFailed))
	assert.False(t, f.mic.open())

	require.NoError(t, f.service.Connect(ctx, ""))
	active, err = f.service.ToggleMic(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, entities.CaptureActive, f.service.Status().Microphone)

	pcm := make([]byte, 4096)
	pcm[1] = 0x40
	f.mic.push(pcm)
	require.Eventually(t, func() bool { return f.service.Status().AudioChunks == 1 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, f.service.InputLevel(), 0.0)

	active, err = f.service.ToggleMic(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	assert.False(t, f.mic.open())
	assert.True(t, f.publisher.has(entities.NotificationCapture, "Microphone stopped"))

	// disconnect stops an attached microphone
	_, err = f.service.ToggleMic(ctx)
	require.NoError(t, err)
	require.NoError(t, f.service.Disconnect())
	assert.False(t, f.mic.open())
	assert.Equal(t, entities.CaptureIdle, f.service.Status().Microphone)
}

func TestLiveService_DisconnectWhileMicOpening(t *testing.T) {
	mic := newStuckMic()
	f := newFixture(t, testConfig("linux"), func(d *Dependencies) { d.Microphone = mic })
	ctx := context.Background()
	require.NoError(t, f.service.Connect(ctx, ""))

	errc := make(chan error, 1)
	go func() {
		_, err := f.service.ToggleMic(ctx)
		errc <- err
	}()

	<-mic.entered
	require.NoError(t, f.service.Disconnect())
	close(mic.gate)

	select {
	case err := <-errc:
		assert.True(t, domain.IsKind(err, domain.KindStartFailed))
	case <-time.After(2 * time.Second):
		t.Fatal("Expected ToggleMic to return")
	}
	assert.Equal(t, entities.TurnDisconnected, f.service.Status().State)
	assert.Equal(t, entities.CaptureIdle, f.service.Status().Microphone)
	assert.False(t, mic.open(), "microphone held after disconnect")
	mic.mu.Lock()
	assert.Equal(t, 1, mic.closed)
	mic.mu.Unlock()

	// a new connection does not inherit the orphaned capture
	require.NoError(t, f.service.Connect(ctx, ""))
	require.NoError(t, f.service.Disconnect())
	mic.mu.Lock()
	assert.Equal(t, 1, mic.closed)
	mic.mu.Unlock()
}

func TestLiveService_ToggleCamera(t *testing.T) {
	f := newFixture(t, testConfig("linux"), nil)

	active, err := f.service.ToggleCamera(context.Background())
	assert.False(t, active)
	assert.True(t, domain.IsKind(err, domain.KindNotSupported))
}

func TestLiveService_ToggleCamera_Dir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "frame.png"))

	f := newFixture(t, testConfig("linux"), func(d *Dependencies) {
		d.Camera = devices.NewDirSource(dir, zaptest.NewLogger(t))
		d.CameraSink = devices.NewPreviewSink("camera", zaptest.NewLogger(t))
	})
	ctx := context.Background()
	require.NoError(t, f.service.Connect(ctx, ""))

	active, err := f.service.ToggleCamera(ctx)
	require.NoError(t, err)
	assert.True(t, active)
	require.Eventually(t, func() bool { return f.service.Status().CameraFrames > 0 }, 2*time.Second, 10*time.Millisecond)

	active, err = f.service.ToggleCamera(ctx)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, entities.CaptureIdle, f.service.Status().Camera)
}

func TestLiveService_ToggleScreen(t *testing.T) {
	t.Run("mobile file picker", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "shot.png")
		writePNG(t, path)

		f := newFixture(t, testConfig("android"), func(d *Dependencies) {
			d.FilePicker = devices.NewPathPicker(path, zaptest.NewLogger(t))
		})
		ctx := context.Background()
		assert.Equal(t, "file_picker", f.service.Status().ScreenStrategy)

		_, err := f.service.ToggleScreen(ctx)
		assert.True(t, domain.IsKind(err, domain.KindStartFailed))

		require.NoError(t, f.service.Connect(ctx, ""))
		active, err := f.service.ToggleScreen(ctx)
		require.NoError(t, err)
		assert.False(t, active)
		assert.True(t, f.publisher.has(entities.NotificationCapture, "Screenshot sent"))
	})

	t.Run("mobile without pickers", func(t *testing.T) {
		f := newFixture(t, testConfig("ios"), nil)
		require.NoError(t, f.service.Connect(context.Background(), ""))

		_, err := f.service.ToggleScreen(context.Background())
		assert.True(t, domain.IsKind(err, domain.KindNotSupported))
		assert.Equal(t, "none", f.service.Status().ScreenStrategy)
	})
}

func TestClosedCleanly(t *testing.T) {
	assert.True(t, closedCleanly(0, "client disconnect"))
	assert.True(t, closedCleanly(1000, "bye"))
	assert.False(t, closedCleanly(1011, "internal error"))
	assert.False(t, closedCleanly(0, "send failed: broken pipe"))
	assert.False(t, closedCleanly(0, "event stream ended"))
}
