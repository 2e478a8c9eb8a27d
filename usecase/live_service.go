package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/capability"
	"github.com/satriahrh/geminiplay/internal/capture"
	"github.com/satriahrh/geminiplay/internal/config"
	"github.com/satriahrh/geminiplay/internal/coordinator"
	"github.com/satriahrh/geminiplay/internal/playback"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

// Names under which captures are attached to the coordinator
const (
	micComponent    = "microphone"
	cameraComponent = "camera"
	screenComponent = "screen"
)

const storeTimeout = 5 * time.Second

// Dependencies are the drivers and stores the service runs on. Optional
// devices are nil when the host does not provide them.
type Dependencies struct {
	Dialer      repositories.LiveDialer
	Microphone  repositories.Microphone
	Camera      repositories.VisualSource
	Screen      repositories.VisualSource
	CameraSink  repositories.VideoSink
	ScreenSink  repositories.VideoSink
	SharePicker repositories.StillPicker
	FilePicker  repositories.StillPicker
	Streamer    *playback.Streamer
	Transcripts repositories.TranscriptRepository
	Publisher   repositories.NotificationPublisher
	// SpeechToText captions the microphone; nil disables captions
	SpeechToText repositories.SpeechToText
}

// Status is a snapshot of the session for observers
type Status struct {
	State          entities.TurnState           `json:"state"`
	Microphone     entities.CaptureSessionState `json:"microphone"`
	Camera         entities.CaptureSessionState `json:"camera"`
	Screen         entities.CaptureSessionState `json:"screen"`
	ScreenStrategy string                       `json:"screen_strategy"`
	ConversationID string                       `json:"conversation_id,omitempty"`
	AudioChunks    uint64                       `json:"audio_chunks"`
	CameraFrames   uint64                       `json:"camera_frames"`
	ScreenFrames   uint64                       `json:"screen_frames"`
}

// LiveService drives one live conversation: the connection, the captures
// feeding it and the record of what was said
type LiveService struct {
	cfg      *config.Config
	deps     Dependencies
	platform capability.Platform
	logger   *zap.Logger

	coordinator *coordinator.Coordinator
	audio       *capture.AudioSession
	camera      *capture.VisualSession
	screen      *capture.VisualSession
	metrics     *telemetry.Metrics

	mu           sync.Mutex
	conversation *entities.Conversation
	caption      repositories.SpeechToTextStreaming
	modelText    strings.Builder
}

// NewLiveService wires the capture sessions and the coordinator
func NewLiveService(cfg *config.Config, deps Dependencies, logger *zap.Logger, metrics *telemetry.Metrics) *LiveService {
	s := &LiveService{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: metrics,
		platform: capability.DetectPlatform(cfg.Devices.Platform,
			deps.SharePicker != nil, deps.FilePicker != nil, deps.Screen != nil),
	}

	s.coordinator = coordinator.New(deps.Dialer, deps.Streamer, coordinator.Handlers{
		OnStateChange:   s.onStateChange,
		OnLog:           s.onLog,
		OnText:          s.onText,
		OnSetupComplete: s.onSetupComplete,
		OnTurnComplete:  s.onTurnComplete,
		OnInterrupted:   s.onInterrupted,
		OnServerError:   s.onServerError,
		OnDisconnected:  s.onDisconnected,
	}, logger.Named("coordinator"), metrics)

	s.audio = capture.NewAudioSession(deps.Microphone, logger.Named("audio"), metrics)
	if deps.Camera != nil {
		s.camera = capture.NewVisualSession(entities.CaptureKindCamera, deps.Camera, logger, metrics,
			capture.WithEndedHandler(func() { s.visualEnded(entities.CaptureKindCamera, cameraComponent, "Camera stream ended") }))
	}
	if deps.Screen != nil {
		s.screen = capture.NewVisualSession(entities.CaptureKindScreen, deps.Screen, logger, metrics,
			capture.WithEndedHandler(func() { s.visualEnded(entities.CaptureKindScreen, screenComponent, "Screen sharing ended") }))
	}

	return s
}

// Connect opens the live session. An empty apiKey falls back to the configured key.
func (s *LiveService) Connect(ctx context.Context, apiKey string) error {
	if s.coordinator.State() != entities.TurnDisconnected {
		return domain.NewError(domain.KindConnectFailed, "live.Connect", "already connected", nil)
	}
	if apiKey == "" {
		apiKey = s.cfg.Gemini.APIKey
	}

	g := s.cfg.Gemini
	conversation := entities.NewConversation(entities.ConversationMetadata{
		Model:     g.Model,
		Voice:     g.VoiceName,
		Modality:  g.ResponseModality,
		Transport: g.Transport,
	})
	s.startConversation(ctx, conversation)

	err := s.coordinator.Connect(ctx, repositories.LiveSetup{
		APIKey:            apiKey,
		Model:             g.Model,
		ResponseModality:  g.ResponseModality,
		VoiceName:         g.VoiceName,
		SystemInstruction: g.SystemInstruction,
		GoogleSearch:      g.GoogleSearch,
	})
	if err != nil {
		s.endConversation(entities.ConversationStatusFailed, 0, err.Error())
		s.notifyError(err)
		return err
	}

	if err := s.deps.Streamer.Resume(ctx); err != nil {
		s.logger.Warn("Failed to resume playback", zap.Error(err))
	}

	s.record(entities.EntryRoleSystem, "Connected to "+g.Model)
	s.notify(entities.NewNotification(entities.NotificationLog, "Connected to Gemini Multimodal Live API"))
	return nil
}

// Disconnect closes the session and stops every capture
func (s *LiveService) Disconnect() error {
	return s.coordinator.Disconnect()
}

// SendText sends a typed user message
func (s *LiveService) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.NewError(domain.KindSendFailed, "live.SendText", "message is empty", nil)
	}

	if !s.coordinator.State().IsOpen() {
		err := domain.NewError(domain.KindSendFailed, "live.SendText", "connect first", coordinator.ErrNotConnected)
		s.notifyError(err)
		return err
	}

	// recorded first so the reply cannot overtake it in the transcript
	s.record(entities.EntryRoleUser, text)
	if err := s.coordinator.SendText(ctx, text); err != nil {
		s.notifyError(err)
		return err
	}

	n := entities.NewNotification(entities.NotificationContent, text)
	n.State = string(entities.EntryRoleUser)
	s.notify(n)
	return nil
}

// ToggleMic starts or stops the microphone and reports whether it is now on
func (s *LiveService) ToggleMic(ctx context.Context) (bool, error) {
	if s.audio.State() == entities.CaptureActive {
		s.coordinator.Detach(micComponent)
		return false, s.stopMic()
	}

	startCtx, release, gen, err := s.bind(ctx, "audio.Start")
	if err != nil {
		return false, err
	}
	defer release()

	s.startCaptions()
	if err := s.audio.Start(startCtx, s.onAudioChunk); err != nil {
		s.finishCaptions()
		s.notifyError(err)
		return false, err
	}
	if err := s.attach(gen, "audio.Start", micComponent, s.stopMic); err != nil {
		return false, err
	}

	if err := s.deps.Streamer.Resume(ctx); err != nil {
		s.logger.Warn("Failed to resume playback", zap.Error(err))
	}

	s.notifyCapture(entities.CaptureKindAudio, entities.CaptureActive, "Microphone started")
	return true, nil
}

// ToggleCamera starts or stops the camera and reports whether it is now on
func (s *LiveService) ToggleCamera(ctx context.Context) (bool, error) {
	if s.camera == nil {
		err := domain.NewError(domain.KindNotSupported, "camera.Start", "no camera available", domain.ErrNotSupported)
		s.notifyError(err)
		return false, err
	}

	if s.camera.State() == entities.CaptureActive {
		s.coordinator.Detach(cameraComponent)
		return false, s.stopVisual(s.camera, "Camera stopped")
	}

	startCtx, release, gen, err := s.bind(ctx, "camera.Start")
	if err != nil {
		return false, err
	}
	defer release()

	if err := s.camera.Start(startCtx, s.deps.CameraSink, s.onFrame, s.cfg.Capture.Camera); err != nil {
		s.notifyError(err)
		return false, err
	}
	stop := func() error { return s.stopVisual(s.camera, "Camera stopped") }
	if err := s.attach(gen, "camera.Start", cameraComponent, stop); err != nil {
		return false, err
	}

	s.notifyCapture(entities.CaptureKindCamera, entities.CaptureActive, "Camera started")
	return true, nil
}

// ToggleScreen shares the screen with the strategy the platform supports.
// Still strategies send a single image and report false.
func (s *LiveService) ToggleScreen(ctx context.Context) (bool, error) {
	if s.screen != nil && s.screen.State() == entities.CaptureActive {
		s.coordinator.Detach(screenComponent)
		return false, s.stopVisual(s.screen, "Screen sharing stopped")
	}

	startCtx, release, gen, err := s.bind(ctx, "screen.Start")
	if err != nil {
		return false, err
	}
	defer release()

	strategy, err := capability.Negotiate(s.platform)
	if err != nil {
		s.notifyError(err)
		return false, err
	}
	s.logger.Info("Screen capture strategy selected", zap.Stringer("strategy", strategy))

	var still *capture.StillCapture
	switch strategy {
	case capability.NativeScreenShare:
		if err := s.screen.Start(startCtx, s.deps.ScreenSink, s.onFrame, s.cfg.Capture.Screen); err != nil {
			s.notifyError(err)
			return false, err
		}
		stop := func() error { return s.stopVisual(s.screen, "Screen sharing stopped") }
		if err := s.attach(gen, "screen.Start", screenComponent, stop); err != nil {
			return false, err
		}
		s.notifyCapture(entities.CaptureKindScreen, entities.CaptureActive, "Screen sharing started")
		return true, nil
	case capability.ShareAPI:
		still = capture.NewShareCapture(s.deps.SharePicker, s.logger.Named("share"), s.metrics)
	default:
		still = capture.NewFilePickCapture(s.deps.FilePicker, s.logger.Named("filepick"), s.metrics)
	}

	if err := still.Capture(startCtx, s.onFrame, s.cfg.Capture.Screen); err != nil {
		s.notifyError(err)
		return false, err
	}
	s.notifyCapture(entities.CaptureKindScreen, entities.CaptureIdle, "Screenshot sent")
	return false, nil
}

// Status returns a snapshot of the session
func (s *LiveService) Status() Status {
	st := Status{
		State:          s.coordinator.State(),
		Microphone:     s.audio.State(),
		Camera:         entities.CaptureIdle,
		Screen:         entities.CaptureIdle,
		AudioChunks:    s.audio.Chunks(),
		ScreenStrategy: "none",
	}
	if s.camera != nil {
		st.Camera = s.camera.State()
		st.CameraFrames = s.camera.Frames()
	}
	if s.screen != nil {
		st.Screen = s.screen.State()
		st.ScreenFrames = s.screen.Frames()
	}
	if strategy, err := capability.Negotiate(s.platform); err == nil {
		st.ScreenStrategy = strategy.String()
	}

	s.mu.Lock()
	if s.conversation != nil {
		st.ConversationID = s.conversation.ID
	}
	s.mu.Unlock()
	return st
}

// Conversation returns a stored conversation
func (s *LiveService) Conversation(ctx context.Context, id string) (*entities.Conversation, error) {
	return s.deps.Transcripts.GetByID(ctx, id)
}

// RecentConversations returns the latest conversations, newest first
func (s *LiveService) RecentConversations(ctx context.Context, limit int) ([]*entities.Conversation, error) {
	return s.deps.Transcripts.ListRecent(ctx, limit)
}

// InputLevel is the microphone meter in [0, 1]
func (s *LiveService) InputLevel() float64 {
	return s.audio.Level()
}

// OutputLevel is the playback meter in [0, 1]
func (s *LiveService) OutputLevel() float64 {
	return s.deps.Streamer.Volume()
}

// Close disconnects and releases the captures
func (s *LiveService) Close() error {
	err := s.coordinator.Disconnect()
	stops := []error{err, s.stopMic()}
	if s.camera != nil {
		stops = append(stops, s.camera.Stop())
	}
	if s.screen != nil {
		stops = append(stops, s.screen.Stop())
	}
	return errors.Join(stops...)
}

// stopFunc adapts a function to coordinator.Stoppable
type stopFunc func() error

func (f stopFunc) Stop() error { return f() }

// bind ties a starting capture to the open connection: the returned context
// ends with it and gen identifies it for attach
func (s *LiveService) bind(ctx context.Context, op string) (context.Context, context.CancelFunc, uint64, error) {
	bound, release, gen, err := s.coordinator.Bind(ctx)
	if err != nil {
		err = domain.NewError(domain.KindStartFailed, op, "connect first", err)
		s.notifyError(err)
		return nil, nil, 0, err
	}
	return bound, release, gen, nil
}

// attach hands a started capture to connection gen. When that connection
// ended while the capture was starting, the capture is stopped here.
func (s *LiveService) attach(gen uint64, op, component string, stop func() error) error {
	err := s.coordinator.Attach(gen, component, stopFunc(stop))
	if err == nil {
		return nil
	}
	if serr := stop(); serr != nil {
		s.logger.Warn("Failed to stop orphaned capture", zap.String("component", component), zap.Error(serr))
	}
	err = domain.NewError(domain.KindStartFailed, op, "disconnected while starting", err)
	s.notifyError(err)
	return err
}

func (s *LiveService) onAudioChunk(chunk entities.PcmChunk) {
	err := s.coordinator.SendAudio(context.Background(), chunk)
	if err != nil && !errors.Is(err, coordinator.ErrNotConnected) {
		s.logger.Warn("Failed to send audio", zap.Error(err))
	}

	s.mu.Lock()
	caption := s.caption
	s.mu.Unlock()
	if caption != nil {
		if err := caption.Stream(chunk.Data); err != nil {
			s.logger.Debug("Failed to stream caption audio", zap.Error(err))
		}
	}
}

// onFrame forwards a captured frame while the session is open
func (s *LiveService) onFrame(f entities.EncodedFrame) {
	if !s.coordinator.State().IsOpen() {
		return
	}
	err := s.coordinator.SendFrame(context.Background(), f)
	if err != nil && !errors.Is(err, coordinator.ErrNotConnected) {
		s.logger.Warn("Failed to send frame",
			zap.String("kind", string(f.Kind)),
			zap.Uint64("sequence", f.SequenceNumber),
			zap.Error(err))
	}
}

func (s *LiveService) stopMic() error {
	wasActive := s.audio.State() == entities.CaptureActive
	err := s.audio.Stop()
	s.finishCaptions()
	if wasActive {
		s.notifyCapture(entities.CaptureKindAudio, entities.CaptureIdle, "Microphone stopped")
	}
	return err
}

func (s *LiveService) stopVisual(session *capture.VisualSession, message string) error {
	wasActive := session.State() == entities.CaptureActive
	err := session.Stop()
	if wasActive {
		s.notifyCapture(session.Kind(), entities.CaptureIdle, message)
	}
	return err
}

// visualEnded runs when the user or the system ended a visual stream
func (s *LiveService) visualEnded(kind entities.CaptureKind, component, message string) {
	s.coordinator.Detach(component)
	s.notifyCapture(kind, entities.CaptureIdle, message)
}

func (s *LiveService) startCaptions() {
	if s.deps.SpeechToText == nil || !s.cfg.Captions.Enabled {
		return
	}

	stream, err := s.deps.SpeechToText.InitTranscribeStreaming(context.Background(), repositories.CaptionConfig{
		SampleRate: entities.CaptureSampleRate,
		Channels:   entities.MonoChannels,
		Encoding:   "LINEAR16",
		Language:   s.cfg.Captions.Language,
	})
	if err != nil {
		s.logger.Warn("Failed to start captions", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.caption = stream
	s.mu.Unlock()
}

func (s *LiveService) finishCaptions() {
	s.mu.Lock()
	stream := s.caption
	s.caption = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}

	text, err := stream.End()
	if err != nil {
		s.logger.Debug("No caption produced", zap.Error(err))
		return
	}

	s.record(entities.EntryRoleUser, text)
	s.notify(entities.NewNotification(entities.NotificationTranscript, text))
}

func (s *LiveService) onStateChange(state entities.TurnState) {
	n := entities.NewNotification(entities.NotificationState, "Connection "+string(state))
	n.State = string(state)
	s.notify(n)
}

func (s *LiveService) onLog(logType, message string) {
	n := entities.NewNotification(entities.NotificationLog, message)
	n.State = logType
	s.notify(n)
}

func (s *LiveService) onText(text string) {
	s.mu.Lock()
	s.modelText.WriteString(text)
	s.mu.Unlock()

	n := entities.NewNotification(entities.NotificationContent, text)
	n.State = string(entities.EntryRoleModel)
	s.notify(n)
}

func (s *LiveService) onSetupComplete() {
	s.record(entities.EntryRoleSystem, "Setup complete")
}

func (s *LiveService) onTurnComplete() {
	s.flushModelText()
	s.notify(entities.NewNotification(entities.NotificationLog, "Turn complete"))
}

func (s *LiveService) onInterrupted() {
	s.flushModelText()
	s.record(entities.EntryRoleSystem, "Model interrupted")
	s.notify(entities.NewNotification(entities.NotificationLog, "Model interrupted"))
}

func (s *LiveService) onServerError(message string) {
	s.record(entities.EntryRoleSystem, "Server error: "+message)
	s.notify(entities.NewNotification(entities.NotificationError, "Server error: "+message))
}

func (s *LiveService) onDisconnected(code int, reason string) {
	s.flushModelText()

	if closedCleanly(code, reason) {
		s.endConversation(entities.ConversationStatusEnded, code, "")
	} else {
		s.endConversation(entities.ConversationStatusFailed, code, reason)
	}

	msg := "Disconnected from server"
	if reason != "" {
		msg = fmt.Sprintf("Disconnected from server: %s", reason)
	}
	s.notify(entities.NewNotification(entities.NotificationLog, msg))
}

// closedCleanly reports whether a close was requested by either side
// rather than caused by a failure
func closedCleanly(code int, reason string) bool {
	switch {
	case code != 0 && code != 1000:
		return false
	case strings.HasPrefix(reason, "send failed"), reason == "event stream ended":
		return false
	}
	return true
}

// flushModelText records the model text collected since the last flush
func (s *LiveService) flushModelText() {
	s.mu.Lock()
	text := s.modelText.String()
	s.modelText.Reset()
	s.mu.Unlock()

	s.record(entities.EntryRoleModel, text)
}

func (s *LiveService) startConversation(ctx context.Context, conversation *entities.Conversation) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	if err := s.deps.Transcripts.Create(ctx, conversation); err != nil {
		s.logger.Warn("Failed to create conversation", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.conversation = conversation
	s.modelText.Reset()
	s.mu.Unlock()
}

func (s *LiveService) endConversation(status entities.ConversationStatus, code int, reason string) {
	s.mu.Lock()
	conversation := s.conversation
	s.conversation = nil
	s.mu.Unlock()

	if conversation == nil {
		return
	}

	conversation.End(status)
	conversation.Metadata.CloseCode = code
	conversation.Metadata.FailReason = reason

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.deps.Transcripts.Update(ctx, conversation); err != nil {
		s.logger.Warn("Failed to end conversation",
			zap.String("conversationID", conversation.ID),
			zap.Error(err))
		return
	}

	s.logger.Info("Conversation ended",
		zap.String("conversationID", conversation.ID),
		zap.String("status", string(status)),
		zap.Duration("duration", conversation.Duration()))
}

// record appends a transcript entry to the current conversation
func (s *LiveService) record(role entities.EntryRole, content string) {
	s.mu.Lock()
	conversation := s.conversation
	s.mu.Unlock()

	if conversation == nil || strings.TrimSpace(content) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	entry := entities.TranscriptEntry{Timestamp: time.Now(), Role: role, Content: content}
	if err := s.deps.Transcripts.AppendEntry(ctx, conversation.ID, entry); err != nil {
		s.logger.Warn("Failed to record transcript entry",
			zap.String("conversationID", conversation.ID),
			zap.Error(err))
	}
}

func (s *LiveService) notifyCapture(kind entities.CaptureKind, state entities.CaptureSessionState, message string) {
	n := entities.NewNotification(entities.NotificationCapture, message)
	n.Kind = kind
	n.State = string(state)
	s.notify(n)
}

func (s *LiveService) notifyError(err error) {
	message := err.Error()
	var derr *domain.Error
	if errors.As(err, &derr) && derr.Message != "" {
		message = derr.Message
	}
	n := entities.NewNotification(entities.NotificationError, message)
	n.State = domain.KindOf(err).String()
	s.notify(n)
}

func (s *LiveService) notify(n entities.Notification) {
	if s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.deps.Publisher.Publish(ctx, n); err != nil {
		s.logger.Debug("Failed to publish notification", zap.Error(err))
	}
}
