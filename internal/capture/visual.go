package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/frame"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

// VisualSession periodically captures frames from a camera or display stream
type VisualSession struct {
	kind    entities.CaptureKind
	source  repositories.VisualSource
	clock   clock.Clock
	logger  *zap.Logger
	metrics *telemetry.Metrics

	onEnded func()

	mu          sync.Mutex
	state       entities.CaptureSessionState
	active      *visualRun
	cancelStart context.CancelFunc // set while Requesting, cleared by Stop
	frames      atomic.Uint64
}

// VisualOption configures a VisualSession
type VisualOption func(*VisualSession)

// WithClock replaces the wall clock driving the capture ticker
func WithClock(c clock.Clock) VisualOption {
	return func(s *VisualSession) {
		s.clock = c
	}
}

// WithEndedHandler registers fn to run after the source ends the stream on its own
func WithEndedHandler(fn func()) VisualOption {
	return func(s *VisualSession) {
		s.onEnded = fn
	}
}

// visualRun is the state of one Start..Stop cycle
type visualRun struct {
	stream  repositories.VisualStream
	sink    repositories.VideoSink
	opts    entities.CaptureOptions
	onFrame func(entities.EncodedFrame)
	ticker  *clock.Ticker
	cancel  context.CancelFunc
	done    chan struct{}
	em      emitter
	buf     *image.RGBA
	seq     uint64

	releaseOnce sync.Once
	releaseErr  error
}

// NewVisualSession creates an idle visual capture session of the given kind
func NewVisualSession(kind entities.CaptureKind, source repositories.VisualSource, logger *zap.Logger, metrics *telemetry.Metrics, opts ...VisualOption) *VisualSession {
	s := &VisualSession{
		kind:    kind,
		source:  source,
		clock:   clock.New(),
		logger:  logger.With(zap.String("kind", string(kind))),
		metrics: metrics,
		state:   entities.CaptureIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the source, attaches it to sink and begins delivering frames to
// onFrame at opts.TargetFPS. It returns once the first frame has loaded.
// onFrame runs on the capture goroutine and must not call Stop.
func (s *VisualSession) Start(ctx context.Context, sink repositories.VideoSink, onFrame func(entities.EncodedFrame), opts entities.CaptureOptions) error {
	op := fmt.Sprintf("%s.Start", s.kind)
	if err := opts.Validate(); err != nil {
		return domain.NewError(domain.KindStartFailed, op, err.Error(), err)
	}

	ctx, cancelStart := context.WithCancel(ctx)
	defer cancelStart()

	s.mu.Lock()
	if s.state == entities.CaptureActive || s.state == entities.CaptureRequesting || s.state == entities.CaptureStopping {
		s.mu.Unlock()
		return domain.NewError(domain.KindStartFailed, op, fmt.Sprintf("%s capture already running", s.kind), nil)
	}
	s.state = entities.CaptureRequesting
	s.cancelStart = cancelStart
	s.mu.Unlock()

	stream, err := s.source.Open(ctx, repositories.VisualHints{
		Width:     opts.TargetWidth,
		Height:    opts.TargetHeight,
		FrameRate: opts.TargetFPS,
	})
	if err != nil {
		if s.abandonStart() {
			return domain.NewError(domain.KindStartFailed, op, "", ErrStartCancelled)
		}
		s.logger.Error("Failed to open visual source", zap.Error(err))
		return startError(op, err)
	}

	if sink != nil {
		sink.Attach(stream)
	}

	fail := func(err error) error {
		if sink != nil {
			sink.Detach()
		}
		stream.Close()
		if s.abandonStart() {
			return domain.NewError(domain.KindStartFailed, op, "", ErrStartCancelled)
		}
		s.logger.Error("Failed to start visual capture", zap.Error(err))
		return domain.NewError(domain.KindStartFailed, op, "", err)
	}

	select {
	case <-stream.Loaded():
	case <-stream.Ended():
		return fail(domain.ErrSourceEnded)
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	bounds := stream.Bounds()
	if bounds.Empty() {
		return fail(errors.New("stream reported empty dimensions"))
	}

	s.mu.Lock()
	if s.cancelStart == nil {
		s.mu.Unlock()
		return fail(ErrStartCancelled)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	run := &visualRun{
		stream:  stream,
		sink:    sink,
		opts:    opts,
		onFrame: onFrame,
		ticker:  s.clock.Ticker(opts.Period()),
		cancel:  cancel,
		done:    make(chan struct{}),
		buf:     image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy())),
	}
	s.cancelStart = nil
	s.active = run
	s.state = entities.CaptureActive
	s.mu.Unlock()
	s.frames.Store(0)

	go s.loop(runCtx, run)

	s.logger.Info("Visual capture started",
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Float64("fps", opts.TargetFPS))
	return nil
}

// Stop ends the capture loop and releases the stream. It is idempotent and
// safe to call before Start. A Start still opening the source or waiting for
// the first frame is cancelled and releases the stream itself.
func (s *VisualSession) Stop() error {
	s.mu.Lock()
	if s.state == entities.CaptureRequesting {
		cancel := s.cancelStart
		s.cancelStart = nil
		s.state = entities.CaptureStopping
		s.mu.Unlock()
		cancel()
		return nil
	}
	run := s.active
	if run == nil {
		s.mu.Unlock()
		return nil
	}
	s.active = nil
	s.state = entities.CaptureStopping
	s.mu.Unlock()

	run.em.stop()
	run.cancel()
	<-run.done

	err := run.release()
	s.setState(entities.CaptureIdle)
	if err != nil {
		s.logger.Error("Failed to release visual source", zap.Error(err))
		return domain.NewError(domain.KindStopFailed, fmt.Sprintf("%s.Stop", s.kind), "", err)
	}

	s.logger.Info("Visual capture stopped", zap.Uint64("frames", s.frames.Load()))
	return nil
}

// abandonStart ends a Start that did not reach Active. It reports whether
// Stop cancelled it, leaving the session Idle rather than Failed.
func (s *VisualSession) abandonStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancelled := s.cancelStart == nil
	s.cancelStart = nil
	if cancelled {
		s.state = entities.CaptureIdle
	} else {
		s.state = entities.CaptureFailed
	}
	return cancelled
}

// State returns the current lifecycle state
func (s *VisualSession) State() entities.CaptureSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Frames returns the number of frames delivered since the last Start
func (s *VisualSession) Frames() uint64 {
	return s.frames.Load()
}

// Kind returns the capture kind
func (s *VisualSession) Kind() entities.CaptureKind {
	return s.kind
}

func (s *VisualSession) loop(ctx context.Context, run *visualRun) {
	defer close(run.done)
	defer run.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-run.stream.Ended():
			s.handleEnded(run)
			return
		case <-run.ticker.C:
			s.tick(run)
		}
	}
}

// handleEnded tears the session down after the user or system ended the stream
func (s *VisualSession) handleEnded(run *visualRun) {
	s.mu.Lock()
	if s.active != run {
		s.mu.Unlock()
		return
	}
	s.active = nil
	s.state = entities.CaptureStopping
	s.mu.Unlock()

	run.em.stop()
	run.cancel()
	if err := run.release(); err != nil {
		s.logger.Warn("Failed to release ended visual source", zap.Error(err))
	}
	s.setState(entities.CaptureIdle)
	s.logger.Info("Visual stream ended by source", zap.Uint64("frames", s.frames.Load()))

	if s.onEnded != nil {
		s.onEnded()
	}
}

// tick captures at most one frame
func (s *VisualSession) tick(run *visualRun) {
	if !run.stream.Ready() {
		s.metrics.FrameDropped(s.kind, "not_ready")
		return
	}

	b := run.stream.Bounds()
	if b.Dx() != run.buf.Bounds().Dx() || b.Dy() != run.buf.Bounds().Dy() {
		run.buf = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		s.logger.Debug("Resized capture buffer", zap.Int("width", b.Dx()), zap.Int("height", b.Dy()))
	}

	if err := run.stream.Snapshot(run.buf); err != nil {
		s.metrics.FrameDropped(s.kind, "snapshot")
		s.logger.Warn("Failed to snapshot frame", zap.Error(err))
		return
	}

	payload, err := EncodeJPEG(run.buf, run.opts.ImageQuality, run.opts.MaxFrameBytes)
	if err != nil {
		s.metrics.FrameDropped(s.kind, "encode")
		s.logger.Warn("Failed to encode frame", zap.Error(err))
		return
	}

	if err := frame.ValidateFrame(payload); err != nil {
		s.metrics.FrameDropped(s.kind, "invalid")
		s.logger.Warn("Dropped invalid frame", zap.Error(err))
		return
	}

	run.em.emit(func() {
		run.seq++
		f := entities.EncodedFrame{
			MimeType:       domain.MimeTypeJPEG,
			Payload:        payload,
			SequenceNumber: run.seq,
			Kind:           s.kind,
			CapturedAt:     s.clock.Now(),
		}
		s.frames.Add(1)
		s.metrics.FrameCaptured(s.kind, len(payload))
		run.onFrame(f)
	})
}

func (s *VisualSession) setState(state entities.CaptureSessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (r *visualRun) release() error {
	r.releaseOnce.Do(func() {
		if r.sink != nil {
			r.sink.Detach()
		}
		r.releaseErr = r.stream.Close()
	})
	return r.releaseErr
}
