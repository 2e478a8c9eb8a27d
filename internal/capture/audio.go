package capture

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

// MicBufferSamples is the number of samples per microphone callback
const MicBufferSamples = 2048

// AudioSession captures 16kHz mono PCM from a microphone
type AudioSession struct {
	mic     repositories.Microphone
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	state       entities.CaptureSessionState
	run         *emitter
	cancelStart context.CancelFunc // set while Requesting

	chunks atomic.Uint64
	level  atomic.Uint64 // math.Float64bits of the last chunk peak
}

// NewAudioSession creates an idle audio capture session
func NewAudioSession(mic repositories.Microphone, logger *zap.Logger, metrics *telemetry.Metrics) *AudioSession {
	return &AudioSession{
		mic:     mic,
		logger:  logger,
		metrics: metrics,
		state:   entities.CaptureIdle,
	}
}

// Start opens the microphone and delivers every captured buffer to onChunk,
// in arrival order, on the driver's goroutine. onChunk must not call Stop.
func (s *AudioSession) Start(ctx context.Context, onChunk func(entities.PcmChunk)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.state == entities.CaptureActive || s.state == entities.CaptureRequesting || s.state == entities.CaptureStopping {
		s.mu.Unlock()
		return domain.NewError(domain.KindStartFailed, "audio.Start", "audio capture already running", nil)
	}
	s.state = entities.CaptureRequesting
	run := &emitter{}
	s.run = run
	s.cancelStart = cancel
	s.mu.Unlock()

	s.chunks.Store(0)
	s.level.Store(0)

	handler := func(pcm []byte) {
		data := make([]byte, len(pcm))
		copy(data, pcm)
		chunk := entities.PcmChunk{
			SampleRate: entities.CaptureSampleRate,
			Channels:   entities.MonoChannels,
			Data:       data,
		}
		run.emit(func() {
			s.chunks.Add(1)
			s.level.Store(math.Float64bits(chunk.Peak()))
			s.metrics.AudioCaptured()
			onChunk(chunk)
		})
	}

	format := repositories.AudioFormat{
		SampleRate:    entities.CaptureSampleRate,
		Channels:      entities.MonoChannels,
		BufferSamples: MicBufferSamples,
	}
	err := s.mic.Open(ctx, format, handler)

	s.mu.Lock()
	cancelled := s.run != run
	s.cancelStart = nil
	if err == nil && !cancelled {
		s.state = entities.CaptureActive
	}
	s.mu.Unlock()

	if cancelled {
		// Stop ran while the device was opening
		run.stop()
		if err == nil {
			if cerr := s.mic.Close(); cerr != nil {
				s.logger.Warn("Failed to close microphone", zap.Error(cerr))
			}
		}
		s.setState(entities.CaptureIdle)
		s.logger.Info("Audio capture cancelled while starting")
		return domain.NewError(domain.KindStartFailed, "audio.Start", "", ErrStartCancelled)
	}
	if err != nil {
		run.stop()
		s.setState(entities.CaptureFailed)
		s.logger.Error("Failed to open microphone", zap.Error(err))
		return startError("audio.Start", err)
	}

	s.logger.Info("Audio capture started",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("bufferSamples", format.BufferSamples))
	return nil
}

// Stop releases the microphone. It is idempotent. A Start still waiting on
// the device is cancelled and releases the device itself.
func (s *AudioSession) Stop() error {
	s.mu.Lock()
	if s.state == entities.CaptureRequesting {
		cancel, pending := s.cancelStart, s.run
		s.run = nil
		s.state = entities.CaptureStopping
		s.mu.Unlock()
		pending.stop()
		cancel()
		return nil
	}
	run := s.run
	if run == nil || s.state != entities.CaptureActive {
		s.mu.Unlock()
		return nil
	}
	s.state = entities.CaptureStopping
	s.run = nil
	s.mu.Unlock()

	run.stop()
	err := s.mic.Close()
	s.setState(entities.CaptureIdle)
	s.level.Store(0)

	if err != nil {
		s.logger.Error("Failed to close microphone", zap.Error(err))
		return domain.NewError(domain.KindStopFailed, "audio.Stop", "", err)
	}

	s.logger.Info("Audio capture stopped", zap.Uint64("chunks", s.chunks.Load()))
	return nil
}

// State returns the current lifecycle state
func (s *AudioSession) State() entities.CaptureSessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Chunks returns the number of chunks delivered since the last Start
func (s *AudioSession) Chunks() uint64 {
	return s.chunks.Load()
}

// Level returns the normalized peak of the last delivered chunk
func (s *AudioSession) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

func (s *AudioSession) setState(state entities.CaptureSessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
