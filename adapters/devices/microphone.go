package devices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// FileMicrophone replays a WAV or raw PCM recording as a live input,
// delivering one buffer per buffer duration
type FileMicrophone struct {
	path   string
	loop   bool
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// MicrophoneOption configures a FileMicrophone
type MicrophoneOption func(*FileMicrophone)

// WithMicrophoneClock replaces the clock pacing the buffers
func WithMicrophoneClock(c clock.Clock) MicrophoneOption {
	return func(m *FileMicrophone) { m.clock = c }
}

// WithLoop replays the recording from the start when it runs out.
// Without it the microphone delivers silence after the recording.
func WithLoop(loop bool) MicrophoneOption {
	return func(m *FileMicrophone) { m.loop = loop }
}

// NewFileMicrophone creates a microphone for the recording at path
func NewFileMicrophone(path string, logger *zap.Logger, opts ...MicrophoneOption) *FileMicrophone {
	m := &FileMicrophone{
		path:   path,
		clock:  clock.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open implements repositories.Microphone
func (m *FileMicrophone) Open(ctx context.Context, format repositories.AudioFormat, handler func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return domain.ErrDeviceBusy
	}
	if format.SampleRate <= 0 || format.BufferSamples <= 0 {
		return fmt.Errorf("invalid audio format %+v", format)
	}

	audio, err := readPCM(m.path, format.SampleRate)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("%w: %s", domain.ErrPermissionDenied, m.path)
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: no recording at %s", domain.ErrNotSupported, m.path)
		}
		return err
	}

	audio = toMono(audio)
	if audio.sampleRate != format.SampleRate {
		m.logger.Info("Resampling recording",
			zap.Int("from", audio.sampleRate),
			zap.Int("to", format.SampleRate))
		if audio, err = resample(audio, format.SampleRate); err != nil {
			return err
		}
	}

	bufBytes := format.BufferSamples * 2
	period := time.Duration(format.BufferSamples) * time.Second / time.Duration(format.SampleRate)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	ticker := m.clock.Ticker(period)
	m.cancel = cancel
	m.done = done

	m.logger.Info("Microphone opened",
		zap.String("path", m.path),
		zap.Int("sampleRate", format.SampleRate),
		zap.Duration("period", period))

	go m.run(runCtx, done, ticker, audio.data, bufBytes, handler)
	return nil
}

// Close implements repositories.Microphone
func (m *FileMicrophone) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	m.logger.Info("Microphone closed", zap.String("path", m.path))
	return nil
}

func (m *FileMicrophone) run(ctx context.Context, done chan struct{}, ticker *clock.Ticker, data []byte, bufBytes int, handler func([]byte)) {
	defer close(done)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		buf := make([]byte, bufBytes)
		n := copy(buf, data[min(offset, len(data)):])
		offset += n
		if n < bufBytes && m.loop && len(data) > 0 {
			offset = copy(buf[n:], data)
		}
		handler(buf)
	}
}
