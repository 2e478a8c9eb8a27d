package devices

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// WAVSpeaker is a real-time paced output recording everything it plays to a
// WAV file. With an empty path the audio is discarded.
type WAVSpeaker struct {
	path       string
	sampleRate int
	clock      clock.Clock
	logger     *zap.Logger

	mu      sync.Mutex
	file    *os.File
	written int
	closed  bool

	suspended atomic.Bool
	flushes   atomic.Uint64
}

// SpeakerOption configures a WAVSpeaker
type SpeakerOption func(*WAVSpeaker)

// WithSpeakerClock replaces the clock pacing writes
func WithSpeakerClock(c clock.Clock) SpeakerOption {
	return func(s *WAVSpeaker) { s.clock = c }
}

// NewWAVSpeaker creates a speaker. Like a browser audio context it starts
// suspended until the first Resume.
func NewWAVSpeaker(path string, sampleRate int, logger *zap.Logger, opts ...SpeakerOption) (*WAVSpeaker, error) {
	s := &WAVSpeaker{
		path:       path,
		sampleRate: sampleRate,
		clock:      clock.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.suspended.Store(true)

	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := writeWAVHeader(f, sampleRate, 1, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write WAV header: %w", err)
		}
		s.file = f
	}
	return s, nil
}

// Write implements repositories.Speaker
func (s *WAVSpeaker) Write(ctx context.Context, pcm []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("speaker closed")
	}
	if s.file != nil {
		if _, err := s.file.Write(pcm); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to write audio: %w", err)
		}
		s.written += len(pcm)
	}
	s.mu.Unlock()

	d := time.Duration(len(pcm)/2) * time.Second / time.Duration(s.sampleRate)
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush implements repositories.Speaker. Nothing is buffered past a Write.
func (s *WAVSpeaker) Flush() {
	s.flushes.Add(1)
}

// Resume implements repositories.Speaker
func (s *WAVSpeaker) Resume(ctx context.Context) error {
	if s.suspended.CompareAndSwap(true, false) {
		s.logger.Info("Speaker resumed", zap.String("path", s.path))
	}
	return nil
}

// Suspended implements repositories.Speaker
func (s *WAVSpeaker) Suspended() bool {
	return s.suspended.Load()
}

// Close finalizes the WAV header
func (s *WAVSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}

	if _, err := s.file.Seek(0, 0); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to rewind %s: %w", s.path, err)
	}
	if err := writeWAVHeader(s.file, s.sampleRate, 1, s.written); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}

	s.logger.Info("Speaker closed", zap.String("path", s.path), zap.Int("bytes", s.written))
	return s.file.Close()
}
