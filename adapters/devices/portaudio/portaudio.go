//go:build portaudio

// Package portaudio provides the host microphone and speaker through PortAudio.
package portaudio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// Init initializes PortAudio. The returned function terminates it.
func Init() (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return func() { portaudio.Terminate() }, nil
}

// Microphone is the default input device
type Microphone struct {
	logger *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	done   chan struct{}
	stop   atomic.Bool
}

// NewMicrophone creates a microphone for the default input device
func NewMicrophone(logger *zap.Logger) *Microphone {
	return &Microphone{logger: logger}
}

// Open implements repositories.Microphone
func (m *Microphone) Open(ctx context.Context, format repositories.AudioFormat, handler func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream != nil {
		return domain.ErrDeviceBusy
	}

	in := make([]int16, format.BufferSamples*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), format.BufferSamples, in)
	if err != nil {
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	m.stream = stream
	m.done = make(chan struct{})
	m.stop.Store(false)

	m.logger.Info("Microphone stream opened",
		zap.Int("sampleRate", format.SampleRate),
		zap.Int("bufferSamples", format.BufferSamples))

	go m.captureLoop(stream, in, m.done, handler)
	return nil
}

// Close implements repositories.Microphone
func (m *Microphone) Close() error {
	m.mu.Lock()
	stream, done := m.stream, m.done
	m.stream, m.done = nil, nil
	m.mu.Unlock()

	if stream == nil {
		return nil
	}

	m.stop.Store(true)
	<-done

	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop input stream: %w", err)
	}
	return stream.Close()
}

func (m *Microphone) captureLoop(stream *portaudio.Stream, in []int16, done chan struct{}, handler func([]byte)) {
	defer close(done)

	for !m.stop.Load() {
		if err := stream.Read(); err != nil {
			m.logger.Warn("Input overflow", zap.Error(err))
			continue
		}

		pcm := make([]byte, len(in)*2)
		for i, s := range in {
			binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
		}
		handler(pcm)
	}
}

// Speaker is the default output device. Write blocks until PortAudio has
// taken the samples.
type Speaker struct {
	sampleRate int
	logger     *zap.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	out    []int16

	suspended atomic.Bool
}

// NewSpeaker opens the default output device with buffers of framesPerBuffer
func NewSpeaker(sampleRate, framesPerBuffer int, logger *zap.Logger) (*Speaker, error) {
	s := &Speaker{
		sampleRate: sampleRate,
		logger:     logger,
		out:        make([]int16, framesPerBuffer),
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), framesPerBuffer, s.out)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	s.stream = stream
	s.suspended.Store(true)
	return s, nil
}

// Write implements repositories.Speaker
func (s *Speaker) Write(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return fmt.Errorf("speaker closed")
	}

	for off := 0; off < len(pcm); off += len(s.out) * 2 {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range s.out {
			if j := off + i*2; j+1 < len(pcm) {
				s.out[i] = int16(binary.LittleEndian.Uint16(pcm[j:]))
			} else {
				s.out[i] = 0
			}
		}
		if err := s.stream.Write(); err != nil {
			s.logger.Debug("Output underflow", zap.Error(err))
		}
	}
	return nil
}

// Flush implements repositories.Speaker. PortAudio drains its own buffer.
func (s *Speaker) Flush() {}

// Resume implements repositories.Speaker
func (s *Speaker) Resume(ctx context.Context) error {
	if !s.suspended.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return fmt.Errorf("speaker closed")
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	s.suspended.Store(false)
	return nil
}

// Suspended implements repositories.Speaker
func (s *Speaker) Suspended() bool {
	return s.suspended.Load()
}

// Close implements repositories.Speaker
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	if !s.suspended.Load() {
		s.stream.Stop()
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}
