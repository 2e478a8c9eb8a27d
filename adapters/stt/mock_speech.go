package stt

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/repositories"
)

// MockSpeechToText produces canned captions sized by the amount of audio.
// It stands in for the cloud recognizer when no credentials are available.
type MockSpeechToText struct {
	logger *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{logger: logger}
}

// InitTranscribeStreaming implements repositories.SpeechToText
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.CaptionConfig) (repositories.SpeechToTextStreaming, error) {
	if _, err := getAudioEncoding(config.Encoding); err != nil {
		return nil, err
	}
	s.logger.Debug("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))
	return &mockStream{logger: s.logger}, nil
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.CaptionConfig) (string, error) {
	stream, err := s.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		return "", err
	}
	return stream.End()
}

type mockStream struct {
	logger *zap.Logger

	mu    sync.Mutex
	total int
	ended bool
}

// Stream implements repositories.SpeechToTextStreaming
func (m *mockStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return errors.New("stream already ended")
	}
	m.total += len(data)
	return nil
}

// End implements repositories.SpeechToTextStreaming
func (m *mockStream) End() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true

	if m.total == 0 {
		return "", errors.New("no audio data received")
	}

	// 16kHz mono 16-bit audio is 32000 bytes per second
	var caption string
	switch {
	case m.total > 5*32000:
		caption = "Can you describe what you see on my screen?"
	case m.total > 32000:
		caption = "Hello, can you hear me?"
	default:
		caption = "Hi"
	}
	m.logger.Debug("Mock transcription finished", zap.String("result", caption), zap.Int("audioBytes", m.total))
	return caption, nil
}
