package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/repositories"
)

// GoogleSpeechToText captions microphone audio with Google Cloud Speech-to-Text
type GoogleSpeechToText struct {
	client *speech.Client
	logger *zap.Logger
}

// NewGoogleSpeechToText creates a client using application default credentials
func NewGoogleSpeechToText(ctx context.Context, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &GoogleSpeechToText{client: client, logger: logger}, nil
}

// Close releases the client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// InitTranscribeStreaming implements repositories.SpeechToText
func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.CaptionConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	channels := config.Channels
	if channels <= 0 {
		channels = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:          encoding,
					SampleRateHertz:   int32(config.SampleRate),
					AudioChannelCount: int32(channels),
					LanguageCode:      config.Language,
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &googleStream{
		stream: stream,
		ctx:    ctx,
		cancel: cancel,
		logger: g.logger,
		result: make(chan result, 1),
	}
	go s.receiveResults()
	return s, nil
}

// TranscribeAudio implements repositories.SpeechToText
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.CaptionConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", fmt.Errorf("failed to initialize streaming: %w", err)
	}
	if err := stream.Stream(audioData); err != nil {
		return "", fmt.Errorf("failed to stream audio data: %w", err)
	}
	return stream.End()
}

type result struct {
	text string
	err  error
}

type googleStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	result chan result

	mu            sync.Mutex
	audioReceived bool
}

// Stream implements repositories.SpeechToTextStreaming
func (s *googleStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioReceived = true

	if err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// End implements repositories.SpeechToTextStreaming
func (s *googleStream) End() (string, error) {
	defer s.cancel()

	s.mu.Lock()
	received := s.audioReceived
	err := s.stream.CloseSend()
	s.mu.Unlock()

	if !received {
		return "", errors.New("no audio data received")
	}
	if err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-s.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", s.ctx.Err())
	case r := <-s.result:
		if r.err != nil {
			return "", r.err
		}
		if r.text == "" {
			return "", errors.New("no speech detected in audio")
		}
		return r.text, nil
	}
}

func (s *googleStream) receiveResults() {
	var parts []string
	for {
		resp, err := s.stream.Recv()
		if err == io.EOF {
			s.result <- result{text: strings.Join(parts, " ")}
			return
		}
		if err != nil {
			s.result <- result{err: fmt.Errorf("failed to receive response: %w", err)}
			return
		}

		for _, r := range resp.Results {
			if r.IsFinal && len(r.Alternatives) > 0 {
				parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
			}
		}
	}
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
