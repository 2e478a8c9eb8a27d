package repositories

import "context"

// CaptionConfig describes the audio handed to a recognizer
type CaptionConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"` // LINEAR16, FLAC, MULAW, OGG_OPUS or WEBM_OPUS
	Language   string `json:"language"` // BCP-47
}

// SpeechToText captions microphone audio alongside the live session
type SpeechToText interface {
	TranscribeAudio(ctx context.Context, audio []byte, config CaptionConfig) (string, error)
	InitTranscribeStreaming(ctx context.Context, config CaptionConfig) (SpeechToTextStreaming, error)
}

// SpeechToTextStreaming is one streaming recognition. End returns the final
// transcript; Stream fails after End.
type SpeechToTextStreaming interface {
	Stream(pcm []byte) error
	End() (string, error)
}
