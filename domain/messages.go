package domain

// MediaChunk is the outbound envelope for a realtime media unit
type MediaChunk struct {
	MimeType  string `json:"mimeType"`
	Data      string `json:"data"` // base64 encoded
	Interrupt bool   `json:"interrupt,omitempty"`
}

// TextMessage is the outbound envelope for a typed user message
type TextMessage struct {
	Text string `json:"text"`
}

// Outbound MIME types
const (
	MimeTypeAudioPCM16k = "audio/pcm;rate=16000"
	MimeTypeJPEG        = "image/jpeg"
)
