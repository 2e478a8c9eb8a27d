package entities

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Audio formats used on the wire
const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000
	MonoChannels       = 1
	BytesPerSample     = 2
)

// CaptureKind identifies a capture pipeline
type CaptureKind string

const (
	CaptureKindAudio  CaptureKind = "audio"
	CaptureKindCamera CaptureKind = "camera"
	CaptureKindScreen CaptureKind = "screen"
)

// CaptureOptions configures a visual capture session
type CaptureOptions struct {
	TargetFPS     float64 `json:"target_fps"`
	ImageQuality  float64 `json:"image_quality"` // 0..1
	TargetWidth   int     `json:"target_width"`
	TargetHeight  int     `json:"target_height"`
	MaxFrameBytes int     `json:"max_frame_bytes"`
}

// DefaultScreenOptions returns the defaults for screen capture
func DefaultScreenOptions() CaptureOptions {
	return CaptureOptions{
		TargetFPS:     2,
		ImageQuality:  0.8,
		TargetWidth:   1280,
		TargetHeight:  720,
		MaxFrameBytes: 200 * 1024,
	}
}

// DefaultCameraOptions returns the defaults for camera capture. Camera runs at a
// higher rate than screen capture.
func DefaultCameraOptions() CaptureOptions {
	opts := DefaultScreenOptions()
	opts.TargetFPS = 5
	return opts
}

// Validate checks the option ranges
func (o CaptureOptions) Validate() error {
	if o.TargetFPS <= 0 {
		return errors.New("target fps must be positive")
	}
	if o.ImageQuality <= 0 || o.ImageQuality > 1 {
		return errors.New("image quality must be in (0, 1]")
	}
	if o.MaxFrameBytes <= 0 {
		return errors.New("max frame bytes must be positive")
	}
	if o.TargetWidth < 0 || o.TargetHeight < 0 {
		return errors.New("target dimensions cannot be negative")
	}
	return nil
}

// Period is the interval between capture ticks
func (o CaptureOptions) Period() time.Duration {
	return time.Duration(float64(time.Second) / o.TargetFPS)
}

// EncodedFrame is a single captured image ready to send. It is never mutated
// after creation.
type EncodedFrame struct {
	MimeType       string      `json:"mime_type"`
	Payload        string      `json:"payload"` // base64 encoded JPEG
	SequenceNumber uint64      `json:"sequence_number"`
	Kind           CaptureKind `json:"kind"`
	CapturedAt     time.Time   `json:"captured_at"`
}

// PcmChunk is a buffer of 16-bit little-endian PCM samples
type PcmChunk struct {
	SampleRate int
	Channels   int
	Data       []byte
}

// Samples returns the number of samples per channel
func (c PcmChunk) Samples() int {
	if c.Channels <= 0 {
		return 0
	}
	return len(c.Data) / (BytesPerSample * c.Channels)
}

// Duration returns the playback duration of the chunk
func (c PcmChunk) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.SampleRate)
}

// Peak returns the peak sample magnitude normalized to [0, 1]
func (c PcmChunk) Peak() float64 {
	return PeakLevel(c.Data)
}

// PeakLevel returns the normalized peak magnitude of 16-bit little-endian samples
func PeakLevel(data []byte) float64 {
	var peak float64
	for i := 0; i+1 < len(data); i += BytesPerSample {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		v := math.Abs(float64(s))
		if v > peak {
			peak = v
		}
	}
	return math.Min(peak/32768.0, 1)
}

// CaptureSessionState is the lifecycle of a capture session
type CaptureSessionState string

const (
	CaptureIdle       CaptureSessionState = "idle"
	CaptureRequesting CaptureSessionState = "requesting"
	CaptureActive     CaptureSessionState = "active"
	CaptureStopping   CaptureSessionState = "stopping"
	CaptureFailed     CaptureSessionState = "failed"
)

// TurnState is the conversation connection state
type TurnState string

const (
	TurnDisconnected TurnState = "disconnected"
	TurnConnecting   TurnState = "connecting"
	TurnConnected    TurnState = "connected"
	TurnToolActive   TurnState = "tool_active"
)

// IsOpen reports whether the connection can carry outbound traffic
func (s TurnState) IsOpen() bool {
	return s == TurnConnected || s == TurnToolActive
}
