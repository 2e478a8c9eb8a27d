package repositories

import (
	"context"
	"image"
)

// AudioFormat describes the PCM stream requested from a microphone
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BufferSamples int
}

// Microphone is an exclusive audio input device. Once opened it calls the
// handler with 16-bit little-endian PCM buffers at its own cadence until Close.
// Open returns domain.ErrPermissionDenied or domain.ErrDeviceBusy on refusal.
type Microphone interface {
	Open(ctx context.Context, format AudioFormat, handler func(pcm []byte)) error
	Close() error
}

// VisualHints are the preferred properties of a visual stream
type VisualHints struct {
	Width     int
	Height    int
	FrameRate float64
}

// VisualSource opens a camera or display capture stream
type VisualSource interface {
	Open(ctx context.Context, hints VisualHints) (VisualStream, error)
}

// VisualStream is a live image source
type VisualStream interface {
	// Loaded is closed once the stream knows its dimensions.
	Loaded() <-chan struct{}
	// Ready reports whether a current frame can be read.
	Ready() bool
	// Bounds returns the current frame dimensions.
	Bounds() image.Rectangle
	// Snapshot draws the current frame into dst.
	Snapshot(dst *image.RGBA) error
	// Ended is closed when the stream is ended by the user or the system.
	Ended() <-chan struct{}
	Close() error
}

// VideoSink is a preview surface a stream can be attached to
type VideoSink interface {
	Attach(stream VisualStream)
	Detach()
}

// Speaker is an audio output device for 16-bit little-endian PCM
type Speaker interface {
	// Write plays pcm, blocking roughly for its duration. Nothing is played
	// once ctx is done.
	Write(ctx context.Context, pcm []byte) error
	// Flush drops anything buffered in the device.
	Flush()
	// Resume wakes a suspended output.
	Resume(ctx context.Context) error
	Suspended() bool
	Close() error
}

// Still is a single image obtained through a picker
type Still struct {
	Name     string
	MimeType string
	Data     []byte
}

// StillPicker obtains one image, through a share intent or a file chooser.
// It returns domain.ErrCancelled when the user dismisses the picker.
type StillPicker interface {
	Pick(ctx context.Context) (Still, error)
}
