package entities

import (
	"encoding/binary"
	"testing"
	"time"
)

func pcm(samples ...int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

func TestCaptureOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CaptureOptions)
		wantErr bool
	}{
		{"defaults", func(o *CaptureOptions) {}, false},
		{"zero fps", func(o *CaptureOptions) { o.TargetFPS = 0 }, true},
		{"quality above one", func(o *CaptureOptions) { o.ImageQuality = 1.2 }, true},
		{"quality zero", func(o *CaptureOptions) { o.ImageQuality = 0 }, true},
		{"zero max bytes", func(o *CaptureOptions) { o.MaxFrameBytes = 0 }, true},
		{"negative width", func(o *CaptureOptions) { o.TargetWidth = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultScreenOptions()
			tt.mutate(&opts)
			if err := opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCaptureOptions_Defaults(t *testing.T) {
	screen := DefaultScreenOptions()
	if screen.Period() != 500*time.Millisecond {
		t.Errorf("Expected 500ms period, got %v", screen.Period())
	}
	if screen.MaxFrameBytes != 204800 {
		t.Errorf("Expected 204800 max bytes, got %d", screen.MaxFrameBytes)
	}

	camera := DefaultCameraOptions()
	if camera.TargetFPS <= screen.TargetFPS {
		t.Errorf("Expected camera fps above screen fps, got %v <= %v", camera.TargetFPS, screen.TargetFPS)
	}
}

func TestPcmChunk_DurationAndPeak(t *testing.T) {
	chunk := PcmChunk{SampleRate: 16000, Channels: 1, Data: make([]byte, 3200)}
	if chunk.Samples() != 1600 {
		t.Errorf("Expected 1600 samples, got %d", chunk.Samples())
	}
	if chunk.Duration() != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", chunk.Duration())
	}
	if chunk.Peak() != 0 {
		t.Errorf("Expected silent peak 0, got %v", chunk.Peak())
	}

	loud := PcmChunk{SampleRate: 24000, Channels: 1, Data: pcm(100, -16384, 200)}
	if got := loud.Peak(); got != 0.5 {
		t.Errorf("Expected peak 0.5, got %v", got)
	}

	clipped := PcmChunk{SampleRate: 24000, Channels: 1, Data: pcm(-32768)}
	if got := clipped.Peak(); got != 1 {
		t.Errorf("Expected peak 1, got %v", got)
	}
}

func TestTurnState_IsOpen(t *testing.T) {
	if TurnDisconnected.IsOpen() || TurnConnecting.IsOpen() {
		t.Error("Expected disconnected and connecting to be closed")
	}
	if !TurnConnected.IsOpen() || !TurnToolActive.IsOpen() {
		t.Error("Expected connected and tool active to be open")
	}
}
