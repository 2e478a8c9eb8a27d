package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/frame"
)

func TestStillCapture_DeliversOneFrame(t *testing.T) {
	picker := &fakePicker{still: repositories.Still{
		Name:     "screenshot.png",
		MimeType: "image/png",
		Data:     pngBytes(noiseImage(200, 100)),
	}}
	capture := NewShareCapture(picker, zaptest.NewLogger(t), nil)

	var frames []entities.EncodedFrame
	err := capture.Capture(context.Background(), func(f entities.EncodedFrame) {
		frames = append(frames, f)
	}, entities.DefaultScreenOptions())
	require.NoError(t, err)

	require.Len(t, frames, 1)
	assert.Equal(t, domain.MimeTypeJPEG, frames[0].MimeType)
	assert.Equal(t, entities.CaptureKindScreen, frames[0].Kind)
	assert.Equal(t, uint64(1), frames[0].SequenceNumber)
	assert.True(t, frame.Validate(frames[0].Payload))
}

func TestStillCapture_Errors(t *testing.T) {
	tests := []struct {
		name   string
		newCap func(repositories.StillPicker) *StillCapture
		picker *fakePicker
		want   domain.Kind
		cause  error
	}{
		{
			name:   "share cancelled",
			newCap: func(p repositories.StillPicker) *StillCapture { return NewShareCapture(p, zaptest.NewLogger(t), nil) },
			picker: &fakePicker{err: domain.ErrCancelled},
			want:   domain.KindShareFailed,
			cause:  domain.ErrCancelled,
		},
		{
			name:   "file pick cancelled",
			newCap: func(p repositories.StillPicker) *StillCapture { return NewFilePickCapture(p, zaptest.NewLogger(t), nil) },
			picker: &fakePicker{err: domain.ErrCancelled},
			want:   domain.KindFilePickFailed,
			cause:  domain.ErrCancelled,
		},
		{
			name:   "undecodable file",
			newCap: func(p repositories.StillPicker) *StillCapture { return NewFilePickCapture(p, zaptest.NewLogger(t), nil) },
			picker: &fakePicker{still: repositories.Still{Name: "notes.txt", Data: []byte("hello")}},
			want:   domain.KindFilePickFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := tt.newCap(tt.picker).Capture(context.Background(), func(entities.EncodedFrame) {
				called = true
			}, entities.DefaultScreenOptions())

			assert.True(t, domain.IsKind(err, tt.want), "got %v", err)
			if tt.cause != nil {
				assert.True(t, errors.Is(err, tt.cause))
			}
			assert.False(t, called)
		})
	}
}
