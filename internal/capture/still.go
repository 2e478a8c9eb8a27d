package capture

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/frame"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

// StillCapture obtains a single screen image through a picker for platforms
// without live display capture
type StillCapture struct {
	picker  repositories.StillPicker
	kind    domain.Kind // KindShareFailed or KindFilePickFailed
	logger  *zap.Logger
	metrics *telemetry.Metrics
	seq     uint64
}

// NewShareCapture creates a still capture backed by a share intent
func NewShareCapture(picker repositories.StillPicker, logger *zap.Logger, metrics *telemetry.Metrics) *StillCapture {
	return &StillCapture{picker: picker, kind: domain.KindShareFailed, logger: logger, metrics: metrics}
}

// NewFilePickCapture creates a still capture backed by a file chooser
func NewFilePickCapture(picker repositories.StillPicker, logger *zap.Logger, metrics *telemetry.Metrics) *StillCapture {
	return &StillCapture{picker: picker, kind: domain.KindFilePickFailed, logger: logger, metrics: metrics}
}

// Capture picks one image, re-encodes it as JPEG within opts and delivers it
// once to onFrame
func (c *StillCapture) Capture(ctx context.Context, onFrame func(entities.EncodedFrame), opts entities.CaptureOptions) error {
	op := "still.Capture"

	still, err := c.picker.Pick(ctx)
	if err != nil {
		c.logger.Warn("Failed to pick image", zap.Error(err))
		return domain.NewError(c.kind, op, "", err)
	}

	img, format, err := DecodeImage(still.Data)
	if err != nil {
		return domain.NewError(c.kind, op, "", err)
	}

	img = FitWithin(img, opts.TargetWidth, opts.TargetHeight)
	payload, err := EncodeJPEG(img, opts.ImageQuality, opts.MaxFrameBytes)
	if err != nil {
		return domain.NewError(c.kind, op, "", err)
	}

	if err := frame.ValidateFrame(payload); err != nil {
		c.metrics.FrameDropped(entities.CaptureKindScreen, "invalid")
		return domain.NewError(c.kind, op, "", err)
	}

	c.seq++
	c.metrics.FrameCaptured(entities.CaptureKindScreen, len(payload))
	c.logger.Info("Captured still image",
		zap.String("name", still.Name),
		zap.String("format", format),
		zap.Int("payloadBytes", len(payload)))

	onFrame(entities.EncodedFrame{
		MimeType:       domain.MimeTypeJPEG,
		Payload:        payload,
		SequenceNumber: c.seq,
		Kind:           entities.CaptureKindScreen,
		CapturedAt:     time.Now(),
	})
	return nil
}
