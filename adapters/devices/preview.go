package devices

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/repositories"
)

// PreviewSink keeps the attached stream so its current frame can be served
// as a preview
type PreviewSink struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	stream repositories.VisualStream
}

// NewPreviewSink creates a named preview surface
func NewPreviewSink(name string, logger *zap.Logger) *PreviewSink {
	return &PreviewSink{name: name, logger: logger}
}

// Attach implements repositories.VideoSink
func (p *PreviewSink) Attach(stream repositories.VisualStream) {
	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	p.logger.Debug("Preview attached", zap.String("preview", p.name))
}

// Detach implements repositories.VideoSink
func (p *PreviewSink) Detach() {
	p.mu.Lock()
	p.stream = nil
	p.mu.Unlock()
	p.logger.Debug("Preview detached", zap.String("preview", p.name))
}

// Attached reports whether a stream is shown
func (p *PreviewSink) Attached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

// JPEG encodes the current frame of the attached stream
func (p *PreviewSink) JPEG(quality int) ([]byte, error) {
	p.mu.Lock()
	stream := p.stream
	p.mu.Unlock()

	if stream == nil || !stream.Ready() {
		return nil, fmt.Errorf("no %s preview available", p.name)
	}

	dst := image.NewRGBA(stream.Bounds())
	if err := stream.Snapshot(dst); err != nil {
		return nil, fmt.Errorf("failed to snapshot %s preview: %w", p.name, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}
