package devices

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// PathPicker is a file chooser that always picks the configured file.
// An empty path behaves like a dismissed chooser.
type PathPicker struct {
	path   string
	logger *zap.Logger
}

// NewPathPicker creates a picker for path
func NewPathPicker(path string, logger *zap.Logger) *PathPicker {
	return &PathPicker{path: path, logger: logger}
}

// Pick implements repositories.StillPicker
func (p *PathPicker) Pick(ctx context.Context) (repositories.Still, error) {
	if p.path == "" {
		return repositories.Still{}, domain.ErrCancelled
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return repositories.Still{}, fmt.Errorf("%w: %s", domain.ErrPermissionDenied, p.path)
		}
		return repositories.Still{}, fmt.Errorf("failed to read %s: %w", p.path, err)
	}

	p.logger.Info("File picked", zap.String("path", p.path), zap.Int("bytes", len(data)))
	return repositories.Still{
		Name:     filepath.Base(p.path),
		MimeType: mimeTypeOf(p.path, data),
		Data:     data,
	}, nil
}

// UploadPicker is a share target: Pick waits for an image delivered through
// Deliver, usually from an HTTP upload
type UploadPicker struct {
	uploads chan repositories.Still
	logger  *zap.Logger
}

// NewUploadPicker creates a share target
func NewUploadPicker(logger *zap.Logger) *UploadPicker {
	return &UploadPicker{
		uploads: make(chan repositories.Still, 1),
		logger:  logger,
	}
}

// Deliver hands a shared image to a pending or future Pick. It fails when an
// earlier delivery has not been picked up yet.
func (p *UploadPicker) Deliver(still repositories.Still) error {
	if still.MimeType == "" {
		still.MimeType = mimeTypeOf(still.Name, still.Data)
	}
	select {
	case p.uploads <- still:
		p.logger.Info("Share received", zap.String("name", still.Name), zap.Int("bytes", len(still.Data)))
		return nil
	default:
		return domain.ErrDeviceBusy
	}
}

// Pick implements repositories.StillPicker. Cancelling ctx dismisses the
// share sheet.
func (p *UploadPicker) Pick(ctx context.Context) (repositories.Still, error) {
	select {
	case still := <-p.uploads:
		return still, nil
	case <-ctx.Done():
		return repositories.Still{}, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}
}

func mimeTypeOf(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
