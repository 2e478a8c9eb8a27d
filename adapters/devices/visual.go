package devices

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/capture"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// DirSource is a camera or display source backed by a directory. The stream
// shows the most recently written image and ends when the directory is
// removed. Only one stream may be open at a time.
type DirSource struct {
	dir    string
	logger *zap.Logger

	mu   sync.Mutex
	busy bool
}

// NewDirSource creates a source watching dir
func NewDirSource(dir string, logger *zap.Logger) *DirSource {
	return &DirSource{dir: dir, logger: logger}
}

// Open implements repositories.VisualSource
func (s *DirSource) Open(ctx context.Context, hints repositories.VisualHints) (repositories.VisualStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, domain.ErrDeviceBusy
	}

	info, err := os.Stat(s.dir)
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", domain.ErrPermissionDenied, s.dir)
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: no capture directory at %s", domain.ErrNotSupported, s.dir)
	case err != nil:
		return nil, err
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrNotSupported, s.dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	stream := &dirStream{
		source:  s,
		dir:     filepath.Clean(s.dir),
		hints:   hints,
		watcher: watcher,
		logger:  s.logger,
		loaded:  make(chan struct{}),
		ended:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.busy = true

	if latest := latestImage(s.dir); latest != "" {
		stream.load(latest)
	}
	go stream.watch()

	s.logger.Info("Visual source opened", zap.String("dir", s.dir))
	return stream, nil
}

func (s *DirSource) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

type dirStream struct {
	source  *DirSource
	dir     string
	hints   repositories.VisualHints
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.RWMutex
	current image.Image

	loaded     chan struct{}
	loadedOnce sync.Once
	ended      chan struct{}
	endedOnce  sync.Once
	done       chan struct{}
	closeOnce  sync.Once
}

func (s *dirStream) Loaded() <-chan struct{} { return s.loaded }
func (s *dirStream) Ended() <-chan struct{}  { return s.ended }

func (s *dirStream) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

func (s *dirStream) Bounds() image.Rectangle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return image.Rectangle{}
	}
	return s.current.Bounds()
}

func (s *dirStream) Snapshot(dst *image.RGBA) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return fmt.Errorf("no frame available")
	}
	src := s.current.Bounds()
	if src.Size() == dst.Bounds().Size() {
		draw.Copy(dst, dst.Bounds().Min, s.current, src, draw.Src, nil)
		return nil
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), s.current, src, draw.Src, nil)
	return nil
}

func (s *dirStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.watcher.Close()
		s.source.release()
		s.logger.Info("Visual source closed", zap.String("dir", s.dir))
	})
	return err
}

func (s *dirStream) watch() {
	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) == s.dir && (ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)) {
				s.logger.Info("Capture directory removed", zap.String("dir", s.dir))
				s.endedOnce.Do(func() { close(s.ended) })
				return
			}
			if (ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write)) && isImage(ev.Name) {
				s.load(ev.Name)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Watcher error", zap.String("dir", s.dir), zap.Error(err))
		}
	}
}

// load replaces the current frame. Partially written files fail to decode
// and are picked up again on their next write event.
func (s *dirStream) load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("Failed to read frame", zap.String("path", path), zap.Error(err))
		return
	}
	img, _, err := capture.DecodeImage(data)
	if err != nil {
		s.logger.Debug("Failed to decode frame", zap.String("path", path), zap.Error(err))
		return
	}
	img = capture.FitWithin(img, s.hints.Width, s.hints.Height)

	s.mu.Lock()
	s.current = img
	s.mu.Unlock()

	s.loadedOnce.Do(func() { close(s.loaded) })
}

func latestImage(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var latest string
	var latestMod int64
	for _, e := range entries {
		if e.IsDir() || !isImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); latest == "" || mod > latestMod {
			latest, latestMod = filepath.Join(dir, e.Name()), mod
		}
	}
	return latest
}

func isImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}
