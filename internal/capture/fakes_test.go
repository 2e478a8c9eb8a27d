package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/satriahrh/geminiplay/domain/repositories"
)

// noiseImage returns an image that compresses poorly, so its JPEG is well
// above the minimum payload size
func noiseImage(w, h int) *image.RGBA {
	r := rand.New(rand.NewSource(int64(w*h + 7)))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(r.Intn(256)), uint8(r.Intn(256)), uint8(r.Intn(256)), 255})
		}
	}
	return img
}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{40, 80, 120, 255}}, image.Point{}, draw.Src)
	return img
}

func pngBytes(img image.Image) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fakeMic struct {
	mu       sync.Mutex
	openErr  error
	closeErr error
	handler  func([]byte)
	format   repositories.AudioFormat
	opened   int
	closed   int

	// when set, Open signals entered and blocks until gate closes,
	// ignoring ctx like a driver stuck on a permission prompt
	entered chan struct{}
	gate    chan struct{}
}

func (m *fakeMic) Open(ctx context.Context, format repositories.AudioFormat, handler func([]byte)) error {
	if m.gate != nil {
		close(m.entered)
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened++
	m.format = format
	m.handler = handler
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

// push simulates the driver delivering a buffer even after Close
func (m *fakeMic) push(pcm []byte) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(pcm)
	}
}

type fakeStream struct {
	mu        sync.Mutex
	img       *image.RGBA
	ready     atomic.Bool
	loaded    chan struct{}
	ended     chan struct{}
	endOnce   sync.Once
	closed    atomic.Int32
	snapshots atomic.Int32
}

func newFakeStream(img *image.RGBA) *fakeStream {
	s := &fakeStream{
		img:    img,
		loaded: make(chan struct{}),
		ended:  make(chan struct{}),
	}
	s.ready.Store(true)
	close(s.loaded)
	return s
}

// newLoadingStream returns a stream whose first frame never loads
func newLoadingStream(img *image.RGBA) *fakeStream {
	return &fakeStream{
		img:    img,
		loaded: make(chan struct{}),
		ended:  make(chan struct{}),
	}
}

func (s *fakeStream) Loaded() <-chan struct{} { return s.loaded }
func (s *fakeStream) Ready() bool             { return s.ready.Load() }
func (s *fakeStream) Ended() <-chan struct{}  { return s.ended }

func (s *fakeStream) Bounds() image.Rectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.img.Bounds()
}

func (s *fakeStream) Snapshot(dst *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots.Add(1)
	draw.Draw(dst, dst.Bounds(), s.img, s.img.Bounds().Min, draw.Src)
	return nil
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeStream) setImage(img *image.RGBA) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

func (s *fakeStream) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

type fakeSource struct {
	stream  *fakeStream
	openErr error
	hints   repositories.VisualHints
}

func (f *fakeSource) Open(ctx context.Context, hints repositories.VisualHints) (repositories.VisualStream, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.hints = hints
	return f.stream, nil
}

type fakeSink struct {
	attached atomic.Int32
	detached atomic.Int32
}

func (s *fakeSink) Attach(repositories.VisualStream) { s.attached.Add(1) }
func (s *fakeSink) Detach()                          { s.detached.Add(1) }

type fakePicker struct {
	still repositories.Still
	err   error
}

func (p *fakePicker) Pick(ctx context.Context) (repositories.Still, error) {
	return p.still, p.err
}
