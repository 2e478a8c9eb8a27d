package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

// Defaults for the jitter buffer
const (
	DefaultBlockDuration = 20 * time.Millisecond
	DefaultPrebuffer     = 100 * time.Millisecond
	DefaultStartDeadline = 250 * time.Millisecond

	// audio arriving this soon after the queue ran dry counts as an underrun
	DefaultUnderrunWindow = 200 * time.Millisecond
)

// Streamer plays 24kHz PCM chunks gaplessly through a speaker. Chunks are
// queued and written in fixed-size blocks by a pump goroutine (see Run).
type Streamer struct {
	speaker repositories.Speaker
	clock   clock.Clock
	logger  *zap.Logger
	metrics *telemetry.Metrics

	sampleRate     int
	blockBytes     int
	prebuffer      int
	startDeadline  time.Duration
	underrunWindow time.Duration

	mu          sync.Mutex
	queue       []byte
	playing     bool
	firstAt     time.Time
	drained     bool
	drainedAt   time.Time
	generation  uint64
	cancelWrite context.CancelFunc // set while a block is being written
	wake        chan struct{}

	level     atomic.Uint64
	underruns atomic.Uint64
	played    atomic.Uint64
	onVolume  atomic.Pointer[func(float64)]
}

// Option configures a Streamer
type Option func(*Streamer)

// WithClock replaces the wall clock used for the start deadline
func WithClock(c clock.Clock) Option {
	return func(s *Streamer) { s.clock = c }
}

// WithBlockDuration sets the duration of each speaker write
func WithBlockDuration(d time.Duration) Option {
	return func(s *Streamer) { s.blockBytes = bytesFor(s.sampleRate, d) }
}

// WithPrebuffer sets how much audio must queue before playback starts
func WithPrebuffer(d time.Duration) Option {
	return func(s *Streamer) { s.prebuffer = bytesFor(s.sampleRate, d) }
}

// WithStartDeadline sets how long a short queue waits before playing anyway
func WithStartDeadline(d time.Duration) Option {
	return func(s *Streamer) { s.startDeadline = d }
}

// WithUnderrunWindow sets how soon after the queue ran dry new audio must
// arrive to count as an underrun rather than the end of a turn
func WithUnderrunWindow(d time.Duration) Option {
	return func(s *Streamer) { s.underrunWindow = d }
}

// NewStreamer creates a streamer for the speaker
func NewStreamer(speaker repositories.Speaker, logger *zap.Logger, metrics *telemetry.Metrics, opts ...Option) *Streamer {
	s := &Streamer{
		speaker:       speaker,
		clock:         clock.New(),
		logger:        logger,
		metrics:       metrics,
		sampleRate:    entities.PlaybackSampleRate,
		startDeadline:  DefaultStartDeadline,
		underrunWindow: DefaultUnderrunWindow,
		wake:           make(chan struct{}, 1),
	}
	s.blockBytes = bytesFor(s.sampleRate, DefaultBlockDuration)
	s.prebuffer = bytesFor(s.sampleRate, DefaultPrebuffer)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddChunk enqueues a chunk for playback after everything already queued
func (s *Streamer) AddChunk(chunk entities.PcmChunk) {
	if len(chunk.Data) == 0 {
		return
	}
	if chunk.SampleRate != 0 && chunk.SampleRate != s.sampleRate {
		s.logger.Warn("Unexpected playback sample rate",
			zap.Int("expected", s.sampleRate),
			zap.Int("got", chunk.SampleRate))
	}

	s.mu.Lock()
	if len(s.queue) == 0 && !s.playing {
		s.firstAt = s.clock.Now()
	}
	underrun := s.drained && s.clock.Since(s.drainedAt) <= s.underrunWindow
	s.drained = false
	s.queue = append(s.queue, chunk.Data...)
	s.mu.Unlock()

	if underrun {
		s.underruns.Add(1)
		s.metrics.PlaybackUnderrun()
	}
	s.signal()
}

// Resume wakes the speaker if the platform suspended it
func (s *Streamer) Resume(ctx context.Context) error {
	if !s.speaker.Suspended() {
		return nil
	}
	if err := s.speaker.Resume(ctx); err != nil {
		return fmt.Errorf("failed to resume speaker: %w", err)
	}
	s.logger.Debug("Speaker resumed")
	return nil
}

// Stop silences output immediately and discards everything queued. An idle
// streamer is left untouched.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.drained = false
	if len(s.queue) == 0 && !s.playing && s.cancelWrite == nil {
		s.mu.Unlock()
		return
	}
	dropped := len(s.queue)
	s.queue = nil
	s.playing = false
	s.generation++
	cancelWrite := s.cancelWrite
	s.cancelWrite = nil
	s.mu.Unlock()

	if cancelWrite != nil {
		cancelWrite()
	}
	s.speaker.Flush()
	s.setLevel(0)

	if dropped > 0 {
		s.logger.Info("Playback stopped", zap.Duration("dropped", s.durationOf(dropped)))
	}
}

// Volume returns the normalized peak of the most recently played block
func (s *Streamer) Volume() float64 {
	return math.Float64frombits(s.level.Load())
}

// OnVolume registers fn to receive the level of every played block
func (s *Streamer) OnVolume(fn func(float64)) {
	s.onVolume.Store(&fn)
}

// Queued returns the duration of audio waiting to be played
func (s *Streamer) Queued() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationOf(len(s.queue))
}

// Underruns returns how many times playback stalled: the queue ran dry and
// more audio arrived within the underrun window
func (s *Streamer) Underruns() uint64 {
	return s.underruns.Load()
}

// Run pumps queued audio to the speaker until ctx is done
func (s *Streamer) Run(ctx context.Context) error {
	s.logger.Info("Playback pump started",
		zap.Int("blockBytes", s.blockBytes),
		zap.Int("prebufferBytes", s.prebuffer))

	for {
		block, gen, ok := s.nextBlock(ctx)
		if !ok {
			s.logger.Info("Playback pump stopped")
			return ctx.Err()
		}

		writeCtx, cancel := context.WithCancel(ctx)
		if !s.beginWrite(gen, cancel) {
			cancel()
			continue
		}
		err := s.speaker.Write(writeCtx, block)
		s.endWrite()
		stopped := writeCtx.Err() != nil
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !stopped {
				s.logger.Warn("Failed to write to speaker", zap.Error(err))
			}
			continue
		}

		s.played.Add(1)
		s.metrics.AudioPlayed()
		if s.current(gen) {
			s.setLevel(entities.PeakLevel(block))
		}
	}
}

// nextBlock waits until a block may be played and dequeues it
func (s *Streamer) nextBlock(ctx context.Context) ([]byte, uint64, bool) {
	for {
		var wait <-chan time.Time

		s.mu.Lock()
		if !s.playing && len(s.queue) > 0 {
			if len(s.queue) >= s.prebuffer || s.clock.Since(s.firstAt) >= s.startDeadline {
				s.playing = true
			}
		}

		if s.playing {
			if len(s.queue) > 0 {
				n := min(s.blockBytes, len(s.queue))
				block := make([]byte, n)
				copy(block, s.queue[:n])
				s.queue = s.queue[n:]
				gen := s.generation
				s.mu.Unlock()
				return block, gen, true
			}

			s.playing = false
			s.drained = true
			s.drainedAt = s.clock.Now()
			s.mu.Unlock()
			s.setLevel(0)
			continue
		}

		if len(s.queue) > 0 {
			remaining := s.startDeadline - s.clock.Since(s.firstAt)
			wait = s.clock.After(remaining)
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, 0, false
		case <-s.wake:
		case <-wait:
		}
	}
}

func (s *Streamer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

// beginWrite registers cancel so Stop can cut off the write of a block of
// generation gen. It reports false when Stop already discarded that block.
func (s *Streamer) beginWrite(gen uint64, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return false
	}
	s.cancelWrite = cancel
	return true
}

func (s *Streamer) endWrite() {
	s.mu.Lock()
	s.cancelWrite = nil
	s.mu.Unlock()
}

func (s *Streamer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Streamer) setLevel(v float64) {
	s.level.Store(math.Float64bits(v))
	if fn := s.onVolume.Load(); fn != nil && *fn != nil {
		(*fn)(v)
	}
}

func (s *Streamer) durationOf(n int) time.Duration {
	return time.Duration(n/entities.BytesPerSample) * time.Second / time.Duration(s.sampleRate)
}

func bytesFor(sampleRate int, d time.Duration) int {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return max(n, 1) * entities.BytesPerSample
}
