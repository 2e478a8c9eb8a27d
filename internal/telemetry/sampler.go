package telemetry

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// SampleInterval is the volume meter refresh period
const SampleInterval = 100 * time.Millisecond

// volumeEpsilon is the smallest level change worth reporting
const volumeEpsilon = 0.01

// LevelFunc returns a normalized level in [0, 1]
type LevelFunc func() float64

// Sampler polls the input and output levels and publishes a volume
// notification whenever either changes
type Sampler struct {
	input     LevelFunc
	output    LevelFunc
	publisher repositories.NotificationPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// NewSampler creates a sampler. c may be nil to use the wall clock.
func NewSampler(input, output LevelFunc, publisher repositories.NotificationPublisher, c clock.Clock, logger *zap.Logger) *Sampler {
	if c == nil {
		c = clock.New()
	}
	return &Sampler{
		input:     input,
		output:    output,
		publisher: publisher,
		clock:     c,
		logger:    logger,
	}
}

// Run samples until ctx is cancelled
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(SampleInterval)
	defer ticker.Stop()

	s.logger.Info("Volume sampler started", zap.Duration("interval", SampleInterval))
	defer s.logger.Info("Volume sampler stopped")

	var lastIn, lastOut float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			in, out := s.input(), s.output()
			if math.Abs(in-lastIn) < volumeEpsilon && math.Abs(out-lastOut) < volumeEpsilon {
				continue
			}
			lastIn, lastOut = in, out

			n := entities.Notification{
				Type:        entities.NotificationVolume,
				InputLevel:  in,
				OutputLevel: out,
				Timestamp:   s.clock.Now(),
			}
			if err := s.publisher.Publish(ctx, n); err != nil {
				s.logger.Debug("Failed to publish volume", zap.Error(err))
			}
		}
	}
}
