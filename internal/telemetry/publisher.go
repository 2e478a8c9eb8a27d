package telemetry

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// Fanout delivers every notification to all registered publishers. A failing
// publisher is logged and does not stop delivery to the others.
type Fanout struct {
	logger *zap.Logger

	mu         sync.RWMutex
	publishers []repositories.NotificationPublisher
}

// NewFanout creates a fan-out over pubs
func NewFanout(logger *zap.Logger, pubs ...repositories.NotificationPublisher) *Fanout {
	return &Fanout{logger: logger, publishers: pubs}
}

// Add registers another publisher
func (f *Fanout) Add(p repositories.NotificationPublisher) {
	f.mu.Lock()
	f.publishers = append(f.publishers, p)
	f.mu.Unlock()
}

// Publish implements repositories.NotificationPublisher
func (f *Fanout) Publish(ctx context.Context, n entities.Notification) error {
	f.mu.RLock()
	pubs := f.publishers
	f.mu.RUnlock()

	for _, p := range pubs {
		if err := p.Publish(ctx, n); err != nil {
			f.logger.Warn("Failed to publish notification",
				zap.String("type", string(n.Type)),
				zap.Error(err))
		}
	}
	return nil
}

// LogPublisher writes notifications to the log. Volume samples are skipped.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a publisher writing to logger
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish implements repositories.NotificationPublisher
func (p *LogPublisher) Publish(_ context.Context, n entities.Notification) error {
	fields := []zap.Field{zap.String("type", string(n.Type))}
	if n.Kind != "" {
		fields = append(fields, zap.String("kind", string(n.Kind)))
	}
	if n.State != "" {
		fields = append(fields, zap.String("state", n.State))
	}

	switch n.Type {
	case entities.NotificationVolume:
		return nil
	case entities.NotificationError:
		p.logger.Warn(n.Message, fields...)
	default:
		p.logger.Info(n.Message, fields...)
	}
	return nil
}
