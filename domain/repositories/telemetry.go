package repositories

import (
	"context"

	"github.com/satriahrh/geminiplay/domain/entities"
)

// NotificationPublisher delivers status notifications to observers
type NotificationPublisher interface {
	Publish(ctx context.Context, n entities.Notification) error
}
