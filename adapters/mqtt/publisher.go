package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/geminiplay/domain/entities"
)

const publishTimeout = 5 * time.Second

// Config configures the broker connection
type Config struct {
	Broker   string // host:port or a full URL
	ClientID string
	Topic    string
	// VolumeRate caps volume notifications per second
	VolumeRate float64
}

// client is the part of paho.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher sends notifications to an MQTT topic. Volume notifications
// above the configured rate are dropped.
type Publisher struct {
	client  client
	topic   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewPublisher connects to the broker. It keeps reconnecting in the background
// after the first successful connection.
func NewPublisher(cfg Config, logger *zap.Logger) (*Publisher, error) {
	broker := cfg.Broker
	if !hasScheme(broker) {
		broker = "tcp://" + broker
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetMaxReconnectInterval(10 * time.Second)

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("MQTT connected", zap.String("broker", broker))
	})

	c := paho.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}

	return newPublisher(c, cfg, logger), nil
}

func newPublisher(c client, cfg Config, logger *zap.Logger) *Publisher {
	limit := rate.Inf
	if cfg.VolumeRate > 0 {
		limit = rate.Limit(cfg.VolumeRate)
	}
	return &Publisher{
		client:  c,
		topic:   cfg.Topic,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Publish implements repositories.NotificationPublisher
func (p *Publisher) Publish(ctx context.Context, n entities.Notification) error {
	if n.Type == entities.NotificationVolume && !p.limiter.Allow() {
		return nil
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	topic := p.topic + "/" + string(n.Type)
	token := p.client.Publish(topic, 0, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		p.logger.Debug("Failed to publish notification", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(250)
	p.logger.Info("MQTT disconnected")
}

func hasScheme(broker string) bool {
	return strings.Contains(broker, "://")
}
