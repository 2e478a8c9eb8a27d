package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Model audio turns arrive as large base64 messages.
	maxMessageSize = 16 * 1024 * 1024

	eventBuffer = 64

	defaultHost       = "generativelanguage.googleapis.com"
	defaultAPIVersion = "v1alpha"
	dialTimeout       = 30 * time.Second
)

// WebSocketConfig holds endpoint settings for the raw websocket transport
type WebSocketConfig struct {
	// Host is the API host, optionally with a ws:// or wss:// scheme
	Host       string
	APIVersion string
}

// WebSocketDialer speaks the bidirectional generate-content protocol directly
// over a gorilla websocket
type WebSocketDialer struct {
	endpoint string
	dialer   *websocket.Dialer
	logger   *zap.Logger
}

// NewWebSocketDialer creates a dialer, applying defaults for unset fields
func NewWebSocketDialer(config WebSocketConfig, logger *zap.Logger) *WebSocketDialer {
	host := config.Host
	if host == "" {
		host = defaultHost
		logger.Info("Using default host", zap.String("host", host))
	}
	if !strings.HasPrefix(host, "ws://") && !strings.HasPrefix(host, "wss://") {
		host = "wss://" + host
	}

	version := config.APIVersion
	if version == "" {
		version = defaultAPIVersion
		logger.Info("Using default API version", zap.String("apiVersion", version))
	}

	return &WebSocketDialer{
		endpoint: fmt.Sprintf("%s/ws/google.ai.generativelanguage.%s.GenerativeService.BidiGenerateContent", host, version),
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
			ReadBufferSize:   64 * 1024,
			WriteBufferSize:  64 * 1024,
		},
		logger: logger,
	}
}

// Dial connects and sends the setup message
func (d *WebSocketDialer) Dial(ctx context.Context, setup repositories.LiveSetup) (repositories.LiveConn, error) {
	if setup.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if setup.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	target := d.endpoint + "?key=" + url.QueryEscape(setup.APIKey)
	ws, _, err := d.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", d.endpoint, err)
	}

	c := newWSConn(ws, d.logger)
	if err := c.writeJSON(ctx, newSetupMessage(setup)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("failed to send setup: %w", err)
	}

	c.emit(repositories.LiveEvent{Type: repositories.EventOpen})
	c.emit(repositories.LiveEvent{Type: repositories.EventLog, LogType: "client.send", LogMessage: "setup"})

	go c.readPump()
	go c.pingPump()

	d.logger.Info("Live websocket connected", zap.String("model", setup.Model))
	return c, nil
}

type wsConn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	events    chan repositories.LiveEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, logger *zap.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		logger: logger,
		events: make(chan repositories.LiveEvent, eventBuffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) SendRealtimeInput(ctx context.Context, chunks []domain.MediaChunk) error {
	return c.writeJSON(ctx, realtimeInputMessage{RealtimeInput: realtimeInput{MediaChunks: chunks}})
}

func (c *wsConn) SendText(ctx context.Context, text string) error {
	if err := c.writeJSON(ctx, newTextMessage(text)); err != nil {
		return err
	}
	c.emit(repositories.LiveEvent{Type: repositories.EventLog, LogType: "client.send", LogMessage: text})
	return nil
}

func (c *wsConn) Events() <-chan repositories.LiveEvent {
	return c.events
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// emit delivers an event unless the connection was closed locally
func (c *wsConn) emit(ev repositories.LiveEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// readPump pumps server messages into the event channel
func (c *wsConn) readPump() {
	defer close(c.events)

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			c.emitClose(err)
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg serverMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("Failed to parse server message", zap.Error(err))
			c.emit(repositories.LiveEvent{Type: repositories.EventLog, LogType: "server.message", LogMessage: "Unparseable message"})
			continue
		}

		for _, ev := range translate(msg) {
			c.emit(ev)
		}
	}
}

func (c *wsConn) emitClose(err error) {
	select {
	case <-c.done:
		// closed locally; nobody is waiting for a close event
		return
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		c.logger.Info("Live websocket closed by server",
			zap.Int("code", closeErr.Code),
			zap.String("reason", closeErr.Text))
		c.emit(repositories.LiveEvent{Type: repositories.EventClose, CloseCode: closeErr.Code, CloseReason: closeErr.Text})
		return
	}

	c.logger.Error("Live websocket error", zap.Error(err))
	c.emit(repositories.LiveEvent{Type: repositories.EventError, Err: err})
	c.emit(repositories.LiveEvent{Type: repositories.EventClose, CloseCode: websocket.CloseAbnormalClosure, CloseReason: err.Error()})
}

func (c *wsConn) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
