package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// must stay below pongWait
	pingPeriod = pongWait * 9 / 10

	// commands are small JSON documents
	maxMessageSize = 16 * 1024

	// Commands may wait on a picker, so they get a generous bound.
	commandTimeout = 2 * time.Minute

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	// Access is gated by the control token, not the origin
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Commander executes the commands received from observers
type Commander interface {
	Connect(ctx context.Context, apiKey string) error
	Disconnect() error
	SendText(ctx context.Context, text string) error
	ToggleMic(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	ToggleScreen(ctx context.Context) (bool, error)
}

// Hub maintains the set of connected observers, broadcasts notifications to
// them and forwards their commands.
type Hub struct {
	clients    map[string]*Client // guarded by mu
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	commander Commander
	validator *MessageValidator
	logger    *zap.Logger
}

// NewHub creates a hub forwarding observer commands to commander
func NewHub(commander Commander, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commander:  commander,
		validator:  NewMessageValidator(),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It disconnects every client when ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("clientID", client.id))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				client.close()
			}
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return nil
		}
	}
}

// Publish implements repositories.NotificationPublisher. Clients whose send
// buffer is full miss the notification.
func (h *Hub) Publish(_ context.Context, n entities.Notification) error {
	payload, err := json.Marshal(CreateNotificationMessage(n))
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.enqueue(payload) {
			h.logger.Debug("Dropped notification for slow client",
				zap.String("clientID", client.id),
				zap.String("type", string(n.Type)))
		}
	}
	return nil
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and serves an observer identified by clientID
func (h *Hub) HandleWebSocket(c echo.Context, clientID string) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(h, conn, clientID)
	h.register <- client

	go client.writePump()
	go client.readPump()

	return nil
}

// Client is one observer connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte // outbound frames, closed by the hub on unregister

	id     string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		id:     id,
		logger: hub.logger.With(zap.String("clientID", id)),
	}
}

// enqueue queues payload without blocking. It reports false when the
// client is gone or its buffer is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	if !c.enqueue(payload) {
		c.logger.Warn("Failed to queue reply")
	}
}

// readPump pumps commands from the websocket connection to the commander.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			c.logger.Warn("Received unsupported message type", zap.Int("type", messageType))
			c.reply(CreateErrorMessage("invalid_message", "Only text messages are accepted", ""))
			continue
		}
		c.processMessage(message)
	}
}

// writePump owns all writes to conn
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// processMessage validates a command and dispatches it
func (c *Client) processMessage(message []byte) {
	msg, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Rejected message", zap.Error(err))
		c.reply(CreateErrorMessage("invalid_message", "Invalid message", err.Error()))
		return
	}

	switch m := msg.(type) {
	case *PingMessage:
		c.reply(CreatePongMessage(m.Data))
	case *ConnectMessage:
		go c.runCommand(m.BaseMessage, func(ctx context.Context) (*bool, error) {
			return nil, c.hub.commander.Connect(ctx, m.APIKey)
		})
	case *SendTextMessage:
		go c.runCommand(m.BaseMessage, func(ctx context.Context) (*bool, error) {
			return nil, c.hub.commander.SendText(ctx, m.Text)
		})
	case *CommandMessage:
		go c.runCommand(m.BaseMessage, c.toggle(m.Type))
	}
}

func (c *Client) toggle(t MessageType) func(ctx context.Context) (*bool, error) {
	var fn func(context.Context) (bool, error)
	switch t {
	case MessageTypeToggleMic:
		fn = c.hub.commander.ToggleMic
	case MessageTypeToggleCamera:
		fn = c.hub.commander.ToggleCamera
	case MessageTypeToggleScreen:
		fn = c.hub.commander.ToggleScreen
	default:
		return func(context.Context) (*bool, error) {
			return nil, c.hub.commander.Disconnect()
		}
	}
	return func(ctx context.Context) (*bool, error) {
		active, err := fn(ctx)
		return &active, err
	}
}

func (c *Client) runCommand(base BaseMessage, fn func(ctx context.Context) (*bool, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	active, err := fn(ctx)
	if err != nil {
		c.logger.Warn("Command failed", zap.String("command", string(base.Type)), zap.Error(err))
		reply := CreateErrorMessage(domain.KindOf(err).String(), err.Error(), string(base.Type))
		reply.MessageID = base.MessageID
		c.reply(reply)
		return
	}
	c.reply(CreateResultMessage(base.MessageID, base.Type, active))
}
