package coordinator

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/entities"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/telemetry"
)

// ErrNotConnected is returned by sends while no connection is open
var ErrNotConnected = errors.New("not connected")

const resumeTimeout = 2 * time.Second

// Player is the audio output driven by inbound audio events
type Player interface {
	AddChunk(chunk entities.PcmChunk)
	Resume(ctx context.Context) error
	Stop()
}

// Stoppable is a component torn down together with the connection
type Stoppable interface {
	Stop() error
}

// Handlers receive inbound events after the coordinator has processed them.
// They run on the event goroutine and any of them may be nil.
type Handlers struct {
	OnStateChange   func(state entities.TurnState)
	OnLog           func(logType, message string)
	OnText          func(text string)
	OnSetupComplete func()
	OnTurnComplete  func()
	OnInterrupted   func()
	OnServerError   func(message string)
	OnDisconnected  func(code int, reason string)
}

// Coordinator owns the single live connection, routes outbound media and
// dispatches inbound events in arrival order
type Coordinator struct {
	dialer   repositories.LiveDialer
	player   Player
	handlers Handlers
	logger   *zap.Logger
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	state    entities.TurnState
	conn     repositories.LiveConn
	gen      uint64
	attached map[string]Stoppable

	// ends with the open connection
	connCtx    context.Context
	connCancel context.CancelFunc
}

// New creates a disconnected coordinator
func New(dialer repositories.LiveDialer, player Player, handlers Handlers, logger *zap.Logger, metrics *telemetry.Metrics) *Coordinator {
	c := &Coordinator{
		dialer:   dialer,
		player:   player,
		handlers: handlers,
		logger:   logger,
		metrics:  metrics,
		state:    entities.TurnDisconnected,
		attached: make(map[string]Stoppable),
	}
	metrics.SetTurnState(c.state)
	return c
}

// Connect opens the connection and sends the session setup
func (c *Coordinator) Connect(ctx context.Context, setup repositories.LiveSetup) error {
	if strings.TrimSpace(setup.APIKey) == "" {
		return domain.NewError(domain.KindConnectFailed, "coordinator.Connect", "API key is required", nil)
	}

	c.mu.Lock()
	if c.state != entities.TurnDisconnected {
		c.mu.Unlock()
		return domain.NewError(domain.KindConnectFailed, "coordinator.Connect", "connection already "+string(c.state), nil)
	}
	c.gen++
	gen := c.gen
	c.state = entities.TurnConnecting
	c.mu.Unlock()
	c.notifyState(entities.TurnConnecting)

	c.logger.Info("Connecting", zap.String("model", setup.Model))
	conn, err := c.dialer.Dial(ctx, setup)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen {
			c.state = entities.TurnDisconnected
		}
		c.mu.Unlock()
		c.notifyState(entities.TurnDisconnected)
		c.logger.Error("Failed to connect", zap.Error(err))
		return domain.NewError(domain.KindConnectFailed, "coordinator.Connect", "", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.state != entities.TurnConnecting {
		c.mu.Unlock()
		conn.Close()
		return domain.NewError(domain.KindConnectFailed, "coordinator.Connect", "connection cancelled", nil)
	}
	c.conn = conn
	c.state = entities.TurnConnected
	c.connCtx, c.connCancel = context.WithCancel(context.Background())
	c.mu.Unlock()
	c.notifyState(entities.TurnConnected)

	go c.eventLoop(conn, gen)

	c.logger.Info("Connected", zap.String("model", setup.Model))
	return nil
}

// Disconnect closes the connection and stops every attached component
func (c *Coordinator) Disconnect() error {
	conn, comps, ok := c.detach()
	if !ok {
		return nil
	}
	c.logger.Info("Disconnecting")
	c.release(conn, comps)
	c.notifyState(entities.TurnDisconnected)
	if c.handlers.OnDisconnected != nil {
		c.handlers.OnDisconnected(0, "client disconnect")
	}
	return nil
}

// Bind derives a context from ctx that is also cancelled when the open
// connection ends, and returns the connection generation to pass to Attach.
// It fails with ErrNotConnected when no connection is open.
func (c *Coordinator) Bind(ctx context.Context) (context.Context, context.CancelFunc, uint64, error) {
	c.mu.Lock()
	if !c.state.IsOpen() {
		c.mu.Unlock()
		return nil, nil, 0, ErrNotConnected
	}
	connCtx, gen := c.connCtx, c.gen
	c.mu.Unlock()

	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(connCtx, cancel)
	return bound, func() {
		stop()
		cancel()
	}, gen, nil
}

// Attach registers a component to be stopped when connection gen ends. A
// component attached under an existing name replaces it. It fails with
// ErrNotConnected when that connection has already ended, in which case the
// caller owns stopping comp.
func (c *Coordinator) Attach(gen uint64, name string, comp Stoppable) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || !c.state.IsOpen() {
		return ErrNotConnected
	}
	c.attached[name] = comp
	return nil
}

// Detach unregisters a component without stopping it
func (c *Coordinator) Detach(name string) {
	c.mu.Lock()
	delete(c.attached, name)
	c.mu.Unlock()
}

// State returns the current turn state
func (c *Coordinator) State() entities.TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendAudio sends a captured chunk. The interrupt flag is set while a tool
// call is active.
func (c *Coordinator) SendAudio(ctx context.Context, chunk entities.PcmChunk) error {
	conn, state, gen := c.snapshot()
	if !state.IsOpen() {
		return domain.NewError(domain.KindSendFailed, "coordinator.SendAudio", "", ErrNotConnected)
	}

	err := conn.SendRealtimeInput(ctx, []domain.MediaChunk{{
		MimeType:  domain.MimeTypeAudioPCM16k,
		Data:      base64.StdEncoding.EncodeToString(chunk.Data),
		Interrupt: state == entities.TurnToolActive,
	}})
	if err != nil {
		return c.sendFailed(gen, "audio", err)
	}
	return nil
}

// SendFrame sends an encoded frame
func (c *Coordinator) SendFrame(ctx context.Context, f entities.EncodedFrame) error {
	conn, state, gen := c.snapshot()
	if !state.IsOpen() {
		return domain.NewError(domain.KindSendFailed, "coordinator.SendFrame", "", ErrNotConnected)
	}

	err := conn.SendRealtimeInput(ctx, []domain.MediaChunk{{
		MimeType: f.MimeType,
		Data:     f.Payload,
	}})
	if err != nil {
		return c.sendFailed(gen, "frame", err)
	}
	return nil
}

// SendText sends a typed user turn
func (c *Coordinator) SendText(ctx context.Context, text string) error {
	conn, state, gen := c.snapshot()
	if !state.IsOpen() {
		return domain.NewError(domain.KindSendFailed, "coordinator.SendText", "", ErrNotConnected)
	}

	if err := conn.SendText(ctx, text); err != nil {
		return c.sendFailed(gen, "text", err)
	}
	return nil
}

func (c *Coordinator) snapshot() (repositories.LiveConn, entities.TurnState, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.state, c.gen
}

// sendFailed resets the connection. Components are released on a separate
// goroutine since the caller may be a capture callback of one of them.
func (c *Coordinator) sendFailed(gen uint64, unit string, err error) error {
	c.metrics.SendFailed(unit)
	c.logger.Error("Failed to send", zap.String("unit", unit), zap.Error(err))

	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()

	if current {
		if conn, comps, ok := c.detach(); ok {
			go c.release(conn, comps)
			c.notifyState(entities.TurnDisconnected)
			if c.handlers.OnDisconnected != nil {
				c.handlers.OnDisconnected(0, "send failed: "+err.Error())
			}
		}
	}

	return domain.NewError(domain.KindSendFailed, "coordinator.Send", "", err)
}

// detach resets the connection state and hands back what must be released
func (c *Coordinator) detach() (repositories.LiveConn, []namedComponent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == entities.TurnDisconnected {
		return nil, nil, false
	}

	conn := c.conn
	comps := make([]namedComponent, 0, len(c.attached))
	for name, comp := range c.attached {
		comps = append(comps, namedComponent{name: name, comp: comp})
	}
	c.attached = make(map[string]Stoppable)
	c.conn = nil
	c.state = entities.TurnDisconnected
	c.gen++
	if c.connCancel != nil {
		c.connCancel()
		c.connCancel = nil
	}
	return conn, comps, true
}

type namedComponent struct {
	name string
	comp Stoppable
}

func (c *Coordinator) release(conn repositories.LiveConn, comps []namedComponent) {
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Warn("Failed to close connection", zap.Error(err))
		}
	}
	for _, nc := range comps {
		if err := nc.comp.Stop(); err != nil {
			c.logger.Warn("Failed to stop component", zap.String("component", nc.name), zap.Error(err))
		}
	}
	c.player.Stop()
}

func (c *Coordinator) eventLoop(conn repositories.LiveConn, gen uint64) {
	for ev := range conn.Events() {
		if !c.isCurrent(gen) {
			continue
		}
		c.handleEvent(ev)
	}

	if c.isCurrent(gen) {
		c.logger.Warn("Event stream ended without close event")
		c.forceDisconnect(0, "event stream ended")
	}
}

func (c *Coordinator) handleEvent(ev repositories.LiveEvent) {
	switch ev.Type {
	case repositories.EventOpen:
		c.log("client.open", "Connected")

	case repositories.EventClose:
		c.log("server.close", "Disconnected")
		c.forceDisconnect(ev.CloseCode, ev.CloseReason)

	case repositories.EventLog:
		c.log(ev.LogType, ev.LogMessage)

	case repositories.EventAudio:
		ctx, cancel := context.WithTimeout(context.Background(), resumeTimeout)
		if err := c.player.Resume(ctx); err != nil {
			c.logger.Warn("Failed to resume playback", zap.Error(err))
		}
		cancel()
		c.player.AddChunk(entities.PcmChunk{
			SampleRate: entities.PlaybackSampleRate,
			Channels:   entities.MonoChannels,
			Data:       ev.Audio,
		})

	case repositories.EventContent:
		c.handleContent(ev.Parts)

	case repositories.EventInterrupted:
		c.log("server.interrupted", "Model interrupted")
		c.player.Stop()
		c.setToolActive(false)
		if c.handlers.OnInterrupted != nil {
			c.handlers.OnInterrupted()
		}

	case repositories.EventSetupComplete:
		c.log("server.setupcomplete", "Setup complete")
		if c.handlers.OnSetupComplete != nil {
			c.handlers.OnSetupComplete()
		}

	case repositories.EventTurnComplete:
		c.setToolActive(false)
		if c.handlers.OnTurnComplete != nil {
			c.handlers.OnTurnComplete()
		}

	case repositories.EventError:
		c.logger.Error("Connection error", zap.Error(ev.Err))
		msg := "connection error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		c.log("client.error", msg)
		c.forceDisconnect(0, msg)

	case repositories.EventMessage:
		if ev.ServerError != "" {
			c.logger.Error("Server error", zap.String("error", ev.ServerError))
			c.log("server.error", "Server error: "+ev.ServerError)
			if c.handlers.OnServerError != nil {
				c.handlers.OnServerError(ev.ServerError)
			}
		}

	default:
		c.logger.Warn("Unknown event type", zap.String("type", string(ev.Type)))
	}
}

func (c *Coordinator) handleContent(parts []repositories.ContentPart) {
	var hasCall, hasResponse bool
	var text strings.Builder
	for _, p := range parts {
		if p.FunctionCall != nil {
			hasCall = true
			c.logger.Info("Tool call", zap.String("name", p.FunctionCall.Name))
		}
		if p.FunctionResponse != nil {
			hasResponse = true
		}
		text.WriteString(p.Text)
	}

	if hasCall {
		c.setToolActive(true)
	} else if hasResponse {
		c.setToolActive(false)
	}

	if text.Len() > 0 && c.handlers.OnText != nil {
		c.handlers.OnText(text.String())
	}
}

func (c *Coordinator) setToolActive(active bool) {
	c.mu.Lock()
	if !c.state.IsOpen() {
		c.mu.Unlock()
		return
	}
	next := entities.TurnConnected
	if active {
		next = entities.TurnToolActive
	}
	changed := c.state != next
	c.state = next
	c.mu.Unlock()

	if changed {
		c.notifyState(next)
	}
}

func (c *Coordinator) forceDisconnect(code int, reason string) {
	conn, comps, ok := c.detach()
	if !ok {
		return
	}
	c.logger.Info("Connection closed", zap.Int("code", code), zap.String("reason", reason))
	c.release(conn, comps)
	c.notifyState(entities.TurnDisconnected)
	if c.handlers.OnDisconnected != nil {
		c.handlers.OnDisconnected(code, reason)
	}
}

func (c *Coordinator) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

func (c *Coordinator) log(logType, message string) {
	c.logger.Debug("Live event", zap.String("type", logType), zap.String("message", message))
	if c.handlers.OnLog != nil {
		c.handlers.OnLog(logType, message)
	}
}

func (c *Coordinator) notifyState(state entities.TurnState) {
	c.metrics.SetTurnState(state)
	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(state)
	}
}
