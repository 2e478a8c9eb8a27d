package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// GenAIConfig holds the SDK settings for the genai transport
type GenAIConfig struct {
	APIVersion string
	// BaseURL overrides the SDK endpoint, mainly for tests
	BaseURL string
}

// GenAIDialer opens live sessions through the google genai SDK
type GenAIDialer struct {
	config GenAIConfig
	logger *zap.Logger

	toolWarning sync.Once
}

// NewGenAIDialer creates a dialer, applying defaults for unset fields
func NewGenAIDialer(config GenAIConfig, logger *zap.Logger) *GenAIDialer {
	if config.APIVersion == "" {
		config.APIVersion = defaultAPIVersion
		logger.Info("Using default API version", zap.String("apiVersion", config.APIVersion))
	}
	return &GenAIDialer{config: config, logger: logger}
}

// Dial creates a client for the key and connects a live session
func (d *GenAIDialer) Dial(ctx context.Context, setup repositories.LiveSetup) (repositories.LiveConn, error) {
	if setup.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  setup.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: d.config.APIVersion,
			BaseURL:    d.config.BaseURL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	d.warnToolLimits(setup)
	session, err := client.Live.Connect(ctx, setup.Model, connectConfig(setup))
	if err != nil {
		return nil, fmt.Errorf("failed to connect live session: %w", err)
	}

	c := &genaiConn{
		session: session,
		logger:  d.logger,
		events:  make(chan repositories.LiveEvent, eventBuffer),
		done:    make(chan struct{}),
	}
	c.emit(repositories.LiveEvent{Type: repositories.EventOpen})
	go c.receiveLoop()

	d.logger.Info("Live session connected", zap.String("model", setup.Model))
	return c, nil
}

// warnToolLimits reports, once per dialer, that tool calls cannot be told
// apart from interrupted audio on this transport.
func (d *GenAIDialer) warnToolLimits(setup repositories.LiveSetup) {
	if !setup.GoogleSearch {
		return
	}
	d.toolWarning.Do(func() {
		d.logger.Warn("Interrupt markers are not forwarded by the genai transport; use the websocket transport when tools need them",
			zap.String("model", setup.Model))
	})
}

func connectConfig(setup repositories.LiveSetup) *genai.LiveConnectConfig {
	modality := genai.Modality(strings.ToUpper(setup.ResponseModality))
	if modality == "" {
		modality = genai.ModalityAudio
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{modality},
	}
	if modality == genai.ModalityAudio && setup.VoiceName != "" {
		config.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: setup.VoiceName},
			},
		}
	}
	if setup.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(setup.SystemInstruction, genai.RoleUser)
	}
	if setup.GoogleSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return config
}

type genaiConn struct {
	session *genai.Session
	logger  *zap.Logger

	// Session writes are not safe for concurrent use
	writeMu sync.Mutex

	events    chan repositories.LiveEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (c *genaiConn) SendRealtimeInput(ctx context.Context, chunks []domain.MediaChunk) error {
	for _, chunk := range chunks {
		data, err := base64.StdEncoding.DecodeString(chunk.Data)
		if err != nil {
			return fmt.Errorf("failed to decode %s chunk: %w", chunk.MimeType, err)
		}
		if chunk.Interrupt {
			// LiveRealtimeInput has no interrupt field
			c.logger.Debug("Interrupt marker not forwarded", zap.String("mimeType", chunk.MimeType))
		}

		c.writeMu.Lock()
		err = c.session.SendRealtimeInput(genai.LiveRealtimeInput{
			Media: &genai.Blob{MIMEType: chunk.MimeType, Data: data},
		})
		c.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to send realtime input: %w", err)
		}
	}
	return nil
}

func (c *genaiConn) SendText(ctx context.Context, text string) error {
	c.writeMu.Lock()
	err := c.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send client content: %w", err)
	}
	c.emit(repositories.LiveEvent{Type: repositories.EventLog, LogType: "client.send", LogMessage: text})
	return nil
}

func (c *genaiConn) Events() <-chan repositories.LiveEvent {
	return c.events
}

func (c *genaiConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.session.Close()
	})
	return err
}

func (c *genaiConn) emit(ev repositories.LiveEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *genaiConn) receiveLoop() {
	defer close(c.events)

	for {
		msg, err := c.session.Receive()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}

			// The SDK reports in-band server errors as read errors
			if strings.Contains(err.Error(), "received error in response") {
				c.emit(repositories.LiveEvent{Type: repositories.EventMessage, ServerError: err.Error()})
				continue
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				c.emit(repositories.LiveEvent{Type: repositories.EventClose, CloseCode: closeErr.Code, CloseReason: closeErr.Text})
				return
			}

			c.logger.Error("Live session receive failed", zap.Error(err))
			c.emit(repositories.LiveEvent{Type: repositories.EventError, Err: err})
			c.emit(repositories.LiveEvent{Type: repositories.EventClose, CloseCode: websocket.CloseAbnormalClosure, CloseReason: err.Error()})
			return
		}

		for _, ev := range translate(fromGenAI(msg)) {
			c.emit(ev)
		}
	}
}

// fromGenAI maps an SDK message onto the wire representation
func fromGenAI(msg *genai.LiveServerMessage) serverMessage {
	var out serverMessage
	if msg == nil {
		return out
	}

	if msg.SetupComplete != nil {
		out.SetupComplete = &struct{}{}
	}

	if msg.ToolCall != nil {
		tc := &toolCall{}
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			tc.FunctionCalls = append(tc.FunctionCalls, functionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out.ToolCall = tc
	}

	if msg.GoAway != nil {
		out.GoAway = &goAway{TimeLeft: msg.GoAway.TimeLeft.String()}
	}

	if sc := msg.ServerContent; sc != nil {
		out.ServerContent = &serverContent{
			TurnComplete: sc.TurnComplete,
			Interrupted:  sc.Interrupted,
		}
		if sc.ModelTurn != nil {
			turn := &content{Role: sc.ModelTurn.Role}
			for _, p := range sc.ModelTurn.Parts {
				if p == nil {
					continue
				}
				wp := part{Text: p.Text}
				if p.InlineData != nil {
					wp.InlineData = &blob{
						MimeType: p.InlineData.MIMEType,
						Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					}
				}
				if p.FunctionCall != nil {
					wp.FunctionCall = &functionCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
				}
				if p.FunctionResponse != nil {
					wp.FunctionResponse = &functionResponse{
						ID: p.FunctionResponse.ID, Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response,
					}
				}
				turn.Parts = append(turn.Parts, wp)
			}
			out.ServerContent.ModelTurn = turn
		}
	}

	return out
}
