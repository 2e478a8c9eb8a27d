package websocket

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/satriahrh/geminiplay/domain/entities"
)

// MessageType tags every frame exchanged on /ws
type MessageType string

// Inbound commands
const (
	MessageTypeConnect      MessageType = "connect"
	MessageTypeDisconnect   MessageType = "disconnect"
	MessageTypeSendText     MessageType = "send_text"
	MessageTypeToggleMic    MessageType = "toggle_mic"
	MessageTypeToggleCamera MessageType = "toggle_camera"
	MessageTypeToggleScreen MessageType = "toggle_screen"
	MessageTypePing         MessageType = "ping"
)

// Outbound messages
const (
	MessageTypePong         MessageType = "pong"
	MessageTypeResult       MessageType = "result"
	MessageTypeError        MessageType = "error"
	MessageTypeNotification MessageType = "notification"
)

// maxTextLength bounds a typed user message
const maxTextLength = 8192

// BaseMessage carries the fields shared by commands and replies
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
	MessageID string      `json:"message_id,omitempty"`
}

// ConnectMessage opens the live session. APIKey overrides the configured key.
type ConnectMessage struct {
	BaseMessage
	APIKey string `json:"api_key,omitempty"`
}

// CommandMessage is a command without arguments
type CommandMessage struct {
	BaseMessage
}

// SendTextMessage sends a typed user message
type SendTextMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// PingMessage is an application level keepalive
type PingMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

type PongMessage struct {
	BaseMessage
	Data string `json:"data,omitempty"`
}

// ResultMessage reports the outcome of a command
type ResultMessage struct {
	BaseMessage
	Command MessageType `json:"command"`
	Active  *bool       `json:"active,omitempty"`
}

// ErrorMessage reports a rejected or failed command
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"error_code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// NotificationMessage carries a status notification to observers
type NotificationMessage struct {
	BaseMessage
	Notification entities.Notification `json:"notification"`
}

// MessageValidator decodes commands and rejects malformed ones
type MessageValidator struct{}

func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses and validates an incoming command
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (interface{}, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch base.Type {
	case MessageTypeConnect:
		var msg ConnectMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid connect message: %w", err)
		}
		return &msg, nil

	case MessageTypeSendText:
		var msg SendTextMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid send_text message: %w", err)
		}
		if err := v.validateText(&msg); err != nil {
			return nil, err
		}
		return &msg, nil

	case MessageTypeDisconnect, MessageTypeToggleMic, MessageTypeToggleCamera, MessageTypeToggleScreen:
		return &CommandMessage{BaseMessage: base}, nil

	case MessageTypePing:
		var msg PingMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			return nil, fmt.Errorf("invalid ping message: %w", err)
		}
		return &msg, nil

	case "":
		return nil, fmt.Errorf("type is required")

	default:
		return nil, fmt.Errorf("unsupported message type: %s", base.Type)
	}
}

func (v *MessageValidator) validateText(msg *SendTextMessage) error {
	msg.Text = strings.TrimSpace(msg.Text)
	if msg.Text == "" {
		return fmt.Errorf("text is required")
	}
	if len(msg.Text) > maxTextLength {
		return fmt.Errorf("text must be at most %d bytes", maxTextLength)
	}
	return nil
}

func newBase(t MessageType, messageID string) BaseMessage {
	return BaseMessage{
		Type:      t,
		Timestamp: time.Now().Format(time.RFC3339),
		MessageID: messageID,
	}
}

func CreateErrorMessage(code, message, details string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: newBase(MessageTypeError, ""),
		Code:        code,
		Message:     message,
		Details:     details,
	}
}

func CreatePongMessage(data string) *PongMessage {
	return &PongMessage{
		BaseMessage: newBase(MessageTypePong, ""),
		Data:        data,
	}
}

// CreateResultMessage reports a completed command. active is nil for
// commands without an on/off outcome.
func CreateResultMessage(messageID string, command MessageType, active *bool) *ResultMessage {
	return &ResultMessage{
		BaseMessage: newBase(MessageTypeResult, messageID),
		Command:     command,
		Active:      active,
	}
}

// CreateNotificationMessage wraps n for delivery to observers
func CreateNotificationMessage(n entities.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage:  newBase(MessageTypeNotification, ""),
		Notification: n,
	}
}
