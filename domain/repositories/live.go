package repositories

import (
	"context"

	"github.com/satriahrh/geminiplay/domain"
)

// LiveSetup is the session configuration sent once per connection
type LiveSetup struct {
	APIKey            string
	Model             string
	ResponseModality  string // "audio" or "text"
	VoiceName         string
	SystemInstruction string
	GoogleSearch      bool
}

// LiveDialer opens a bidirectional connection to the conversational backend
type LiveDialer interface {
	Dial(ctx context.Context, setup LiveSetup) (LiveConn, error)
}

// LiveConn is one open connection. Events is closed after the final close event.
type LiveConn interface {
	SendRealtimeInput(ctx context.Context, chunks []domain.MediaChunk) error
	SendText(ctx context.Context, text string) error
	Events() <-chan LiveEvent
	Close() error
}

// EventType names an inbound event
type EventType string

const (
	EventOpen          EventType = "open"
	EventClose         EventType = "close"
	EventLog           EventType = "log"
	EventAudio         EventType = "audio"
	EventContent       EventType = "content"
	EventInterrupted   EventType = "interrupted"
	EventSetupComplete EventType = "setupcomplete"
	EventTurnComplete  EventType = "turncomplete"
	EventError         EventType = "error"
	EventMessage       EventType = "message"
)

// FunctionCall is a tool invocation requested by the model
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse is the result of a tool invocation
type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ContentPart is one part of model content
type ContentPart struct {
	Text             string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

// LiveEvent is a tagged inbound event; fields are set according to Type
type LiveEvent struct {
	Type EventType

	// EventClose
	CloseCode   int
	CloseReason string

	// EventLog
	LogType    string
	LogMessage string

	// EventAudio, 24kHz mono PCM
	Audio []byte

	// EventContent
	Parts []ContentPart

	// EventError
	Err error

	// EventMessage, set when the server reported an error
	ServerError string
}
