package live

import (
	"encoding/base64"
	"strings"

	"github.com/satriahrh/geminiplay/domain"
	"github.com/satriahrh/geminiplay/domain/repositories"
)

// Client messages

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string            `json:"model"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Tools             []tool            `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []domain.MediaChunk `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

// Shared

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *blob             `json:"inlineData,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type functionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Server messages

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	ToolCall      *toolCall      `json:"toolCall,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn    *content `json:"modelTurn,omitempty"`
	TurnComplete bool     `json:"turnComplete,omitempty"`
	Interrupted  bool     `json:"interrupted,omitempty"`
}

type toolCall struct {
	FunctionCalls []functionCall `json:"functionCalls,omitempty"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

func newSetupMessage(setup repositories.LiveSetup) setupMessage {
	cfg := setupConfig{Model: setup.Model}

	modality := strings.ToUpper(setup.ResponseModality)
	if modality == "" {
		modality = "AUDIO"
	}
	cfg.GenerationConfig = &generationConfig{ResponseModalities: []string{modality}}
	if modality == "AUDIO" && setup.VoiceName != "" {
		cfg.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: setup.VoiceName}},
		}
	}

	if setup.SystemInstruction != "" {
		cfg.SystemInstruction = &content{Parts: []part{{Text: setup.SystemInstruction}}}
	}
	if setup.GoogleSearch {
		cfg.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}

	return setupMessage{Setup: cfg}
}

func newTextMessage(text string) clientContentMessage {
	return clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}}
}

// translate turns one server message into the events it carries, in order
func translate(msg serverMessage) []repositories.LiveEvent {
	var events []repositories.LiveEvent

	if msg.Error != nil {
		text := msg.Error.Message
		if text == "" {
			text = msg.Error.Status
		}
		return append(events, repositories.LiveEvent{Type: repositories.EventMessage, ServerError: text})
	}

	if msg.SetupComplete != nil {
		events = append(events, repositories.LiveEvent{Type: repositories.EventSetupComplete})
	}

	if msg.ToolCall != nil {
		parts := make([]repositories.ContentPart, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			parts = append(parts, repositories.ContentPart{FunctionCall: &repositories.FunctionCall{
				ID: fc.ID, Name: fc.Name, Args: fc.Args,
			}})
		}
		events = append(events,
			repositories.LiveEvent{Type: repositories.EventLog, LogType: "server.toolCall", LogMessage: "Tool call received"},
			repositories.LiveEvent{Type: repositories.EventContent, Parts: parts})
	}

	if msg.GoAway != nil {
		events = append(events, repositories.LiveEvent{
			Type:       repositories.EventLog,
			LogType:    "server.goAway",
			LogMessage: "Server will disconnect in " + msg.GoAway.TimeLeft,
		})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			return append(events, repositories.LiveEvent{Type: repositories.EventInterrupted})
		}

		if sc.ModelTurn != nil {
			var rest []repositories.ContentPart
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
					data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						events = append(events, repositories.LiveEvent{
							Type: repositories.EventLog, LogType: "server.audio", LogMessage: "Undecodable audio part",
						})
						continue
					}
					events = append(events, repositories.LiveEvent{Type: repositories.EventAudio, Audio: data})
					continue
				}
				rest = append(rest, contentPart(p))
			}
			if len(rest) > 0 {
				events = append(events, repositories.LiveEvent{Type: repositories.EventContent, Parts: rest})
			}
		}

		if sc.TurnComplete {
			events = append(events, repositories.LiveEvent{Type: repositories.EventTurnComplete})
		}
	}

	if len(events) == 0 {
		events = append(events, repositories.LiveEvent{
			Type: repositories.EventLog, LogType: "server.message", LogMessage: "Unmatched message",
		})
	}
	return events
}

func contentPart(p part) repositories.ContentPart {
	cp := repositories.ContentPart{Text: p.Text}
	if p.FunctionCall != nil {
		cp.FunctionCall = &repositories.FunctionCall{ID: p.FunctionCall.ID, Name: p.FunctionCall.Name, Args: p.FunctionCall.Args}
	}
	if p.FunctionResponse != nil {
		cp.FunctionResponse = &repositories.FunctionResponse{
			ID: p.FunctionResponse.ID, Name: p.FunctionResponse.Name, Response: p.FunctionResponse.Response,
		}
	}
	return cp
}
