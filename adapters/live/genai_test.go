package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/satriahrh/geminiplay/domain/repositories"
)

func TestConnectConfig(t *testing.T) {
	cfg := connectConfig(repositories.LiveSetup{
		Model:             "models/gemini-2.0-flash-exp",
		ResponseModality:  "audio",
		VoiceName:         "Kore",
		SystemInstruction: "Be brief.",
		GoogleSearch:      true,
	})

	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, cfg.ResponseModalities)
	require.NotNil(t, cfg.SpeechConfig)
	assert.Equal(t, "Kore", cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "Be brief.", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	assert.NotNil(t, cfg.Tools[0].GoogleSearch)

	text := connectConfig(repositories.LiveSetup{Model: "m", ResponseModality: "text", VoiceName: "Kore"})
	assert.Equal(t, []genai.Modality{genai.ModalityText}, text.ResponseModalities)
	assert.Nil(t, text.SpeechConfig)
	assert.Nil(t, text.Tools)
}

func TestFromGenAI(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{Role: "model", Parts: []*genai.Part{
				{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{0, 1, 0, 1}}},
				{Text: "hello"},
			}},
			TurnComplete: true,
		},
		GoAway: &genai.LiveServerGoAway{TimeLeft: 5 * time.Second},
	}

	events := translate(fromGenAI(msg))

	var types []repositories.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []repositories.EventType{
		repositories.EventLog,
		repositories.EventAudio,
		repositories.EventContent,
		repositories.EventTurnComplete,
	}, types)
	assert.Equal(t, "Server will disconnect in 5s", events[0].LogMessage)
	assert.Equal(t, []byte{0, 1, 0, 1}, events[1].Audio)
	assert.Equal(t, "hello", events[2].Parts[0].Text)
}

func TestFromGenAI_ToolCall(t *testing.T) {
	msg := &genai.LiveServerMessage{
		SetupComplete: &genai.LiveServerSetupComplete{},
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "call-1", Name: "googleSearch", Args: map[string]any{"query": "weather"}},
		}},
	}

	events := translate(fromGenAI(msg))
	require.Len(t, events, 3)
	assert.Equal(t, repositories.EventSetupComplete, events[0].Type)
	assert.Equal(t, repositories.EventContent, events[2].Type)
	assert.Equal(t, "call-1", events[2].Parts[0].FunctionCall.ID)
	assert.Equal(t, "weather", events[2].Parts[0].FunctionCall.Args["query"])
}

func TestGenAIDialer_WarnToolLimits(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dialer := NewGenAIDialer(GenAIConfig{APIVersion: "v1beta"}, zap.New(core))

	dialer.warnToolLimits(repositories.LiveSetup{Model: "m"})
	assert.Zero(t, logs.Len(), "no warning without tools")

	dialer.warnToolLimits(repositories.LiveSetup{Model: "m", GoogleSearch: true})
	dialer.warnToolLimits(repositories.LiveSetup{Model: "m", GoogleSearch: true})
	assert.Equal(t, 1, logs.FilterMessageSnippet("Interrupt markers").Len())
}
