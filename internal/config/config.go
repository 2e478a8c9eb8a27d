package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/satriahrh/geminiplay/domain/entities"
)

const (
	defaultModel            = "models/gemini-2.0-flash-exp"
	defaultAPIVersion       = "v1alpha"
	defaultHost             = "generativelanguage.googleapis.com"
	defaultTransport        = TransportWebSocket
	defaultVoiceName        = "Puck"
	defaultResponseModality = "audio"
	defaultPort             = "8080"
	defaultAudioDevice      = AudioDeviceFile
	defaultMongoDatabase    = "geminiplay"
	defaultMQTTTopic        = "geminiplay/notifications"
	defaultMQTTClientID     = "geminiplay"
	defaultMQTTRate         = 10.0
	defaultCaptionLanguage  = "en-US"

	// DefaultSystemInstruction primes the model for multimodal assistance
	DefaultSystemInstruction = "You are my intelligent and versatile assistant. You can see and hear me, " +
		"and respond with voice and text. You can understand and analyze visual and audio input, " +
		"search the web for up-to-date information when needed and cite your sources. " +
		"Think step by step when solving problems, adjust the length of your answers to the context " +
		"and ask clarifying questions if needed. If you are asked about things you do not know, " +
		"use the google search tool to find the answer."
)

// Transports
const (
	TransportWebSocket = "websocket"
	TransportGenAI     = "genai"
	TransportMock      = "mock"
)

// Audio devices
const (
	AudioDeviceFile      = "file"
	AudioDevicePortAudio = "portaudio"
)

// GeminiConfig configures the live connection
type GeminiConfig struct {
	APIKey            string
	Model             string
	APIVersion        string
	Host              string
	Transport         string
	VoiceName         string
	ResponseModality  string
	SystemInstruction string
	GoogleSearch      bool
}

// CaptureConfig configures the visual captures
type CaptureConfig struct {
	Screen entities.CaptureOptions
	Camera entities.CaptureOptions
}

// DeviceConfig selects the device drivers
type DeviceConfig struct {
	Audio       string // "file" or "portaudio"
	MicFile     string
	MicLoop     bool
	SpeakerFile string
	CameraDir   string
	ScreenDir   string
	PickFile    string
	// Platform is the GOOS-style name used for capability negotiation
	Platform string
}

// ServerConfig configures the control surface
type ServerConfig struct {
	Port          string
	JWTSecret     string
	ControlSecret string
}

// MongoConfig configures the transcript store. An empty URI keeps
// transcripts in memory.
type MongoConfig struct {
	URI      string
	Database string
}

// MQTTConfig configures notification publishing. An empty broker disables it.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	// Rate caps volume notifications per second
	Rate float64
}

// CaptionConfig configures speech-to-text captions of the microphone
type CaptionConfig struct {
	Enabled  bool
	Language string
}

// Config is the application configuration
type Config struct {
	Gemini   GeminiConfig
	Capture  CaptureConfig
	Devices  DeviceConfig
	Server   ServerConfig
	Mongo    MongoConfig
	MQTT     MQTTConfig
	Captions CaptionConfig
}

// Load reads envFile when present, then the environment, and applies defaults
func Load(envFile string, logger *zap.Logger) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
			}
			logger.Debug("No env file found", zap.String("path", envFile))
		}
	}

	var p parser
	cfg := &Config{
		Gemini: GeminiConfig{
			APIKey:            os.Getenv("GEMINI_API_KEY"),
			Model:             os.Getenv("GEMINI_MODEL"),
			APIVersion:        os.Getenv("GEMINI_API_VERSION"),
			Host:              os.Getenv("GEMINI_HOST"),
			Transport:         strings.ToLower(os.Getenv("TRANSPORT")),
			VoiceName:         os.Getenv("VOICE_NAME"),
			ResponseModality:  strings.ToLower(os.Getenv("RESPONSE_MODALITY")),
			SystemInstruction: os.Getenv("SYSTEM_INSTRUCTION"),
			GoogleSearch:      p.boolean("GOOGLE_SEARCH", true),
		},
		Capture: CaptureConfig{
			Screen: entities.DefaultScreenOptions(),
			Camera: entities.DefaultCameraOptions(),
		},
		Devices: DeviceConfig{
			Audio:       strings.ToLower(os.Getenv("AUDIO_DEVICE")),
			MicFile:     os.Getenv("MIC_FILE"),
			MicLoop:     p.boolean("MIC_LOOP", true),
			SpeakerFile: os.Getenv("SPEAKER_FILE"),
			CameraDir:   os.Getenv("CAMERA_DIR"),
			ScreenDir:   os.Getenv("SCREEN_DIR"),
			PickFile:    os.Getenv("PICK_FILE"),
			Platform:    strings.ToLower(os.Getenv("PLATFORM")),
		},
		Server: ServerConfig{
			Port:          os.Getenv("PORT"),
			JWTSecret:     os.Getenv("JWT_SECRET"),
			ControlSecret: os.Getenv("CONTROL_SECRET"),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGODB_URI"),
			Database: os.Getenv("MONGODB_DATABASE"),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			Topic:    os.Getenv("MQTT_TOPIC"),
			ClientID: os.Getenv("MQTT_CLIENT_ID"),
			Rate:     p.float("MQTT_RATE", 0),
		},
		Captions: CaptionConfig{
			Enabled:  p.boolean("CAPTIONS", false),
			Language: os.Getenv("CAPTION_LANGUAGE"),
		},
	}

	cfg.Capture.Screen.TargetFPS = p.float("SCREEN_FPS", cfg.Capture.Screen.TargetFPS)
	cfg.Capture.Camera.TargetFPS = p.float("CAMERA_FPS", cfg.Capture.Camera.TargetFPS)
	for _, opts := range []*entities.CaptureOptions{&cfg.Capture.Screen, &cfg.Capture.Camera} {
		opts.ImageQuality = p.float("IMAGE_QUALITY", opts.ImageQuality)
		opts.MaxFrameBytes = p.integer("MAX_FRAME_BYTES", opts.MaxFrameBytes)
		opts.TargetWidth = p.integer("CAPTURE_WIDTH", opts.TargetWidth)
		opts.TargetHeight = p.integer("CAPTURE_HEIGHT", opts.TargetHeight)
	}

	if p.err != nil {
		return nil, p.err
	}

	cfg.applyDefaults(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(logger *zap.Logger) {
	if c.Gemini.Model == "" {
		c.Gemini.Model = defaultModel
		logger.Info("Using default model", zap.String("model", c.Gemini.Model))
	}
	if c.Gemini.APIVersion == "" {
		c.Gemini.APIVersion = defaultAPIVersion
		logger.Info("Using default API version", zap.String("apiVersion", c.Gemini.APIVersion))
	}
	if c.Gemini.Host == "" {
		c.Gemini.Host = defaultHost
	}
	if c.Gemini.Transport == "" {
		c.Gemini.Transport = defaultTransport
		logger.Info("Using default transport", zap.String("transport", c.Gemini.Transport))
	}
	if c.Gemini.VoiceName == "" {
		c.Gemini.VoiceName = defaultVoiceName
		logger.Info("Using default voice", zap.String("voice", c.Gemini.VoiceName))
	}
	if c.Gemini.ResponseModality == "" {
		c.Gemini.ResponseModality = defaultResponseModality
	}
	if c.Gemini.SystemInstruction == "" {
		c.Gemini.SystemInstruction = DefaultSystemInstruction
		logger.Info("Using default system instruction")
	}

	if c.Devices.Audio == "" {
		c.Devices.Audio = defaultAudioDevice
	}
	if c.Devices.Platform == "" {
		c.Devices.Platform = runtime.GOOS
	}

	if c.Server.Port == "" {
		c.Server.Port = defaultPort
		logger.Info("Using default port", zap.String("port", c.Server.Port))
	}

	if c.Mongo.Database == "" {
		c.Mongo.Database = defaultMongoDatabase
	}

	if c.MQTT.Topic == "" {
		c.MQTT.Topic = defaultMQTTTopic
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultMQTTClientID
	}
	if c.MQTT.Rate == 0 {
		c.MQTT.Rate = defaultMQTTRate
	}

	if c.Captions.Language == "" {
		c.Captions.Language = defaultCaptionLanguage
	}
}

// Validate checks values that have no usable default. The API key is not
// required here since it may be supplied per connection.
func (c *Config) Validate() error {
	switch c.Gemini.Transport {
	case TransportWebSocket, TransportGenAI, TransportMock:
	default:
		return fmt.Errorf("unknown transport %q", c.Gemini.Transport)
	}

	switch c.Gemini.ResponseModality {
	case "audio", "text":
	default:
		return fmt.Errorf("response modality must be audio or text, got %q", c.Gemini.ResponseModality)
	}

	switch c.Devices.Audio {
	case AudioDeviceFile, AudioDevicePortAudio:
	default:
		return fmt.Errorf("unknown audio device %q", c.Devices.Audio)
	}

	if err := c.Capture.Screen.Validate(); err != nil {
		return fmt.Errorf("invalid screen capture options: %w", err)
	}
	if err := c.Capture.Camera.Validate(); err != nil {
		return fmt.Errorf("invalid camera capture options: %w", err)
	}

	if (c.Server.JWTSecret == "") != (c.Server.ControlSecret == "") {
		return fmt.Errorf("JWT_SECRET and CONTROL_SECRET must be set together")
	}

	if c.MQTT.Rate < 0 {
		return fmt.Errorf("MQTT rate must be positive, got %f", c.MQTT.Rate)
	}
	return nil
}

// AuthEnabled reports whether the control API requires a token
func (c *Config) AuthEnabled() bool {
	return c.Server.JWTSecret != ""
}

// parser reads typed variables, keeping the first error
type parser struct {
	err error
}

func (p *parser) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) float(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}
