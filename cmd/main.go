package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/geminiplay/adapters"
	"github.com/satriahrh/geminiplay/adapters/devices"
	"github.com/satriahrh/geminiplay/adapters/live"
	"github.com/satriahrh/geminiplay/adapters/mongo"
	"github.com/satriahrh/geminiplay/adapters/mqtt"
	"github.com/satriahrh/geminiplay/adapters/stt"
	"github.com/satriahrh/geminiplay/domain/repositories"
	"github.com/satriahrh/geminiplay/internal/api"
	"github.com/satriahrh/geminiplay/internal/auth"
	"github.com/satriahrh/geminiplay/internal/config"
	"github.com/satriahrh/geminiplay/internal/playback"
	"github.com/satriahrh/geminiplay/internal/telemetry"
	"github.com/satriahrh/geminiplay/internal/websocket"
	"github.com/satriahrh/geminiplay/usecase"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type audioDevices struct {
	mic     repositories.Microphone
	speaker repositories.Speaker
	cleanup func()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "geminiplay",
		Short:        "Multimodal live conversations with Gemini",
		SilenceUsage: true,
	}

	var envFile, port string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the live session server",
		Long: `Run the live session server.

TRANSPORT selects the backend connection: websocket (default), genai or mock.
The genai transport does not forward interrupt markers, so tool calls cannot
be told apart from interrupted audio there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(envFile, port)
		},
	}
	serveCmd.Flags().StringVar(&envFile, "env", ".env", "path to an env file")
	serveCmd.Flags().StringVar(&port, "port", "", "HTTP port, overrides PORT")

	root.AddCommand(serveCmd, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func runServer(envFile, port string) error {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(envFile, logger)
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics()

	// Devices
	audio, err := openAudio(cfg, logger)
	if err != nil {
		return err
	}
	defer audio.cleanup()
	defer audio.speaker.Close()

	streamer := playback.NewStreamer(audio.speaker, logger.Named("playback"), metrics)
	uploads := devices.NewUploadPicker(logger.Named("share"))
	cameraSink := devices.NewPreviewSink("camera", logger)
	screenSink := devices.NewPreviewSink("screen", logger)

	deps := usecase.Dependencies{
		Dialer:      newDialer(cfg, logger.Named("live")),
		Microphone:  audio.mic,
		CameraSink:  cameraSink,
		ScreenSink:  screenSink,
		SharePicker: uploads,
		Streamer:    streamer,
	}
	if cfg.Devices.CameraDir != "" {
		deps.Camera = devices.NewDirSource(cfg.Devices.CameraDir, logger.Named("camera"))
	}
	if cfg.Devices.ScreenDir != "" {
		deps.Screen = devices.NewDirSource(cfg.Devices.ScreenDir, logger.Named("screen"))
	}
	if cfg.Devices.PickFile != "" {
		deps.FilePicker = devices.NewPathPicker(cfg.Devices.PickFile, logger.Named("picker"))
	}

	// Transcripts
	if cfg.Mongo.URI != "" {
		client, err := mongo.NewClient(ctx, cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			return err
		}
		defer client.Close(context.Background())

		deps.Transcripts, err = mongo.NewTranscriptRepository(ctx, client.Database(), logger)
		if err != nil {
			return err
		}
	} else {
		logger.Info("MONGODB_URI not set, keeping transcripts in memory")
		deps.Transcripts = adapters.NewMemoryTranscriptRepository()
	}

	// Captions
	if cfg.Captions.Enabled {
		if cfg.Gemini.Transport == config.TransportMock {
			deps.SpeechToText = stt.NewMockSpeechToText(logger.Named("stt"))
		} else {
			speech, err := stt.NewGoogleSpeechToText(ctx, logger.Named("stt"))
			if err != nil {
				return err
			}
			defer speech.Close()
			deps.SpeechToText = speech
		}
	}

	// Notifications
	fanout := telemetry.NewFanout(logger, telemetry.NewLogPublisher(logger.Named("notifications")))
	deps.Publisher = fanout
	if cfg.MQTT.Broker != "" {
		publisher, err := mqtt.NewPublisher(mqtt.Config{
			Broker:     cfg.MQTT.Broker,
			ClientID:   cfg.MQTT.ClientID,
			Topic:      cfg.MQTT.Topic,
			VolumeRate: cfg.MQTT.Rate,
		}, logger.Named("mqtt"))
		if err != nil {
			return err
		}
		defer publisher.Close()
		fanout.Add(publisher)
	}

	service := usecase.NewLiveService(cfg, deps, logger.Named("live"), metrics)
	defer service.Close()

	hub := websocket.NewHub(service, logger.Named("hub"))
	fanout.Add(hub)
	sampler := telemetry.NewSampler(service.InputLevel, service.OutputLevel, fanout, nil, logger)

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	routes := api.Dependencies{
		Controller: service,
		Hub:        hub,
		Uploads:    uploads,
		Previews: map[string]api.Previewer{
			"camera": cameraSink,
			"screen": screenSink,
		},
		Metrics: metrics.Handler(),
		Logger:  logger,
	}
	if cfg.AuthEnabled() {
		routes.Signer = auth.NewSigner(cfg.Server.JWTSecret)
		routes.ControlSecret = cfg.Server.ControlSecret
	} else {
		logger.Warn("JWT_SECRET not set, the control API is unauthenticated")
	}
	api.InitRoutes(e, routes)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(streamer.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(hub.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(sampler.Run(ctx)) })
	g.Go(func() error {
		logger.Info("Server started",
			zap.String("port", cfg.Server.Port),
			zap.String("transport", cfg.Gemini.Transport),
			zap.String("version", version))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server exited")
	return nil
}

func newDialer(cfg *config.Config, logger *zap.Logger) repositories.LiveDialer {
	switch cfg.Gemini.Transport {
	case config.TransportGenAI:
		return live.NewGenAIDialer(live.GenAIConfig{APIVersion: cfg.Gemini.APIVersion}, logger)
	case config.TransportMock:
		logger.Warn("Using mock transport")
		return live.NewMockDialer()
	default:
		return live.NewWebSocketDialer(live.WebSocketConfig{
			Host:       cfg.Gemini.Host,
			APIVersion: cfg.Gemini.APIVersion,
		}, logger)
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
