package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satriahrh/geminiplay/domain/entities"
)

const namespace = "geminiplay"

// Metrics holds the collectors for the capture and streaming pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured    *prometheus.CounterVec
	framesDropped     *prometheus.CounterVec
	audioChunks       *prometheus.CounterVec
	playbackUnderruns prometheus.Counter
	sendFailures      *prometheus.CounterVec
	turnState         *prometheus.GaugeVec
	frameBytes        *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		framesCaptured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_captured_total",
				Help:      "Total number of frames delivered by capture sessions",
			},
			[]string{"kind"},
		),
		framesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_dropped_total",
				Help:      "Total number of capture ticks that produced no frame",
			},
			[]string{"kind", "reason"}, // reason: not_ready, snapshot, encode, invalid
		),
		audioChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_chunks_total",
				Help:      "Total number of PCM chunks moved through the pipeline",
			},
			[]string{"direction"}, // direction: captured, played
		),
		playbackUnderruns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "playback_underruns_total",
				Help:      "Total number of times playback ran out of queued audio",
			},
		),
		sendFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_failures_total",
				Help:      "Total number of outbound sends that reset the connection",
			},
			[]string{"unit"}, // unit: audio, frame, text
		),
		turnState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "turn_state",
				Help:      "Current conversation state, 1 for the active state",
			},
			[]string{"state"},
		),
		frameBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_payload_bytes",
				Help:      "Size of encoded frame payloads in bytes",
				Buckets:   prometheus.ExponentialBuckets(4096, 2, 8),
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.framesCaptured,
		m.framesDropped,
		m.audioChunks,
		m.playbackUnderruns,
		m.sendFailures,
		m.turnState,
		m.frameBytes,
	)

	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameCaptured(kind entities.CaptureKind, payloadBytes int) {
	if m == nil {
		return
	}
	m.framesCaptured.WithLabelValues(string(kind)).Inc()
	m.frameBytes.WithLabelValues(string(kind)).Observe(float64(payloadBytes))
}

func (m *Metrics) FrameDropped(kind entities.CaptureKind, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(string(kind), reason).Inc()
}

func (m *Metrics) AudioCaptured() {
	if m == nil {
		return
	}
	m.audioChunks.WithLabelValues("captured").Inc()
}

func (m *Metrics) AudioPlayed() {
	if m == nil {
		return
	}
	m.audioChunks.WithLabelValues("played").Inc()
}

func (m *Metrics) PlaybackUnderrun() {
	if m == nil {
		return
	}
	m.playbackUnderruns.Inc()
}

func (m *Metrics) SendFailed(unit string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(unit).Inc()
}

// SetTurnState marks state as the only active state
func (m *Metrics) SetTurnState(state entities.TurnState) {
	if m == nil {
		return
	}
	for _, s := range []entities.TurnState{
		entities.TurnDisconnected,
		entities.TurnConnecting,
		entities.TurnConnected,
		entities.TurnToolActive,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.turnState.WithLabelValues(string(s)).Set(v)
	}
}
