package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"robobuddy/internal/application"
)

// Collector records session metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	FramesSent      prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	ChunksScheduled prometheus.Counter
	DecodeFailures  prometheus.Counter
	ToolCalls       *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "robobuddy"
	}

	registry := prometheus.NewRegistry()

	framesSent := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Captured frames encoded and sent upstream",
		},
	)

	framesDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Captured frames not sent",
		},
		[]string{"reason"},
	)

	chunksScheduled := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_scheduled_total",
			Help:      "Inbound audio chunks scheduled for playback",
		},
	)

	decodeFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_decode_failures_total",
			Help:      "Inbound audio chunks that failed to decode",
		},
	)

	toolCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls requested by the model",
		},
		[]string{"tool", "recognized"},
	)

	sessionsEnded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions that reached a terminal phase",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(
		framesSent,
		framesDropped,
		chunksScheduled,
		decodeFailures,
		toolCalls,
		sessionsEnded,
	)

	return &Collector{
		registry:        registry,
		FramesSent:      framesSent,
		FramesDropped:   framesDropped,
		ChunksScheduled: chunksScheduled,
		DecodeFailures:  decodeFailures,
		ToolCalls:       toolCalls,
		SessionsEnded:   sessionsEnded,
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FrameSent() {
	c.FramesSent.Inc()
}

func (c *Collector) FrameDropped(reason string) {
	c.FramesDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) ChunkScheduled() {
	c.ChunksScheduled.Inc()
}

func (c *Collector) DecodeFailed() {
	c.DecodeFailures.Inc()
}

// ToolCalled labels unknown tool names as "unknown" to keep cardinality bounded.
func (c *Collector) ToolCalled(name string, recognized bool) {
	if !recognized {
		name = "unknown"
	}
	c.ToolCalls.WithLabelValues(name, strconv.FormatBool(recognized)).Inc()
}

func (c *Collector) SessionEnded(outcome string) {
	c.SessionsEnded.WithLabelValues(outcome).Inc()
}

var _ application.Metrics = (*Collector)(nil)
