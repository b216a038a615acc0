package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls     prometheus.Gauge
	CallEvents      *prometheus.CounterVec
	Frames          *prometheus.CounterVec
	FrameDrops      *prometheus.CounterVec
	Chunks          *prometheus.CounterVec
	Phrases         *prometheus.CounterVec
	BargeIns        prometheus.Counter
	WatchdogEvents  *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	QueueDrops      *prometheus.CounterVec
	TurnLatency     prometheus.Histogram
	PlaybackFrames  prometheus.Counter
	ClearsSent      prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of active voice call sessions.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		Frames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Audio frames by direction.",
		}, []string{"direction"}),
		FrameDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_drops_total",
			Help:      "Inbound frames dropped by reason.",
		}, []string{"reason"}),
		Chunks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_total",
			Help:      "Speech chunks by outcome.",
		}, []string{"outcome"}),
		Phrases: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phrases_total",
			Help:      "Assembled phrases by outcome.",
		}, []string{"outcome"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Caller interruptions during assistant playback.",
		}),
		WatchdogEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_events_total",
			Help:      "Silence watchdog events by type.",
		}, []string{"event"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		QueueDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drops_total",
			Help:      "Pipeline queue drops by queue name.",
		}, []string{"queue"}),
		TurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Latency from phrase close to first response frame in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 1500, 2000, 3000, 5000, 8000},
		}),
		PlaybackFrames: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_total",
			Help:      "Outbound synthesized frames delivered to callers.",
		}),
		ClearsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_sent_total",
			Help:      "Clear control messages sent to flush far-end audio.",
		}),
	}
}

func (m *Metrics) ObserveTurnLatency(d time.Duration) {
	m.TurnLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
