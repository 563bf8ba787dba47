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
	ActiveSessions  prometheus.Gauge
	RunningRuns     prometheus.Gauge
	RunEvents       *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	SynthesisErrors *prometheus.CounterVec
	ChunkLatency    prometheus.Histogram
	RunDuration     prometheus.Histogram
	AudioSeconds    prometheus.Counter
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active narration sessions.",
		}),
		RunningRuns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_runs",
			Help:      "Number of synthesis runs currently in flight.",
		}),
		RunEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_events_total",
			Help:      "Synthesis run events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		SynthesisErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_errors_total",
			Help:      "Chunk synthesis failures by stage.",
		}, []string{"stage"}),
		ChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_synthesis_latency_ms",
			Help:      "Time to synthesize one text chunk in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 800, 1500, 3000, 6000},
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of completed synthesis runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		AudioSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_generated_seconds_total",
			Help:      "Seconds of stitched audio produced.",
		}),
	}
}

func (m *Metrics) ObserveChunkLatency(d time.Duration) {
	m.ChunkLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveRun(d time.Duration, audio time.Duration) {
	m.RunDuration.Observe(d.Seconds())
	m.AudioSeconds.Add(audio.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
