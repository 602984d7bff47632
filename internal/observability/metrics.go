package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Frame directions and dispatch outcomes used as label values.
const (
	DirectionIn  = "in"
	DirectionOut = "out"

	OutcomeOK    = "ok"
	OutcomeError = "error"

	// KindUnknown labels exchanges whose kind is not in the registry.
	KindUnknown = "unknown"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "postal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	frames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postal",
			Subsystem: "wire",
			Name:      "frames_total",
			Help:      "Frames read or written.",
		},
		[]string{"direction", "outcome"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postal",
			Subsystem: "wire",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes carried by successful frames.",
		},
		[]string{"direction"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "postal",
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched exchanges by message kind and role.",
		},
		[]string{"role", "kind", "outcome"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "postal",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Exchange duration in seconds, write through paired read.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "kind"},
	)
	connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "postal",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Currently served connections.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, frames, frameBytes, dispatches, dispatchDuration, connections)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordFrame counts one frame; payload bytes count only when err is nil.
func RecordFrame(direction string, payload int, err error) {
	RegisterMetrics()
	if err != nil {
		frames.WithLabelValues(direction, OutcomeError).Inc()
		return
	}
	frames.WithLabelValues(direction, OutcomeOK).Inc()
	frameBytes.WithLabelValues(direction).Add(float64(payload))
}

// RecordDispatch counts one exchange. role is "client" or "server".
func RecordDispatch(role, kind string, err error, duration time.Duration) {
	RegisterMetrics()
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	dispatches.WithLabelValues(role, kind, outcome).Inc()
	dispatchDuration.WithLabelValues(role, kind).Observe(duration.Seconds())
}

func ConnectionOpened() {
	RegisterMetrics()
	connections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	connections.Dec()
}
