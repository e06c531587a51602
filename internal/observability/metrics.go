package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests against the status API.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rangectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	snippetRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangectl",
			Subsystem: "snippet",
			Name:      "requests_total",
			Help:      "Snippet RPC requests issued to devices.",
		},
		[]string{"device", "method", "success"},
	)
	snippetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rangectl",
			Subsystem: "snippet",
			Name:      "request_duration_seconds",
			Help:      "Snippet RPC round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "method", "success"},
	)
	eventWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangectl",
			Subsystem: "ranging",
			Name:      "event_waits_total",
			Help:      "Ranging event waits by outcome.",
		},
		[]string{"device", "event", "outcome"},
	)
	eventWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rangectl",
			Subsystem: "ranging",
			Name:      "event_wait_duration_seconds",
			Help:      "Time spent waiting for ranging callback events.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 6, 10},
		},
		[]string{"device", "event", "outcome"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "rangectl",
			Subsystem: "ranging",
			Name:      "active_sessions",
			Help:      "Ranging sessions currently registered per device.",
		},
		[]string{"device"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			snippetRequests, snippetDuration,
			eventWaits, eventWaitDuration,
			activeSessions,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSnippetRequest(device, method string, duration time.Duration, success bool) {
	RegisterMetrics()
	successLabel := strconv.FormatBool(success)
	snippetRequests.WithLabelValues(device, method, successLabel).Inc()
	snippetDuration.WithLabelValues(device, method, successLabel).Observe(duration.Seconds())
}

func RecordEventWait(device, event, outcome string, duration time.Duration) {
	RegisterMetrics()
	eventWaits.WithLabelValues(device, event, outcome).Inc()
	eventWaitDuration.WithLabelValues(device, event, outcome).Observe(duration.Seconds())
}

func SetActiveSessions(device string, count int) {
	RegisterMetrics()
	activeSessions.WithLabelValues(device).Set(float64(count))
}
