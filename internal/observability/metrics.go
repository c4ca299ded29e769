package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strawctl",
			Subsystem: "straw",
			Name:      "connect_attempts_total",
			Help:      "Straw establishment attempts by outcome.",
		},
		[]string{"straw", "outcome"},
	)
	strawState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "strawctl",
			Subsystem: "straw",
			Name:      "state",
			Help:      "Current straw state (0 disconnected, 1 connecting, 2 connected, 3 closed).",
		},
		[]string{"straw"},
	)
	relayedBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strawctl",
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes forwarded between straws.",
		},
		[]string{"direction"},
	)
	relaySessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strawctl",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Relay sessions by result.",
		},
		[]string{"result"},
	)
	relaySessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "strawctl",
			Subsystem: "relay",
			Name:      "session_duration_seconds",
			Help:      "Relay session lifetime in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "strawctl",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Admin API requests.",
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectAttempts,
			strawState,
			relayedBytes,
			relaySessions,
			relaySessionDuration,
			httpRequests,
		)
	})
}

func RecordConnectAttempt(straw, outcome string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(straw, outcome).Inc()
}

func SetStrawState(straw string, state int) {
	RegisterMetrics()
	strawState.WithLabelValues(straw).Set(float64(state))
}

func RecordRelayedBytes(direction string, n int) {
	RegisterMetrics()
	relayedBytes.WithLabelValues(direction).Add(float64(n))
}

func RecordSession(result string, duration time.Duration) {
	RegisterMetrics()
	relaySessions.WithLabelValues(result).Inc()
	relaySessionDuration.Observe(duration.Seconds())
}

func RecordHTTPRequest(method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
