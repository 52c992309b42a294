// Package metrics holds the Prometheus collectors of the wallet session service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "walletsession"

var (
	// ConnectAttempts counts connect calls by transport and outcome (ok or the error kind).
	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Wallet connect attempts by transport and outcome.",
		},
		[]string{"transport", "outcome"},
	)

	// ConnectDuration observes how long a connect took, including user approval.
	ConnectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Wallet connect latency.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60},
		},
		[]string{"transport"},
	)

	// StateTransitions counts session status changes.
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Session status transitions.",
		},
		[]string{"from", "to"},
	)

	// ChainSteps counts chain negotiation steps (skip, switch, add) by result.
	ChainSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_negotiation_steps_total",
			Help:      "Chain switch/add steps by result.",
		},
		[]string{"step", "result"},
	)

	// ProviderEvents counts wallet notifications handled by the session.
	ProviderEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_events_total",
			Help:      "Wallet events handled by the session.",
		},
		[]string{"type"},
	)

	// RecordsDecoded counts decoded records per contract and outcome.
	RecordsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Contract records read, by contract and outcome.",
		},
		[]string{"contract", "outcome"},
	)

	// ReadBatchSize observes the number of calls per listing read.
	ReadBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_batch_size",
			Help:      "Calls per record listing read.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"mode"},
	)

	// HTTPRequestsTotal counts API requests.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes API latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distributions.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"method", "path"},
	)
)

var registerOnce sync.Once

// MustRegisterMetrics registers all collectors with the default registry. Safe to call more than once.
func MustRegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ConnectAttempts,
			ConnectDuration,
			StateTransitions,
			ChainSteps,
			ProviderEvents,
			RecordsDecoded,
			ReadBatchSize,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}

// GinMiddleware records request count and latency per route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		// Unmatched routes are not recorded.
		if path == "" {
			return
		}
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
