package nethsm

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "p11nethsm"
	metricsSubsystem = "backend"

	labelOperation = "operation"
	labelCode      = "code"

	codeTransportError = "transport_error"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "requests_total",
			Help:      "NetHSM requests by operation and HTTP status code",
		},
		[]string{labelOperation, labelCode},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "request_duration_seconds",
			Help:      "Latency of NetHSM requests, retries included",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{labelOperation},
	)
)

// observe records one finished request. status is 0 when no answer was
// received.
func observe(operation string, status int, started time.Time) {
	code := codeTransportError
	if status != 0 {
		code = strconv.Itoa(status)
	}
	requestsTotal.WithLabelValues(operation, code).Inc()
	requestDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
