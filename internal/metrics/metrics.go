package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "curator",
			Name:      "operations_total",
			Help:      "Engine operations by node kind, operation and outcome.",
		},
		[]string{"kind", "op", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "curator",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "op"},
	)
)

func init() {
	Registry.MustRegister(
		Operations,
		OperationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Observe records one finished operation.
func Observe(kind, op, outcome string, started time.Time) {
	Operations.WithLabelValues(kind, op, outcome).Inc()
	OperationDuration.WithLabelValues(kind, op).Observe(time.Since(started).Seconds())
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
