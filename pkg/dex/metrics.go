package dex

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var IndexWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "index_writes",
}, []string{"index", "op", "mode"})

var WriterRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "writer_retries",
}, []string{"index"})

var WriterTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "writer_timeouts",
}, []string{"index"})

var AsyncQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "async_queue_depth",
})

var AsyncFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "async_failures",
}, []string{"index"})

var ReconcileDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "reconcile_duration_seconds",
	Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
}, []string{"op"})

var ReconcileChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wikidex",
	Subsystem: "dex",
	Name:      "reconcile_changes",
}, []string{"index", "change"})

// Collectors lists every metric of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		IndexWrites,
		WriterRetries,
		WriterTimeouts,
		AsyncQueueDepth,
		AsyncFailures,
		ReconcileDuration,
		ReconcileChanges,
	}
}

// RegisterMetrics registers the package metrics with reg. Registering twice
// is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
