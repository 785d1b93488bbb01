// Package telemetry provides structured logging and the build/search
// metrics reporter. Callers log informational events (build, prewarm,
// external centroid loads, config fallback) through Logger; corruption and
// cancellation errors are returned to the caller without being logged here.
// Grounded on
// the logrus/prometheus usage in the retrieved pack (direktiv/vorteil,
// perkeep) since the teacher repo itself has no logging dependency.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Logger is the package-wide structured logger. Callers should prefer
// Logger.WithField/WithError over ad hoc fmt.Sprintf so fields stay
// queryable, the convention used throughout direktiv/vorteil's logging.
var Logger = logrus.New()

func init() {
	Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// Metrics are the Prometheus collectors exposed by a running index.
type Metrics struct {
	TuplesIndexed   prometheus.Counter
	SearchesServed  prometheus.Counter
	SearchLatency   prometheus.Histogram
	LeavesRebalanced prometheus.Counter
}

// NewMetrics registers a fresh Metrics set against reg. Passing a nil
// registry uses the default global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TuplesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vqidx_tuples_indexed_total",
			Help: "Total number of vectors written to leaf tapes by build or insert.",
		}),
		SearchesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vqidx_searches_served_total",
			Help: "Total number of search() calls completed.",
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vqidx_search_latency_seconds",
			Help:    "Wall-clock latency of search() calls.",
			Buckets: prometheus.DefBuckets,
		}),
		LeavesRebalanced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vqidx_leaves_rebalanced_total",
			Help: "Total number of leaf tapes compacted by maintain.",
		}),
	}
	reg.MustRegister(m.TuplesIndexed, m.SearchesServed, m.SearchLatency, m.LeavesRebalanced)
	return m
}

// Reporter matches the host-supplied build progress sink of spec.md §6's
// build operation.
type Reporter interface {
	TuplesTotal(n uint64)
}

// LogReporter is a Reporter that logs progress through Logger, the
// default used by cmd/vqidx.
type LogReporter struct{}

func (LogReporter) TuplesTotal(n uint64) {
	Logger.WithField("tuples_total", n).Info("build: sampled tuple count")
}
