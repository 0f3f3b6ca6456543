package replay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// These two histograms are process-wide singletons, named to match the
// observability contract every replay strategy is required to surround its
// pull/apply phases with. Registered once, with the default Prometheus
// registry, at package init rather than threaded through every call site as
// a parameter.
var (
	pullLogsDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wal_replay_pull_logs_duration",
		Help:    "Time spent pulling one batch of log entries during WAL replay, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.010, 2, 13),
	})

	applyLogsDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wal_replay_apply_logs_duration",
		Help:    "Time spent applying one batch of log entries during WAL replay, in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.010, 2, 13),
	})
)

func init() {
	prometheus.MustRegister(pullLogsDuration, applyLogsDuration)
}

func observe(h prometheus.Histogram, since time.Time) {
	h.Observe(time.Since(since).Seconds())
}
