// Package metrics collects and exposes this node's cluster-lifecycle
// counters and gauges. The two replay histograms are not part of it:
// pkg/replay defines them and registers them with the default Prometheus
// registry, which StartServer does not serve unless it is the registry
// passed in.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds this node's cluster-lifecycle metrics.
type Collector struct {
	shardsOpened        prometheus.Counter
	shardsClosed        prometheus.Counter
	shardsOwned         prometheus.Gauge
	lockAcquireFailures prometheus.Counter
	heartbeatFailures   prometheus.Counter
	replayFailures      prometheus.Counter
	flushScheduled      prometheus.Counter
	flushSucceeded      prometheus.Counter
	flushFailed         prometheus.Counter
	topologyVersion     prometheus.Gauge
}

// NewCollector builds and registers a Collector against reg. Pass
// prometheus.DefaultRegisterer in production; tests should pass a fresh
// prometheus.NewRegistry() so repeated construction doesn't panic on
// duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		shardsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_shards_opened_total",
			Help: "Total number of shards successfully opened on this node.",
		}),
		shardsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_shards_closed_total",
			Help: "Total number of shards closed on this node.",
		}),
		shardsOwned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardkeeper_shards_owned",
			Help: "Current number of shards owned by this node.",
		}),
		lockAcquireFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_shard_lock_acquire_failures_total",
			Help: "Total number of failed shard lock acquisition attempts.",
		}),
		heartbeatFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_heartbeat_failures_total",
			Help: "Total number of heartbeat RPCs that failed.",
		}),
		replayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_replay_table_failures_total",
			Help: "Total number of per-table replay failures across all shards.",
		}),
		flushScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_flush_scheduled_total",
			Help: "Total number of flushes scheduled by replay or live writes.",
		}),
		flushSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_flush_succeeded_total",
			Help: "Total number of flushes that completed successfully.",
		}),
		flushFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shardkeeper_flush_failed_total",
			Help: "Total number of flushes that failed after exhausting retries.",
		}),
		topologyVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shardkeeper_topology_version",
			Help: "Version of the currently cached cluster topology.",
		}),
	}

	reg.MustRegister(
		c.shardsOpened, c.shardsClosed, c.shardsOwned,
		c.lockAcquireFailures, c.heartbeatFailures, c.replayFailures,
		c.flushScheduled, c.flushSucceeded, c.flushFailed,
		c.topologyVersion,
	)
	return c
}

func (c *Collector) RecordShardOpened() { c.shardsOpened.Inc() }
func (c *Collector) RecordShardClosed() { c.shardsClosed.Inc() }
func (c *Collector) SetShardsOwned(n int) { c.shardsOwned.Set(float64(n)) }
func (c *Collector) RecordLockAcquireFailure() { c.lockAcquireFailures.Inc() }
func (c *Collector) RecordHeartbeatFailure() { c.heartbeatFailures.Inc() }
func (c *Collector) RecordReplayFailure() { c.replayFailures.Inc() }
func (c *Collector) RecordFlushScheduled() { c.flushScheduled.Inc() }
func (c *Collector) SetTopologyVersion(v uint64) { c.topologyVersion.Set(float64(v)) }

// RecordFlushResult records the terminal outcome of one scheduled flush.
func (c *Collector) RecordFlushResult(err error) {
	if err != nil {
		c.flushFailed.Inc()
		return
	}
	c.flushSucceeded.Inc()
}

// StartServer serves reg's metrics on /metrics until ctx is cancelled. It
// runs its own http.Server rather than registering against
// http.DefaultServeMux, so a process can start more than one without
// panicking on a duplicate pattern registration (useful in tests that spin
// up several nodes in one binary).
func StartServer(ctx context.Context, port int, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
