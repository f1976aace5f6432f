// Package metrics collects Prometheus metrics for the synchronization
// engine: save outcomes, conflict merges, cache effectiveness and offline
// queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the engine's metrics. Construct with NewCollector and
// register on a caller-supplied registerer; nil yields a no-op collector so
// library users without a metrics pipeline pay nothing.
type Collector struct {
	saves     *prometheus.CounterVec
	conflicts prometheus.Counter
	cacheGets *prometheus.CounterVec

	saveDuration prometheus.Histogram
	queueDepth   prometheus.Gauge
}

// NewCollector creates and registers the engine metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftsync_saves_total",
			Help: "Draft save attempts by result (synced, queued, conflict, failed)",
		}, []string{"result"}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "draftsync_conflicts_resolved_total",
			Help: "Version conflicts resolved by the merge engine",
		}),
		cacheGets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "draftsync_cache_hits_total",
			Help: "Draft cache lookups by result (hit, miss)",
		}, []string{"result"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "draftsync_save_duration_seconds",
			Help:    "End-to-end duration of draft save operations",
			Buckets: prometheus.DefBuckets,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "draftsync_queue_depth",
			Help: "Operations currently waiting in the offline queue",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.saves, c.conflicts, c.cacheGets, c.saveDuration, c.queueDepth)
	}
	return c
}

func (c *Collector) SaveResult(result string) {
	if c == nil {
		return
	}
	c.saves.WithLabelValues(result).Inc()
}

func (c *Collector) ConflictResolved() {
	if c == nil {
		return
	}
	c.conflicts.Inc()
}

func (c *Collector) CacheGet(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.cacheGets.WithLabelValues("hit").Inc()
	} else {
		c.cacheGets.WithLabelValues("miss").Inc()
	}
}

func (c *Collector) ObserveSaveDuration(seconds float64) {
	if c == nil {
		return
	}
	c.saveDuration.Observe(seconds)
}

func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}
