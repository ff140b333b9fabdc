package monitor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stator-io/stator/core"
)

// SnapshotFunc supplies the runtime diagnostics the monitor serves.
// Runtime.Snapshot is the usual source.
type SnapshotFunc func() core.Snapshot

// Collector exposes runtime snapshots as Prometheus metrics. It keeps
// no state of its own: every scrape takes a fresh snapshot and emits
// constant metrics from it.
type Collector struct {
	snap SnapshotFunc

	running    *prometheus.Desc
	allocated  *prometheus.Desc
	recycled   *prometheus.Desc
	posted     *prometheus.Desc
	published  *prometheus.Desc
	dropped    *prometheus.Desc
	dispatched *prometheus.Desc
	ticks      *prometheus.Desc

	poolCapacity *prometheus.Desc
	poolFree     *prometheus.Desc
	poolMinFree  *prometheus.Desc

	queueDepth       *prometheus.Desc
	queueCapacity    *prometheus.Desc
	queueMinFree     *prometheus.Desc
	objectPosted     *prometheus.Desc
	objectDropped    *prometheus.Desc
	objectDispatched *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector over the given snapshot source.
func NewCollector(snap SnapshotFunc) *Collector {
	pool := []string{"block_size"}
	object := []string{"object"}
	return &Collector{
		snap: snap,

		running: prometheus.NewDesc("stator_runtime_running",
			"Whether the runtime is accepting posts.", nil, nil),
		allocated: prometheus.NewDesc("stator_events_allocated_total",
			"Events allocated from the pools.", nil, nil),
		recycled: prometheus.NewDesc("stator_events_recycled_total",
			"Events returned to the pools.", nil, nil),
		posted: prometheus.NewDesc("stator_events_posted_total",
			"Events accepted into object queues.", nil, nil),
		published: prometheus.NewDesc("stator_events_published_total",
			"Events published to subscribers.", nil, nil),
		dropped: prometheus.NewDesc("stator_events_dropped_total",
			"Events dropped by full queues under the drop policy.", nil, nil),
		dispatched: prometheus.NewDesc("stator_events_dispatched_total",
			"Events dispatched into state machines.", nil, nil),
		ticks: prometheus.NewDesc("stator_clock_ticks_total",
			"System clock ticks per rate.", []string{"rate"}, nil),

		poolCapacity: prometheus.NewDesc("stator_pool_capacity_blocks",
			"Total blocks in the pool.", pool, nil),
		poolFree: prometheus.NewDesc("stator_pool_free_blocks",
			"Blocks currently free.", pool, nil),
		poolMinFree: prometheus.NewDesc("stator_pool_min_free_blocks",
			"Fewest blocks ever free.", pool, nil),

		queueDepth: prometheus.NewDesc("stator_queue_depth",
			"Events waiting in the object's queue.", object, nil),
		queueCapacity: prometheus.NewDesc("stator_queue_capacity",
			"Capacity of the object's queue.", object, nil),
		queueMinFree: prometheus.NewDesc("stator_queue_min_free",
			"Fewest queue slots ever free.", object, nil),
		objectPosted: prometheus.NewDesc("stator_object_posted_total",
			"Events accepted into this object's queue.", object, nil),
		objectDropped: prometheus.NewDesc("stator_object_dropped_total",
			"Events this object's queue dropped.", object, nil),
		objectDispatched: prometheus.NewDesc("stator_object_dispatched_total",
			"Events this object dispatched.", object, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.allocated
	ch <- c.recycled
	ch <- c.posted
	ch <- c.published
	ch <- c.dropped
	ch <- c.dispatched
	ch <- c.ticks
	ch <- c.poolCapacity
	ch <- c.poolFree
	ch <- c.poolMinFree
	ch <- c.queueDepth
	ch <- c.queueCapacity
	ch <- c.queueMinFree
	ch <- c.objectPosted
	ch <- c.objectDropped
	ch <- c.objectDispatched
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.snap()

	running := 0.0
	if snap.Running {
		running = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.allocated, prometheus.CounterValue, float64(snap.EventsAllocated))
	ch <- prometheus.MustNewConstMetric(c.recycled, prometheus.CounterValue, float64(snap.EventsRecycled))
	ch <- prometheus.MustNewConstMetric(c.posted, prometheus.CounterValue, float64(snap.Posted))
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(snap.Published))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(snap.Dropped))
	ch <- prometheus.MustNewConstMetric(c.dispatched, prometheus.CounterValue, float64(snap.Dispatched))

	for rate, n := range snap.Ticks {
		ch <- prometheus.MustNewConstMetric(c.ticks, prometheus.CounterValue,
			float64(n), strconv.Itoa(rate))
	}

	for _, p := range snap.Pools {
		size := strconv.Itoa(p.BlockSize)
		ch <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(p.Capacity), size)
		ch <- prometheus.MustNewConstMetric(c.poolFree, prometheus.GaugeValue, float64(p.Free), size)
		ch <- prometheus.MustNewConstMetric(c.poolMinFree, prometheus.GaugeValue, float64(p.MinFree), size)
	}

	for _, o := range snap.Objects {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(o.QueueDepth), o.Name)
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(o.QueueCapacity), o.Name)
		ch <- prometheus.MustNewConstMetric(c.queueMinFree, prometheus.GaugeValue, float64(o.QueueMinFree), o.Name)
		ch <- prometheus.MustNewConstMetric(c.objectPosted, prometheus.CounterValue, float64(o.Posted), o.Name)
		ch <- prometheus.MustNewConstMetric(c.objectDropped, prometheus.CounterValue, float64(o.Dropped), o.Name)
		ch <- prometheus.MustNewConstMetric(c.objectDispatched, prometheus.CounterValue, float64(o.Dispatched), o.Name)
	}
}
