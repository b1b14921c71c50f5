// Package metrics exposes the ingest core's measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements ingest.Recorder on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	requests         prometheus.Counter
	requestsFailed   *prometheus.CounterVec
	batches          prometheus.Counter
	batchesFailed    prometheus.Counter
	serialization    prometheus.Counter
	drainDiscarded   prometheus.Counter
	batchSize        prometheus.Histogram
	flushDuration    prometheus.Histogram
	namespace        string

	queueRegistered     bool
	sinkStatsRegistered bool
}

// New registers every collector under namespace (may be empty) on a fresh
// registry that also carries the Go and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,
		requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of ingest requests received",
		}),
		requestsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_failed_total",
			Help:      "Number of ingest requests rejected, grouped by reason",
		}, []string{"reason"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Number of batches acknowledged by the sink",
		}),
		batchesFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_failed_total",
			Help:      "Number of batches the sink did not acknowledge",
		}),
		serialization: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serialization_failures_total",
			Help:      "Number of items dropped because they could not be serialized",
		}),
		drainDiscarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drain_discarded_total",
			Help:      "Number of accepted items discarded when a drain timed out",
		}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Messages per flushed batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
		}),
		flushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent serializing and writing one batch",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// RequestReceived counts one ingest request.
func (m *Metrics) RequestReceived() { m.requests.Inc() }

// RequestFailed counts one rejected request under reason.
func (m *Metrics) RequestFailed(reason string) {
	m.requestsFailed.With(map[string]string{"reason": reason}).Inc()
}

// BatchFlushed records an acknowledged batch.
func (m *Metrics) BatchFlushed(size int, took time.Duration) {
	m.batches.Inc()
	m.batchSize.Observe(float64(size))
	m.flushDuration.Observe(took.Seconds())
}

// BatchFailed records a batch the sink did not acknowledge.
func (m *Metrics) BatchFailed(size int, took time.Duration) {
	m.batchesFailed.Inc()
	m.flushDuration.Observe(took.Seconds())
}

// SerializationFailed counts one dropped item.
func (m *Metrics) SerializationFailed() { m.serialization.Inc() }

// DrainDiscarded adds n items lost to an incomplete drain.
func (m *Metrics) DrainDiscarded(n int) { m.drainDiscarded.Add(float64(n)) }

// ObserveQueue exports depth as the queue_depth gauge. The value is read
// on every scrape, so it always matches the queue. Only the first call
// registers.
func (m *Metrics) ObserveQueue(depth func() int) {
	if m.queueRegistered {
		return
	}
	m.queueRegistered = true
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "queue_depth",
		Help:      "Items waiting in the ingest queue",
	}, func() float64 { return float64(depth()) })
}

// SinkStats is what the local durable log reports about its storage.
type SinkStats struct {
	DiskBytes      uint64
	WALBytes       uint64
	L0Files        int64
	CompactionDebt uint64
}

// RegisterSinkStats exports the local log's storage figures, sampled on
// every scrape. Only the first call registers.
func (m *Metrics) RegisterSinkStats(stats func() SinkStats) {
	if m.sinkStatsRegistered {
		return
	}
	m.sinkStatsRegistered = true
	f := promauto.With(m.registry)
	gauge := func(name, help string, v func(SinkStats) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{Namespace: m.namespace, Name: name, Help: help},
			func() float64 { return v(stats()) })
	}
	gauge("sink_disk_bytes", "Bytes used on disk by the local durable log",
		func(s SinkStats) float64 { return float64(s.DiskBytes) })
	gauge("sink_wal_bytes", "Size of the local log's write-ahead log",
		func(s SinkStats) float64 { return float64(s.WALBytes) })
	gauge("sink_l0_files", "Files in level 0 of the local log",
		func(s SinkStats) float64 { return float64(s.L0Files) })
	gauge("sink_compaction_debt_bytes", "Estimated bytes the local log still has to compact",
		func(s SinkStats) float64 { return float64(s.CompactionDebt) })
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler renders the registry in the text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
