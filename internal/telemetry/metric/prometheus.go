package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keepstore"

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Engine metrics
	Saves              *prometheus.CounterVec
	Loads              *prometheus.CounterVec
	SaveDuration       prometheus.Histogram
	Retries            prometheus.Counter
	Degradations       prometheus.Counter
	ChecksumMismatches prometheus.Counter
	CompressionRatio   *prometheus.HistogramVec

	// Capacity metrics
	CleanupReclaimedBytes prometheus.Counter
	CleanupRemoved        *prometheus.CounterVec

	// Record store metrics
	Records    prometheus.Gauge
	Operations *prometheus.CounterVec
	Backups    prometheus.Gauge

	// Audit metrics
	AuditDropped prometheus.Counter
	AuditFlushes prometheus.Counter

	// Maintenance metrics
	MaintenancePhase     *prometheus.HistogramVec
	MaintenanceReclaimed prometheus.Counter
}

// NewRegistry creates a registry with every keepstore metric registered,
// plus the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		Saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "saves_total",
			Help:      "Save attempts by tier and result",
		}, []string{"tier", "result"}),

		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "loads_total",
			Help:      "Loads by result",
		}, []string{"result"}),

		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "save_duration_seconds",
			Help:      "Duration of SaveWithRetry including retries",
			Buckets:   prometheus.DefBuckets,
		}),

		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "retries_total",
			Help:      "Save retries after a failed attempt",
		}),

		Degradations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "degradations_total",
			Help:      "Times tier detection fell back to the memory tier",
		}),

		ChecksumMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "checksum_mismatches_total",
			Help:      "Loads whose payload did not match its checksum",
		}),

		CompressionRatio: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compression_ratio",
			Help:      "Compressed/original size of saved payloads",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1},
		}, []string{"algorithm"}),

		CleanupReclaimedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capacity",
			Name:      "reclaimed_bytes_total",
			Help:      "Bytes reclaimed by capacity cleanup",
		}),

		CleanupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capacity",
			Name:      "removed_entries_total",
			Help:      "Entries removed by capacity cleanup by pass",
		}, []string{"pass"}),

		Records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "count",
			Help:      "Records in the collection after the last write",
		}),

		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "operations_total",
			Help:      "Record store operations by name and result",
		}, []string{"op", "result"}),

		Backups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backup",
			Name:      "retained",
			Help:      "Backups currently retained",
		}),

		AuditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "queue_full_total",
			Help:      "Audit entries that found the write queue full",
		}),

		AuditFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "flushes_total",
			Help:      "Audit log flushes to storage",
		}),

		MaintenancePhase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "phase_duration_seconds",
			Help:      "Duration of maintenance phases",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),

		MaintenanceReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "maintenance",
			Name:      "reclaimed_bytes_total",
			Help:      "Bytes reclaimed by maintenance runs",
		}),
	}

	r.reg.MustRegister(
		r.Saves, r.Loads, r.SaveDuration, r.Retries, r.Degradations,
		r.ChecksumMismatches, r.CompressionRatio,
		r.CleanupReclaimedBytes, r.CleanupRemoved,
		r.Records, r.Operations, r.Backups,
		r.AuditDropped, r.AuditFlushes,
		r.MaintenancePhase, r.MaintenanceReclaimed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
