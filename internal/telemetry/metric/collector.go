package metric

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageStats is a point-in-time view of the storage engine.
type StorageStats struct {
	ActiveTier   string
	Degraded     bool
	Keys         int
	UsedBytes    int64
	CeilingBytes int64
}

// StatsSource provides storage statistics at scrape time.
type StatsSource interface {
	Stats(ctx context.Context) (StorageStats, error)
}

// Collector reports storage statistics when scraped.
type Collector struct {
	source  StatsSource
	timeout time.Duration

	keys     *prometheus.Desc
	used     *prometheus.Desc
	ceiling  *prometheus.Desc
	degraded *prometheus.Desc
}

// NewCollector creates a collector reading from source.
func NewCollector(source StatsSource) *Collector {
	return &Collector{
		source:  source,
		timeout: 5 * time.Second,
		keys: prometheus.NewDesc(prometheus.BuildFQName(namespace, "storage", "keys"),
			"Namespaced keys in the active tier", []string{"tier"}, nil),
		used: prometheus.NewDesc(prometheus.BuildFQName(namespace, "storage", "used_bytes"),
			"Bytes used by namespaced entries in the active tier", []string{"tier"}, nil),
		ceiling: prometheus.NewDesc(prometheus.BuildFQName(namespace, "storage", "ceiling_bytes"),
			"Capacity ceiling of the active tier, 0 when unbounded", []string{"tier"}, nil),
		degraded: prometheus.NewDesc(prometheus.BuildFQName(namespace, "storage", "degraded"),
			"1 when running on the memory fallback tier", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.used
	ch <- c.ceiling
	ch <- c.degraded
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	s, err := c.source.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.used, err)
		return
	}

	degraded := 0.0
	if s.Degraded {
		degraded = 1
	}
	ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(s.Keys), s.ActiveTier)
	ch <- prometheus.MustNewConstMetric(c.used, prometheus.GaugeValue, float64(s.UsedBytes), s.ActiveTier)
	ch <- prometheus.MustNewConstMetric(c.ceiling, prometheus.GaugeValue, float64(s.CeilingBytes), s.ActiveTier)
	ch <- prometheus.MustNewConstMetric(c.degraded, prometheus.GaugeValue, degraded)
}
