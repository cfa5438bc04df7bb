// Package metric provides Prometheus metrics for keepstore.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: the metric registry and HTTP handler
//   - collector.go: a scrape-time collector for storage statistics
//
// Every Registry owns its own prometheus.Registry, so several engines (or
// tests) in one process never collide on registration.
package metric
