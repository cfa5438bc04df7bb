package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"testing"

	"github.com/yndnr/keepstore/internal/app"
	"github.com/yndnr/keepstore/internal/config"
	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/service"
)

// RecordCounts defines the collection sizes for benchmarking.
var RecordCounts = []int{100, 1000, 5000}

var departments = []string{"Engineering", "Operations", "Sales", "Finance", "Support"}

// newRecord builds a valid record; i makes the name unique.
func newRecord(i int) domain.Employee {
	return domain.Employee{
		Name:       fmt.Sprintf("Employee %06d", i),
		Department: departments[i%len(departments)],
		Position:   "Engineer",
		Email:      fmt.Sprintf("employee%d@example.com", i),
		Status:     "active",
		Skills:     []string{"go", "sql"},
	}
}

// openApp opens a store on the given tier: "memory" or "durable".
func openApp(b *testing.B, kind string) *app.App {
	b.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = b.TempDir()
	cfg.Storage.Durable.Enabled = kind == "durable"
	cfg.Storage.Durable.SyncWrites = false
	cfg.Storage.Durable.GCInterval = 0
	cfg.Storage.Session.Enabled = false
	cfg.Storage.Ceiling = 1 << 30
	cfg.Schedule = config.ScheduleSection{Backup: config.Disabled, AuditPrune: config.Disabled, Maintenance: config.Disabled}
	cfg.Maintenance.RewritesPerSecond = 0

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		b.Fatalf("open app: %v", err)
	}
	b.Cleanup(func() { _ = a.Close(ctx) })
	return a
}

// prefill adds count records in one batch.
func prefill(b *testing.B, a *app.App, count int) {
	b.Helper()
	records := make([]domain.Employee, count)
	for i := range records {
		records[i] = newRecord(i)
	}
	res, err := a.Records.BatchAdd(context.Background(), records, service.BatchOptions{})
	if err != nil {
		b.Fatalf("prefill: %v", err)
	}
	if res.Success != count {
		b.Fatalf("prefill: %d of %d added", res.Success, count)
	}
}

// reportMemory reports heap usage after a GC.
func reportMemory(b *testing.B, prefix string) {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	b.ReportMetric(float64(m.HeapAlloc)/(1<<20), prefix+"_heap_MB")
}
