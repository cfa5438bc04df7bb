package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
)

type fixture struct {
	store  *RecordStore
	engine *storage.Engine
	mem    *tier.Memory
	audit  *audit.Log
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := tier.NewMemory()
	cfg := storage.DefaultConfig()
	cfg.Logger = logger
	cfg.BaseDelay = 0
	engine := storage.New(cfg, tier.NewSelector(logger, mem))
	require.NoError(t, engine.Open(context.Background()))

	auditLog := audit.New(engine, audit.DefaultConfig(), logger, engine.Metrics())
	backups := snapshot.NewManager[domain.Employee](engine, snapshot.DefaultConfig(), ValidateEmployee, logger)
	store := NewRecordStore(engine, backups, auditLog, DefaultConfig(), engine.Metrics(), logger)

	t.Cleanup(func() {
		_ = auditLog.Close(context.Background())
		_ = engine.Close()
	})
	return &fixture{store: store, engine: engine, mem: mem, audit: auditLog}
}

// reopen returns a second store over the same engine with an empty cache.
func (f *fixture) reopen() *RecordStore {
	return NewRecordStore(f.engine, f.store.backups, f.audit, DefaultConfig(), f.engine.Metrics(), f.engine.Logger())
}

func employee(name, dept, pos string) domain.Employee {
	return domain.Employee{Name: name, Department: dept, Position: pos}
}

func seed(t *testing.T, s *RecordStore, records ...domain.Employee) []domain.Employee {
	t.Helper()
	out := make([]domain.Employee, 0, len(records))
	for _, r := range records {
		added, err := s.Add(context.Background(), r)
		require.NoError(t, err)
		out = append(out, added)
	}
	return out
}

func strPtr(s string) *string { return &s }
