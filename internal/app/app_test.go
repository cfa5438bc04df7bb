package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/config"
	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/service"
	"github.com/yndnr/keepstore/internal/storage/maintenance"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.Durable.SyncWrites = false
	cfg.Storage.Durable.GCInterval = 0
	cfg.Storage.Session.BaseDir = t.TempDir()
	cfg.Maintenance.RewritesPerSecond = 0
	require.NoError(t, config.Verify(cfg))
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_DurableSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	assert.Equal(t, tier.KindDurable, a.Engine.Active().Kind())
	assert.False(t, a.Engine.Degraded())

	added, err := a.Records.Add(ctx, domain.Employee{Name: "Ada", Department: "Eng", Position: "Lead"})
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))

	b, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(ctx) })

	got, err := b.Records.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.Name)
	assert.NotEmpty(t, b.Records.GetAuditLogs(audit.Query{}))
}

func TestOpen_FallsBackToSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Durable.Enabled = false

	a, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.Equal(t, tier.KindSession, a.Engine.Active().Kind())
	assert.False(t, a.Engine.Degraded())
}

func TestOpen_DegradesToMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Durable.Enabled = false
	cfg.Storage.Session.Enabled = false

	a, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.Equal(t, tier.KindMemory, a.Engine.Active().Kind())
	assert.True(t, a.Engine.Degraded())

	_, err = a.Records.Add(ctx, domain.Employee{Name: "Grace", Department: "Ops", Position: "SRE"})
	require.NoError(t, err)
}

func TestOpen_InvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Durable.Enabled = false
	cfg.Storage.Session.Enabled = false
	cfg.Schedule.Backup = "whenever"

	_, err := Open(context.Background(), cfg, discard())
	require.Error(t, err)
}

func TestMaintain_KeepsRecordsAndBackups(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Durable.Enabled = false

	var phases []maintenance.Phase
	a, err := Open(ctx, cfg, discard(), WithMaintenanceProgress(func(p maintenance.Progress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	_, err = a.Records.Add(ctx, domain.Employee{Name: "Linus", Department: "Eng", Position: "Dev"})
	require.NoError(t, err)
	res, err := a.Records.CreateBackup(ctx, snapshot.TypeManual)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.NoError(t, a.Audit.Flush(ctx))

	require.NoError(t, a.Maintain(ctx))
	assert.Equal(t, maintenance.Phases, phases)

	list, err := a.Records.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	backups, err := a.Records.GetBackupList(ctx)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func employees(from, n int) []domain.Employee {
	out := make([]domain.Employee, n)
	for i := range out {
		id := from + i
		out[i] = domain.Employee{
			Name:       fmt.Sprintf("Employee %03d", id),
			Department: fmt.Sprintf("Dept %d", id%7),
			Position:   fmt.Sprintf("Position %d", id%5),
			Email:      fmt.Sprintf("employee%03d@example.com", id),
		}
	}
	return out
}

func TestCapacityCleanup_KeepsListedBackupsRestorable(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Durable.Enabled = false
	cfg.Storage.Ceiling = 40 << 10

	a, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	require.Equal(t, tier.KindSession, a.Engine.Active().Kind())

	_, err = a.Records.BatchAdd(ctx, employees(0, 40), service.BatchOptions{})
	require.NoError(t, err)
	for range 3 {
		res, err := a.Records.CreateBackup(ctx, snapshot.TypeManual)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	// may run out of room; the snapshots must survive either way
	_, _ = a.Records.BatchAdd(ctx, employees(40, 40), service.BatchOptions{})

	backups, err := a.Records.GetBackupList(ctx)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	for _, b := range backups {
		_, err := a.Backups.Get(ctx, b.BackupID)
		assert.NoError(t, err, "backup %s", b.BackupID)
	}

	oldest := backups[len(backups)-1]
	res, err := a.Records.RestoreFromBackup(ctx, oldest.BackupID)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Count)
}

func TestClose_Twice(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Durable.Enabled = false
	cfg.Storage.Session.Enabled = false

	a, err := Open(ctx, cfg, discard())
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx))
	assert.NoError(t, a.Close(ctx))
}
