package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yndnr/keepstore/internal/config"
	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/service"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/capacity"
	"github.com/yndnr/keepstore/internal/storage/maintenance"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Metrics   *metric.Registry
	Engine    *storage.Engine
	Audit     *audit.Log
	Backups   *snapshot.Manager[domain.Employee]
	Records   *service.RecordStore
	Optimizer *maintenance.Optimizer
	Scheduler *service.Scheduler

	progress func(maintenance.Progress)
	closers  []func(context.Context) error
}

// Option configures Open.
type Option func(*App)

// WithMetrics uses reg instead of a fresh registry.
func WithMetrics(reg *metric.Registry) Option {
	return func(a *App) {
		a.Metrics = reg
	}
}

// WithMaintenanceProgress receives optimizer progress.
func WithMaintenanceProgress(fn func(maintenance.Progress)) Option {
	return func(a *App) {
		a.progress = fn
	}
}

// Open builds every component from cfg. On failure whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.Metrics == nil {
		a.Metrics = metric.NewRegistry()
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	// 1. Tiers and engine
	sel := tier.NewSelector(logger, tier.NewMemory(), a.openTiers()...)
	a.Engine = storage.New(a.engineConfig(), sel)
	a.closers = append(a.closers, func(context.Context) error { return a.Engine.Close() })
	if err := a.Engine.Open(ctx); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.Metrics.MustRegister(metric.NewCollector(a.Engine))

	// 2. Audit log
	auditCfg := audit.DefaultConfig()
	auditCfg.Capacity = cfg.Audit.Capacity
	auditCfg.Retention = cfg.Audit.Retention
	auditCfg.QueueSize = cfg.Audit.QueueSize
	a.Audit = audit.New(a.Engine, auditCfg, logger, a.Metrics)
	if err := a.Audit.Load(ctx); err != nil {
		return nil, fmt.Errorf("load audit log: %w", err)
	}
	a.Audit.Start()
	a.closers = append(a.closers, a.Audit.Close)

	// 3. Backups and records
	snapCfg := snapshot.DefaultConfig()
	snapCfg.Retention = cfg.Backup.Retention
	a.Backups = snapshot.NewManager(a.Engine, snapCfg, service.ValidateEmployee, logger)

	a.Records = service.NewRecordStore(a.Engine, a.Backups, a.Audit, service.Config{
		CollectionKey:    cfg.Records.CollectionKey,
		CacheTTL:         cfg.Records.CacheTTL,
		BatchChunkSize:   cfg.Records.BatchChunkSize,
		BatchConcurrency: cfg.Records.BatchConcurrency,
	}, a.Metrics, logger)

	// 4. Maintenance
	pinned := []string{cfg.Records.CollectionKey, a.Backups.IndexKey(), a.Audit.Key()}
	a.Optimizer = maintenance.New(a.Engine,
		maintenance.WithLogger(logger),
		maintenance.WithMetrics(a.Metrics),
		maintenance.WithMaxAge(cfg.Maintenance.MaxAge),
		maintenance.WithRecompress(cfg.Maintenance.RecompressMinSize, cfg.Maintenance.PoorRatio),
		maintenance.WithChunkSize(cfg.Maintenance.ChunkSize),
		maintenance.WithRewriteRate(cfg.Maintenance.RewritesPerSecond),
		maintenance.WithPinned(pinned...),
		maintenance.WithProtectedPrefixes(snapCfg.KeyPrefix),
		maintenance.WithRebuild(func(ctx context.Context) error {
			_, err := a.Records.RebuildIndex(ctx)
			return err
		}),
		maintenance.WithProgress(a.progress),
	)
	a.Engine.Pin(append(pinned, a.Optimizer.StateKey())...)
	a.Engine.Protect(snapCfg.KeyPrefix)

	// 5. Scheduler
	a.Scheduler, err = service.NewScheduler(service.SchedulerConfig{
		BackupSpec:      config.ScheduleSpec(cfg.Schedule.Backup),
		AuditPruneSpec:  config.ScheduleSpec(cfg.Schedule.AuditPrune),
		MaintenanceSpec: config.ScheduleSpec(cfg.Schedule.Maintenance),
	}, a.Records, a.Audit, a.Maintain, logger)
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}
	a.closers = append(a.closers, a.Scheduler.Stop)

	logger.Info("keepstore ready",
		"tier", a.Engine.Active().Name(),
		"degraded", a.Engine.Degraded(),
		"audit_session", a.Audit.SessionID())
	return a, nil
}

// Maintain runs one maintenance pass.
func (a *App) Maintain(ctx context.Context) error {
	rep, err := a.Optimizer.Run(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info("maintenance finished",
		"run_id", rep.RunID,
		"resumed", rep.Resumed,
		"bytes_reclaimed", rep.BytesReclaimed,
		"duration", rep.Duration)
	return nil
}

// Close releases components in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openTiers opens the persistent tiers that are enabled. A tier that
// fails to open is skipped so the selector can fall back.
func (a *App) openTiers() []tier.Tier {
	st := a.Config.Storage
	var out []tier.Tier

	if st.Durable.Enabled {
		dc := tier.DefaultDurableConfig(a.Config.DurableDir())
		dc.Quota = st.Durable.Quota
		dc.MinFreeBytes = st.Durable.MinFreeBytes
		dc.GCInterval = st.Durable.GCInterval
		dc.SyncWrites = st.Durable.SyncWrites
		d, err := tier.OpenDurable(dc, a.Logger)
		if err != nil {
			a.Logger.Warn("durable tier unavailable", "error", err)
		} else {
			out = append(out, d)
		}
	}

	if st.Session.Enabled {
		s, err := tier.OpenSession(tier.SessionConfig{
			BaseDir: st.Session.BaseDir,
			Quota:   st.Session.Quota,
		}, a.Logger)
		if err != nil {
			a.Logger.Warn("session tier unavailable", "error", err)
		} else {
			out = append(out, s)
		}
	}
	return out
}

func (a *App) engineConfig() storage.Config {
	st := a.Config.Storage
	capCfg := capacity.DefaultConfig()
	capCfg.Ceiling = st.Ceiling
	capCfg.MaxAge = st.MaxAge

	cfg := storage.DefaultConfig()
	cfg.Namespace = st.Namespace
	cfg.MaxAttempts = st.MaxAttempts
	cfg.BaseDelay = st.BaseDelay
	cfg.Capacity = capCfg
	cfg.CompressMinSize = st.CompressMinSize
	cfg.CompressMinGain = st.CompressMinGain
	cfg.Logger = a.Logger
	cfg.Metrics = a.Metrics
	return cfg
}
