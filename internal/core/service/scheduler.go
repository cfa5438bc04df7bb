package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yndnr/keepstore/internal/storage/snapshot"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
)

// Default job schedules. Any spec accepted by cron.ParseStandard works,
// including descriptors such as @daily and @every 1h.
const (
	DefaultBackupSpec      = "@every 1h"
	DefaultAuditPruneSpec  = "@daily"
	DefaultMaintenanceSpec = "@every 24h"

	jobTimeout = 10 * time.Minute
)

// Job names.
const (
	JobBackup      = "backup"
	JobAuditPrune  = "audit_prune"
	JobMaintenance = "maintenance"
)

// SchedulerConfig configures the scheduled jobs. An empty spec disables
// the job.
type SchedulerConfig struct {
	BackupSpec      string
	AuditPruneSpec  string
	MaintenanceSpec string
}

// DefaultSchedulerConfig returns the default schedules.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BackupSpec:      DefaultBackupSpec,
		AuditPruneSpec:  DefaultAuditPruneSpec,
		MaintenanceSpec: DefaultMaintenanceSpec,
	}
}

// MaintenanceFunc runs one maintenance pass.
type MaintenanceFunc func(ctx context.Context) error

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name string    `json:"name" yaml:"name"`
	Spec string    `json:"spec" yaml:"spec"`
	Next time.Time `json:"next" yaml:"next"`
}

// Scheduler runs periodic backup, audit pruning and maintenance.
type Scheduler struct {
	cron     *cron.Cron
	store    *RecordStore
	audit    *audit.Log
	maintain MaintenanceFunc
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	spec map[string]string
}

// NewScheduler parses the schedules and registers the jobs. auditLog and
// maintain may be nil, which disables their jobs.
func NewScheduler(cfg SchedulerConfig, store *RecordStore, auditLog *audit.Log, maintain MaintenanceFunc, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		store:    store,
		audit:    auditLog,
		maintain: maintain,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     make(map[string]cron.EntryID),
		spec:     make(map[string]string),
	}

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
		ok   bool
	}{
		{JobBackup, cfg.BackupSpec, s.RunBackup, store != nil},
		{JobAuditPrune, cfg.AuditPruneSpec, s.RunAuditPrune, auditLog != nil},
		{JobMaintenance, cfg.MaintenanceSpec, s.RunMaintenance, maintain != nil},
	}
	for _, j := range jobs {
		if j.spec == "" || !j.ok {
			continue
		}
		if err := s.add(j.name, j.spec, j.run); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, run func(context.Context) error) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("can't parse %s schedule %q: %w", name, spec, err)
	}

	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		started := time.Now()
		if err := run(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Info("scheduled job finished", "job", name, "duration", time.Since(started))
	}))

	s.mu.Lock()
	s.jobs[name] = id
	s.spec[name] = spec
	s.mu.Unlock()

	s.logger.Info("job scheduled", "job", name, "spec", spec, "first", sched.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them to return
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Jobs lists the scheduled jobs with their next run time.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.jobs))
	for _, name := range []string{JobBackup, JobAuditPrune, JobMaintenance} {
		id, ok := s.jobs[name]
		if !ok {
			continue
		}
		out = append(out, JobInfo{Name: name, Spec: s.spec[name], Next: s.cron.Entry(id).Next})
	}
	return out
}

// RunBackup creates an automatic backup.
func (s *Scheduler) RunBackup(ctx context.Context) error {
	res, err := s.store.CreateBackup(ctx, snapshot.TypeAuto)
	if err != nil {
		return err
	}
	if !res.Success {
		s.logger.Debug("auto backup skipped", "reason", res.Reason)
	}
	return nil
}

// RunAuditPrune drops audit entries past their retention.
func (s *Scheduler) RunAuditPrune(ctx context.Context) error {
	_, err := s.audit.Prune(ctx, time.Now())
	return err
}

// RunMaintenance runs one maintenance pass.
func (s *Scheduler) RunMaintenance(ctx context.Context) error {
	return s.maintain(ctx)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
