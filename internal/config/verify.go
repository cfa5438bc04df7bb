package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/yndnr/keepstore/internal/telemetry/logger"
)

// Verify validates the configuration and creates the data directory.
// Every problem found is reported.
func Verify(cfg *Config) error {
	errs := []error{
		verifyStorage(&cfg.Storage),
		verifyRecords(&cfg.Records),
		verifyAudit(&cfg.Audit),
		verifyMaintenance(&cfg.Maintenance),
		verifySchedule(&cfg.Schedule),
		verifyLog(&cfg.Log),
	}
	if cfg.Backup.Retention < 1 {
		errs = append(errs, errors.New("backup.retention must be at least 1"))
	}
	return errors.Join(errs...)
}

func verifyStorage(s *StorageSection) error {
	var errs []error
	if s.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	} else if s.Durable.Enabled {
		if err := os.MkdirAll(s.DataDir, 0o750); err != nil {
			errs = append(errs, fmt.Errorf("storage.data_dir: %w", err))
		}
	}
	if s.Namespace == "" {
		errs = append(errs, errors.New("storage.namespace is required"))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, errors.New("storage.max_attempts must be at least 1"))
	}
	if s.BaseDelay < 0 {
		errs = append(errs, errors.New("storage.base_delay must not be negative"))
	}
	if s.Ceiling <= 0 {
		errs = append(errs, errors.New("storage.ceiling must be positive"))
	}
	if s.CompressMinGain < 0 || s.CompressMinGain >= 1 {
		errs = append(errs, errors.New("storage.compress_min_gain must be in [0, 1)"))
	}
	if s.Durable.Quota < 0 || s.Session.Quota < 0 {
		errs = append(errs, errors.New("storage tier quotas must not be negative"))
	}
	return errors.Join(errs...)
}

func verifyRecords(r *RecordsSection) error {
	var errs []error
	if r.CollectionKey == "" {
		errs = append(errs, errors.New("records.collection_key is required"))
	}
	if r.BatchChunkSize < 1 {
		errs = append(errs, errors.New("records.batch_chunk_size must be at least 1"))
	}
	if r.BatchConcurrency < 1 {
		errs = append(errs, errors.New("records.batch_concurrency must be at least 1"))
	}
	return errors.Join(errs...)
}

func verifyAudit(a *AuditSection) error {
	var errs []error
	if a.Capacity < 1 {
		errs = append(errs, errors.New("audit.capacity must be at least 1"))
	}
	if a.Retention <= 0 {
		errs = append(errs, errors.New("audit.retention must be positive"))
	}
	if a.QueueSize < 1 {
		errs = append(errs, errors.New("audit.queue_size must be at least 1"))
	}
	return errors.Join(errs...)
}

func verifyMaintenance(m *MaintenanceSection) error {
	var errs []error
	if m.PoorRatio <= 0 || m.PoorRatio > 1 {
		errs = append(errs, errors.New("maintenance.poor_ratio must be in (0, 1]"))
	}
	if m.ChunkSize < 1 {
		errs = append(errs, errors.New("maintenance.chunk_size must be at least 1"))
	}
	return errors.Join(errs...)
}

func verifySchedule(s *ScheduleSection) error {
	var errs []error
	for name, spec := range map[string]string{
		"schedule.backup":      s.Backup,
		"schedule.audit_prune": s.AuditPrune,
		"schedule.maintenance": s.Maintenance,
	} {
		spec = ScheduleSpec(spec)
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func verifyLog(l *LogSection) error {
	var errs []error
	if _, err := logger.ParseLevel(l.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(l.Format) {
	case "", "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", l.Format))
	}
	return errors.Join(errs...)
}
