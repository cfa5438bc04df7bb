package config

import (
	"path/filepath"
	"strings"

	"github.com/yndnr/keepstore/internal/core/service"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/capacity"
	"github.com/yndnr/keepstore/internal/storage/compress"
	"github.com/yndnr/keepstore/internal/storage/maintenance"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
	"github.com/yndnr/keepstore/internal/telemetry/logger"
)

// Default values not owned by a component package.
const (
	DefaultDataDir     = "./keepstore-data"
	DefaultMetricsAddr = "127.0.0.1:9464"
	DefaultMetricsPath = "/metrics"
)

// Default returns the default configuration.
func Default() *Config {
	capCfg := capacity.DefaultConfig()
	durable := tier.DefaultDurableConfig("")
	logCfg := logger.DefaultConfig()

	return &Config{
		Storage: StorageSection{
			DataDir:         DefaultDataDir,
			Namespace:       storage.DefaultNamespace,
			MaxAttempts:     storage.DefaultMaxAttempts,
			BaseDelay:       storage.DefaultBaseDelay,
			Ceiling:         capCfg.Ceiling,
			MaxAge:          capCfg.MaxAge,
			CompressMinSize: compress.DefaultMinSize,
			CompressMinGain: compress.DefaultMinGain,
			Durable: DurableConfig{
				Enabled:      true,
				Quota:        durable.Quota,
				MinFreeBytes: durable.MinFreeBytes,
				GCInterval:   durable.GCInterval,
				SyncWrites:   durable.SyncWrites,
			},
			Session: SessionConfig{
				Enabled: true,
				Quota:   durable.Quota,
			},
		},
		Records: RecordsSection{
			CollectionKey:    service.DefaultCollectionKey,
			CacheTTL:         service.DefaultCacheTTL,
			BatchChunkSize:   service.DefaultBatchChunkSize,
			BatchConcurrency: service.DefaultBatchConcurrency,
		},
		Backup: BackupSection{
			Retention: snapshot.DefaultRetention,
		},
		Audit: AuditSection{
			Capacity:  audit.DefaultCapacity,
			Retention: audit.DefaultRetention,
			QueueSize: audit.DefaultQueueSize,
		},
		Maintenance: MaintenanceSection{
			MaxAge:            maintenance.DefaultMaxAge,
			RecompressMinSize: maintenance.DefaultRecompressMinSize,
			PoorRatio:         maintenance.DefaultPoorRatio,
			ChunkSize:         maintenance.DefaultChunkSize,
			RewritesPerSecond: maintenance.DefaultRewritesPerSecond,
		},
		Schedule: ScheduleSection{
			Backup:      service.DefaultBackupSpec,
			AuditPrune:  service.DefaultAuditPruneSpec,
			Maintenance: service.DefaultMaintenanceSpec,
		},
		Metrics: MetricsSection{
			Addr: DefaultMetricsAddr,
			Path: DefaultMetricsPath,
		},
		Log: LogSection{
			Level:      logCfg.Level,
			Format:     logCfg.Format,
			MaxSizeMB:  logCfg.MaxSizeMB,
			MaxBackups: logCfg.MaxBackups,
			MaxAgeDays: logCfg.MaxAgeDays,
		},
	}
}

// DurableDir is where the durable tier keeps its files.
func (c *Config) DurableDir() string {
	return filepath.Join(c.Storage.DataDir, "durable")
}

// Disabled turns a scheduled job off when used as its spec.
const Disabled = "off"

// ScheduleSpec maps Disabled to the empty spec the scheduler skips.
func ScheduleSpec(spec string) string {
	if strings.EqualFold(strings.TrimSpace(spec), Disabled) {
		return ""
	}
	return spec
}
