package config

import "time"

// Config is the root configuration.
type Config struct {
	Storage     StorageSection     `koanf:"storage" yaml:"storage" json:"storage"`
	Records     RecordsSection     `koanf:"records" yaml:"records" json:"records"`
	Backup      BackupSection      `koanf:"backup" yaml:"backup" json:"backup"`
	Audit       AuditSection       `koanf:"audit" yaml:"audit" json:"audit"`
	Maintenance MaintenanceSection `koanf:"maintenance" yaml:"maintenance" json:"maintenance"`
	Schedule    ScheduleSection    `koanf:"schedule" yaml:"schedule" json:"schedule"`
	Metrics     MetricsSection     `koanf:"metrics" yaml:"metrics" json:"metrics"`
	Log         LogSection         `koanf:"log" yaml:"log" json:"log"`
}

// StorageSection configures the engine and its tiers.
type StorageSection struct {
	DataDir         string        `koanf:"data_dir" yaml:"data_dir" json:"data_dir"`
	Namespace       string        `koanf:"namespace" yaml:"namespace" json:"namespace"`
	MaxAttempts     int           `koanf:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	BaseDelay       time.Duration `koanf:"base_delay" yaml:"base_delay" json:"base_delay"`
	Ceiling         int64         `koanf:"ceiling" yaml:"ceiling" json:"ceiling"`
	MaxAge          time.Duration `koanf:"max_age" yaml:"max_age" json:"max_age"`
	CompressMinSize int           `koanf:"compress_min_size" yaml:"compress_min_size" json:"compress_min_size"`
	CompressMinGain float64       `koanf:"compress_min_gain" yaml:"compress_min_gain" json:"compress_min_gain"`
	Durable         DurableConfig `koanf:"durable" yaml:"durable" json:"durable"`
	Session         SessionConfig `koanf:"session" yaml:"session" json:"session"`
}

// DurableConfig configures the on-disk tier.
type DurableConfig struct {
	Enabled      bool          `koanf:"enabled" yaml:"enabled" json:"enabled"`
	Quota        int64         `koanf:"quota" yaml:"quota" json:"quota"`
	MinFreeBytes uint64        `koanf:"min_free_bytes" yaml:"min_free_bytes" json:"min_free_bytes"`
	GCInterval   time.Duration `koanf:"gc_interval" yaml:"gc_interval" json:"gc_interval"`
	SyncWrites   bool          `koanf:"sync_writes" yaml:"sync_writes" json:"sync_writes"`
}

// SessionConfig configures the per-process tier.
type SessionConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled" json:"enabled"`
	BaseDir string `koanf:"base_dir" yaml:"base_dir" json:"base_dir"`
	Quota   int64  `koanf:"quota" yaml:"quota" json:"quota"`
}

// RecordsSection configures the record store.
type RecordsSection struct {
	CollectionKey    string        `koanf:"collection_key" yaml:"collection_key" json:"collection_key"`
	CacheTTL         time.Duration `koanf:"cache_ttl" yaml:"cache_ttl" json:"cache_ttl"`
	BatchChunkSize   int           `koanf:"batch_chunk_size" yaml:"batch_chunk_size" json:"batch_chunk_size"`
	BatchConcurrency int           `koanf:"batch_concurrency" yaml:"batch_concurrency" json:"batch_concurrency"`
}

// BackupSection configures snapshots.
type BackupSection struct {
	Retention int `koanf:"retention" yaml:"retention" json:"retention"`
}

// AuditSection configures the audit log.
type AuditSection struct {
	Capacity  int           `koanf:"capacity" yaml:"capacity" json:"capacity"`
	Retention time.Duration `koanf:"retention" yaml:"retention" json:"retention"`
	QueueSize int           `koanf:"queue_size" yaml:"queue_size" json:"queue_size"`
}

// MaintenanceSection configures the optimizer.
type MaintenanceSection struct {
	MaxAge            time.Duration `koanf:"max_age" yaml:"max_age" json:"max_age"`
	RecompressMinSize int           `koanf:"recompress_min_size" yaml:"recompress_min_size" json:"recompress_min_size"`
	PoorRatio         float64       `koanf:"poor_ratio" yaml:"poor_ratio" json:"poor_ratio"`
	ChunkSize         int           `koanf:"chunk_size" yaml:"chunk_size" json:"chunk_size"`
	RewritesPerSecond float64       `koanf:"rewrites_per_second" yaml:"rewrites_per_second" json:"rewrites_per_second"`
}

// ScheduleSection holds cron specs. An empty spec disables the job.
type ScheduleSection struct {
	Backup      string `koanf:"backup" yaml:"backup" json:"backup"`
	AuditPrune  string `koanf:"audit_prune" yaml:"audit_prune" json:"audit_prune"`
	Maintenance string `koanf:"maintenance" yaml:"maintenance" json:"maintenance"`
}

// MetricsSection configures the daemon's metrics endpoint.
type MetricsSection struct {
	Addr string `koanf:"addr" yaml:"addr" json:"addr"`
	Path string `koanf:"path" yaml:"path" json:"path"`
}

// LogSection configures logging.
type LogSection struct {
	Level      string `koanf:"level" yaml:"level" json:"level"`
	Format     string `koanf:"format" yaml:"format" json:"format"`
	File       string `koanf:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
}
