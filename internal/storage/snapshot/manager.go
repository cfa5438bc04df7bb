package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/integrity"
)

const (
	DefaultRetention = 5
	DefaultKeyPrefix = "backup:"

	indexSuffix = "index"

	// Latest selects the newest backup in Get and Restore.
	Latest = "latest"

	// ReasonNoData is reported when Create is given an empty collection.
	ReasonNoData = "no_data"
)

// Type tells how a backup was triggered.
type Type string

const (
	TypeManual Type = "manual"
	TypeAuto   Type = "auto"
)

// Metadata is stored alongside the records.
type Metadata struct {
	Count    int    `json:"count" yaml:"count"`
	Checksum string `json:"checksum" yaml:"checksum"`
}

// Snapshot is a stored backup.
type Snapshot[T any] struct {
	BackupID  string   `json:"backupId"`
	Timestamp int64    `json:"timestamp"`
	Type      Type     `json:"type"`
	Records   []T      `json:"records"`
	Metadata  Metadata `json:"metadata"`
}

// Info is the index entry of a backup.
type Info struct {
	BackupID  string   `json:"backupId" yaml:"backupId"`
	Timestamp int64    `json:"timestamp" yaml:"timestamp" table:"millis"`
	Type      Type     `json:"type" yaml:"type"`
	Metadata  Metadata `json:"metadata" yaml:"metadata"`
	Size      int      `json:"size" yaml:"size" table:"bytes"`
}

// CreatedAt returns Timestamp as a time.
func (i Info) CreatedAt() time.Time { return time.UnixMilli(i.Timestamp) }

// CreateResult reports the outcome of Create. An empty collection is not
// an error: Success is false and Reason explains why.
type CreateResult struct {
	Success bool   `json:"success" yaml:"success"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Info    *Info  `json:"info,omitempty" yaml:"info,omitempty"`
	Pruned  int    `json:"pruned,omitempty" yaml:"pruned,omitempty"`
}

// Store is the subset of the storage engine the manager needs.
type Store interface {
	Save(ctx context.Context, key string, v any) (storage.SaveResult, error)
	Load(ctx context.Context, key string, dst any) (storage.LoadResult, error)
	Remove(ctx context.Context, key string) error
}

// Config configures the manager.
type Config struct {
	// Retention is how many backups are kept.
	Retention int

	// KeyPrefix prefixes backup keys.
	KeyPrefix string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Retention: DefaultRetention, KeyPrefix: DefaultKeyPrefix}
}

// Manager creates, verifies and prunes backups of []T.
type Manager[T any] struct {
	store    Store
	cfg      Config
	validate func(T) error
	logger   *slog.Logger
	now      func() time.Time

	// mu serializes index read-modify-write.
	mu sync.Mutex
}

// NewManager creates a manager. validate checks every record on Verify;
// nil accepts everything.
func NewManager[T any](store Store, cfg Config, validate func(T) error, logger *slog.Logger) *Manager[T] {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if validate == nil {
		validate = func(T) error { return nil }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager[T]{
		store:    store,
		cfg:      cfg,
		validate: validate,
		logger:   logger.With("component", "backup"),
		now:      time.Now,
	}
}

// IndexKey returns the key of the backup index.
func (m *Manager[T]) IndexKey() string { return m.cfg.KeyPrefix + indexSuffix }

func (m *Manager[T]) key(id string) string { return m.cfg.KeyPrefix + id }

// Checksum returns the checksum of records as stored in a backup.
func Checksum[T any](records []T) (string, error) {
	raw, err := json.Marshal(records)
	if err != nil {
		return "", err
	}
	return integrity.Checksum(raw), nil
}

// Create stores a backup of records and prunes old ones.
func (m *Manager[T]) Create(ctx context.Context, typ Type, records []T) (CreateResult, error) {
	if len(records) == 0 {
		m.logger.Info("backup skipped, collection is empty", "type", typ)
		return CreateResult{Success: false, Reason: ReasonNoData}, nil
	}

	sum, err := Checksum(records)
	if err != nil {
		return CreateResult{}, fmt.Errorf("backup: checksum: %w", err)
	}

	now := m.now()
	snap := Snapshot[T]{
		BackupID:  ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp: now.UnixMilli(),
		Type:      typ,
		Records:   records,
		Metadata:  Metadata{Count: len(records), Checksum: sum},
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.store.Save(ctx, m.key(snap.BackupID), snap)
	if err != nil {
		return CreateResult{}, fmt.Errorf("backup: save %s: %w", snap.BackupID, err)
	}

	info := Info{
		BackupID:  snap.BackupID,
		Timestamp: snap.Timestamp,
		Type:      typ,
		Metadata:  snap.Metadata,
		Size:      res.Size,
	}

	index, err := m.loadIndex(ctx)
	if err != nil {
		return CreateResult{}, err
	}
	index = append(index, info)
	sortNewestFirst(index)

	pruned, index := m.prune(ctx, index)
	if err := m.saveIndex(ctx, index); err != nil {
		return CreateResult{}, err
	}

	m.logger.Info("backup created", "backup_id", info.BackupID, "type", typ, "count", info.Metadata.Count, "pruned", pruned)
	return CreateResult{Success: true, Info: &info, Pruned: pruned}, nil
}

// List returns the retained backups, newest first.
func (m *Manager[T]) List(ctx context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadIndex(ctx)
}

// Get loads a backup by id, or the newest one for Latest.
func (m *Manager[T]) Get(ctx context.Context, id string) (*Snapshot[T], error) {
	if id == "" || id == Latest {
		index, err := m.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(index) == 0 {
			return nil, domain.ErrBackupNotFound.WithDetails("no backups")
		}
		id = index[0].BackupID
	}

	var snap Snapshot[T]
	if _, err := m.store.Load(ctx, m.key(id), &snap); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrBackupNotFound.WithDetails(id)
		}
		return nil, domain.ErrBackupInvalid.WithDetails(id).WithCause(err)
	}
	return &snap, nil
}

// Verify checks count, checksum and every record of a backup.
func (m *Manager[T]) Verify(snap *Snapshot[T]) error {
	if snap.Metadata.Count != len(snap.Records) {
		return domain.ErrBackupInvalid.WithDetailsf("%s: count %d, found %d records",
			snap.BackupID, snap.Metadata.Count, len(snap.Records))
	}

	sum, err := Checksum(snap.Records)
	if err != nil {
		return domain.ErrBackupInvalid.WithDetails(snap.BackupID).WithCause(err)
	}
	if !strings.EqualFold(sum, snap.Metadata.Checksum) {
		return domain.ErrBackupInvalid.WithDetailsf("%s: checksum %s, want %s", snap.BackupID, sum, snap.Metadata.Checksum)
	}

	for i, r := range snap.Records {
		if err := m.validate(r); err != nil {
			return domain.ErrBackupInvalid.WithDetailsf("%s: record %d", snap.BackupID, i).WithCause(err)
		}
	}
	return nil
}

// Restore loads and verifies a backup and returns its records. Nothing is
// returned unless every check passes.
func (m *Manager[T]) Restore(ctx context.Context, id string) ([]T, *Info, error) {
	snap, err := m.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Verify(snap); err != nil {
		m.logger.Warn("backup failed verification", "backup_id", snap.BackupID, "error", err)
		return nil, nil, err
	}
	return snap.Records, &Info{
		BackupID:  snap.BackupID,
		Timestamp: snap.Timestamp,
		Type:      snap.Type,
		Metadata:  snap.Metadata,
	}, nil
}

// Delete removes a backup.
func (m *Manager[T]) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	index, err := m.loadIndex(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(index, func(info Info) bool { return info.BackupID == id })
	if i < 0 {
		return domain.ErrBackupNotFound.WithDetails(id)
	}

	if err := m.store.Remove(ctx, m.key(id)); err != nil {
		return fmt.Errorf("backup: remove %s: %w", id, err)
	}
	index = slices.Delete(index, i, i+1)
	if err := m.saveIndex(ctx, index); err != nil {
		return err
	}
	m.logger.Info("backup deleted", "backup_id", id)
	return nil
}

// Prune applies the retention policy and returns how many backups were
// removed.
func (m *Manager[T]) Prune(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index, err := m.loadIndex(ctx)
	if err != nil {
		return 0, err
	}
	pruned, index := m.prune(ctx, index)
	if pruned == 0 {
		return 0, nil
	}
	return pruned, m.saveIndex(ctx, index)
}

// prune drops everything past Retention from a newest-first index.
func (m *Manager[T]) prune(ctx context.Context, index []Info) (int, []Info) {
	if len(index) <= m.cfg.Retention {
		return 0, index
	}
	for _, info := range index[m.cfg.Retention:] {
		if err := m.store.Remove(ctx, m.key(info.BackupID)); err != nil {
			m.logger.Warn("failed to remove expired backup", "backup_id", info.BackupID, "error", err)
		}
	}
	pruned := len(index) - m.cfg.Retention
	return pruned, index[:m.cfg.Retention]
}

func (m *Manager[T]) loadIndex(ctx context.Context) ([]Info, error) {
	var index []Info
	_, err := m.store.Load(ctx, m.IndexKey(), &index)
	switch {
	case err == nil:
		sortNewestFirst(index)
		return index, nil
	case errors.Is(err, domain.ErrNotFound):
		return []Info{}, nil
	case errors.Is(err, domain.ErrParse), errors.Is(err, domain.ErrDecompression):
		// an unreadable index loses the listing, not the backups themselves
		m.logger.Error("backup index unreadable, starting a new one", "error", err)
		return []Info{}, nil
	default:
		return nil, fmt.Errorf("backup: load index: %w", err)
	}
}

func (m *Manager[T]) saveIndex(ctx context.Context, index []Info) error {
	if _, err := m.store.Save(ctx, m.IndexKey(), index); err != nil {
		return fmt.Errorf("backup: save index: %w", err)
	}
	return nil
}

func sortNewestFirst(index []Info) {
	slices.SortStableFunc(index, func(a, b Info) int {
		if a.Timestamp != b.Timestamp {
			if a.Timestamp > b.Timestamp {
				return -1
			}
			return 1
		}
		return strings.Compare(b.BackupID, a.BackupID)
	})
}
