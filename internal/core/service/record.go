package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/core/index"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
	"github.com/yndnr/keepstore/internal/telemetry/audit"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultCollectionKey    = "employees"
	DefaultCacheTTL         = 5 * time.Second
	DefaultBatchChunkSize   = 50
	DefaultBatchConcurrency = 4
)

// Audit actions.
const (
	ActionAdd           = "record.add"
	ActionUpdate        = "record.update"
	ActionDelete        = "record.delete"
	ActionBatchAdd      = "record.batch_add"
	ActionBatchUpdate   = "record.batch_update"
	ActionBatchDelete   = "record.batch_delete"
	ActionBackupCreate  = "backup.create"
	ActionBackupRestore = "backup.restore"
	ActionBackupDelete  = "backup.delete"
	ActionImport        = "data.import"
	ActionAutoRepair    = "integrity.repair"
)

// Storage is the subset of the storage engine the record store needs.
type Storage interface {
	Save(ctx context.Context, key string, v any) (storage.SaveResult, error)
	Load(ctx context.Context, key string, dst any) (storage.LoadResult, error)
	Remove(ctx context.Context, key string) error
	Rewrite(ctx context.Context, key string) (storage.SaveResult, error)
	Entries(ctx context.Context) ([]storage.EntryInfo, error)
	Info(ctx context.Context) (storage.Info, error)
}

// Config configures the record store.
type Config struct {
	// CollectionKey is the storage key holding the collection.
	CollectionKey string

	// CacheTTL bounds how long a loaded collection is served from cache.
	CacheTTL time.Duration

	// BatchChunkSize is the default chunk size of batch operations.
	BatchChunkSize int

	// BatchConcurrency bounds how many chunks are validated at once.
	BatchConcurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		CollectionKey:    DefaultCollectionKey,
		CacheTTL:         DefaultCacheTTL,
		BatchChunkSize:   DefaultBatchChunkSize,
		BatchConcurrency: DefaultBatchConcurrency,
	}
}

// RecordStore manages the employee collection.
type RecordStore struct {
	store   Storage
	backups *snapshot.Manager[domain.Employee]
	audit   *audit.Log
	metrics *metric.Registry
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	// mu guards the cache fields only; it does not serialize mutations.
	mu         sync.Mutex
	cached     []domain.Employee
	cachedAt   time.Time
	lastGood   []domain.Employee
	generation uint64
	idx        *index.Index
}

// NewRecordStore creates a record store. backups and auditLog may be nil.
func NewRecordStore(store Storage, backups *snapshot.Manager[domain.Employee], auditLog *audit.Log,
	cfg Config, metrics *metric.Registry, logger *slog.Logger) *RecordStore {
	def := DefaultConfig()
	if cfg.CollectionKey == "" {
		cfg.CollectionKey = def.CollectionKey
	}
	if cfg.CacheTTL < 0 {
		cfg.CacheTTL = 0
	}
	if cfg.BatchChunkSize <= 0 {
		cfg.BatchChunkSize = def.BatchChunkSize
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = def.BatchConcurrency
	}
	if metrics == nil {
		metrics = metric.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordStore{
		store:   store,
		backups: backups,
		audit:   auditLog,
		metrics: metrics,
		logger:  logger.With("component", "records"),
		cfg:     cfg,
		now:     time.Now,
	}
}

// CollectionKey returns the storage key of the collection.
func (s *RecordStore) CollectionKey() string { return s.cfg.CollectionKey }

// ============================================================================
// Collection load and persist
// ============================================================================

// load returns a private copy of the collection. A corrupted collection is
// not an error: the last good collection is returned, or an empty one.
func (s *RecordStore) load(ctx context.Context) ([]domain.Employee, error) {
	s.mu.Lock()
	if s.cached != nil && s.cfg.CacheTTL > 0 && s.now().Sub(s.cachedAt) < s.cfg.CacheTTL {
		out := cloneAll(s.cached)
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	raw, err := s.loadRaw(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		raw = nil
	case errors.Is(err, domain.ErrParse), errors.Is(err, domain.ErrDecompression):
		s.mu.Lock()
		fallback := cloneAll(s.lastGood)
		s.mu.Unlock()
		s.logger.Error("collection unreadable, serving last known good copy",
			"key", s.cfg.CollectionKey, "records", len(fallback), "error", err)
		return fallback, nil
	default:
		return nil, err
	}

	records := make([]domain.Employee, 0, len(raw))
	for i, item := range raw {
		rec, err := decodeRecord(item)
		if err != nil {
			s.logger.Warn("dropping malformed record", "position", i, "error", err)
			continue
		}
		records = append(records, rec)
	}

	s.remember(records)
	return records, nil
}

// loadRaw returns the stored collection without per-record decoding.
func (s *RecordStore) loadRaw(ctx context.Context) ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if _, err := s.store.Load(ctx, s.cfg.CollectionKey, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func decodeRecord(raw json.RawMessage) (domain.Employee, error) {
	var rec domain.Employee
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, domain.ErrInvalidFormat.WithCause(err)
	}
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	return rec, nil
}

// persist writes the whole collection and refreshes the cache.
func (s *RecordStore) persist(ctx context.Context, records []domain.Employee) (storage.SaveResult, error) {
	res, err := s.store.Save(ctx, s.cfg.CollectionKey, records)
	if err != nil {
		return res, err
	}
	if res.Degraded {
		s.logger.Warn("collection saved to memory tier only", "tier", res.Tier)
	}
	s.remember(records)
	s.metrics.Records.Set(float64(len(records)))
	return res, nil
}

// remember stores records as the cached and last known good collection and
// advances the generation.
func (s *RecordStore) remember(records []domain.Employee) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = cloneAll(records)
	s.cachedAt = s.now()
	s.lastGood = cloneAll(records)
	s.generation++
	s.idx = nil
}

// Invalidate drops the read cache; the next read goes to storage.
func (s *RecordStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Generation returns the generation of the cached collection.
func (s *RecordStore) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *RecordStore) recordOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.Operations.WithLabelValues(op, result).Inc()
}

func (s *RecordStore) appendAudit(action string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Append(action, details)
}

func cloneAll(records []domain.Employee) []domain.Employee {
	if records == nil {
		return []domain.Employee{}
	}
	out := make([]domain.Employee, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

func idSet(records []domain.Employee) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(records))
	for _, r := range records {
		ids[r.ID] = struct{}{}
	}
	return ids
}

// assignID gives rec a fresh id when it has none or when its id is taken,
// and reserves it in ids.
func (s *RecordStore) assignID(rec *domain.Employee, ids map[int64]struct{}) {
	if _, taken := ids[rec.ID]; rec.ID == 0 || taken {
		if rec.ID != 0 {
			s.logger.Debug("id collision, generating a new id", "id", rec.ID)
		}
		for {
			rec.ID = domain.GenerateEmployeeID(s.now())
			if _, taken := ids[rec.ID]; !taken && rec.ID != 0 {
				break
			}
		}
	}
	ids[rec.ID] = struct{}{}
}

// ============================================================================
// Single-record operations
// ============================================================================

// Add validates rec, assigns an id when needed and appends it.
func (s *RecordStore) Add(ctx context.Context, rec domain.Employee) (domain.Employee, error) {
	rec, err := s.add(ctx, rec)
	s.recordOp("add", err)
	return rec, err
}

func (s *RecordStore) add(ctx context.Context, rec domain.Employee) (domain.Employee, error) {
	// 1. Validate the single record
	rec = rec.Clone()
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return domain.Employee{}, err
	}

	// 2. Load and resolve the id against the collection
	records, err := s.load(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	s.assignID(&rec, idSet(records))
	rec.Touch(s.now(), domain.SourceManual)

	// 3. Persist the whole collection
	records = append(records, rec)
	if _, err := s.persist(ctx, records); err != nil {
		return domain.Employee{}, err
	}

	s.appendAudit(ActionAdd, map[string]any{"id": rec.ID, "name": rec.Name})
	s.logger.Debug("record added", "id", rec.ID)
	return rec, nil
}

// Update merges patch onto the record with the given id.
func (s *RecordStore) Update(ctx context.Context, id int64, patch domain.EmployeePatch) (domain.Employee, error) {
	rec, err := s.update(ctx, id, patch)
	s.recordOp("update", err)
	return rec, err
}

func (s *RecordStore) update(ctx context.Context, id int64, patch domain.EmployeePatch) (domain.Employee, error) {
	records, err := s.load(ctx)
	if err != nil {
		return domain.Employee{}, err
	}

	pos := slices.IndexFunc(records, func(r domain.Employee) bool { return r.ID == id })
	if pos < 0 {
		return domain.Employee{}, domain.ErrNotFound.WithDetailsf("employee %d", id)
	}

	rec := records[pos].Clone()
	rec.Apply(patch)
	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return domain.Employee{}, err
	}
	rec.Touch(s.now(), domain.SourceManual)

	records[pos] = rec
	if _, err := s.persist(ctx, records); err != nil {
		return domain.Employee{}, err
	}

	s.appendAudit(ActionUpdate, map[string]any{"id": id})
	return rec, nil
}

// Delete removes the record with the given id. Deleting an absent id
// succeeds without touching storage and reports false.
func (s *RecordStore) Delete(ctx context.Context, id int64) (bool, error) {
	deleted, err := s.delete(ctx, id)
	s.recordOp("delete", err)
	return deleted, err
}

func (s *RecordStore) delete(ctx context.Context, id int64) (bool, error) {
	records, err := s.load(ctx)
	if err != nil {
		return false, err
	}

	before := len(records)
	kept := slices.DeleteFunc(records, func(r domain.Employee) bool { return r.ID == id })
	if len(kept) == before {
		s.appendAudit(ActionDelete, map[string]any{"id": id, "found": false})
		return false, nil
	}

	if _, err := s.persist(ctx, kept); err != nil {
		return false, err
	}
	s.appendAudit(ActionDelete, map[string]any{"id": id, "found": true})
	return true, nil
}

// Get returns the record with the given id.
func (s *RecordStore) Get(ctx context.Context, id int64) (domain.Employee, error) {
	records, err := s.load(ctx)
	if err != nil {
		return domain.Employee{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.Employee{}, domain.ErrNotFound.WithDetailsf("employee %d", id)
}

// List returns the whole collection. A corrupted collection yields the last
// known good copy, or an empty collection, never an error.
func (s *RecordStore) List(ctx context.Context) ([]domain.Employee, error) {
	return s.load(ctx)
}

// GetAuditLogs returns audit entries matching q, newest first.
func (s *RecordStore) GetAuditLogs(q audit.Query) []audit.Entry {
	if s.audit == nil {
		return []audit.Entry{}
	}
	return s.audit.Query(q)
}
