package audit

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

// Defaults.
const (
	DefaultCapacity  = 1000
	DefaultRetention = 30 * 24 * time.Hour
	DefaultQueueSize = 64
	DefaultKey       = "audit:log"
)

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id" yaml:"id"`
	Timestamp int64          `json:"timestamp" yaml:"timestamp" table:"millis"`
	Action    string         `json:"action" yaml:"action"`
	Details   map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	SessionID string         `json:"sessionId" yaml:"sessionId" table:"wide"`
}

// Time returns Timestamp as a time.
func (e Entry) Time() time.Time { return time.UnixMilli(e.Timestamp) }

// Query filters entries. Zero fields match everything.
type Query struct {
	Start  time.Time
	End    time.Time
	Action string
	Limit  int
}

// Store persists the ring.
type Store interface {
	Save(ctx context.Context, key string, v any) (storage.SaveResult, error)
	Load(ctx context.Context, key string, dst any) (storage.LoadResult, error)
}

// Config configures the log.
type Config struct {
	Capacity  int
	Retention time.Duration
	QueueSize int
	Key       string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:  DefaultCapacity,
		Retention: DefaultRetention,
		QueueSize: DefaultQueueSize,
		Key:       DefaultKey,
	}
}

// Log is the audit log. It is safe for concurrent use.
type Log struct {
	store     Store
	cfg       Config
	logger    *slog.Logger
	metrics   *metric.Registry
	sessionID string
	now       func() time.Time

	mu      sync.Mutex
	entries []Entry // oldest first
	dirty   bool

	queue     chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a log. Call Load to restore persisted entries and Start to
// run the background writer.
func New(store Store, cfg Config, logger *slog.Logger, metrics *metric.Registry) *Log {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Key == "" {
		cfg.Key = def.Key
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = metric.NewRegistry()
	}
	return &Log{
		store:     store,
		cfg:       cfg,
		logger:    logger.With("component", "audit"),
		metrics:   metrics,
		sessionID: uuid.NewString(),
		now:       time.Now,
		queue:     make(chan struct{}, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SessionID returns the id stamped on entries of this process.
func (l *Log) SessionID() string { return l.sessionID }

// Key returns the storage key of the log.
func (l *Log) Key() string { return l.cfg.Key }

// Load replaces the ring with the persisted entries. A missing or
// unreadable log starts empty.
func (l *Log) Load(ctx context.Context) error {
	var entries []Entry
	_, err := l.store.Load(ctx, l.cfg.Key, &entries)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		entries = nil
	case errors.Is(err, domain.ErrParse), errors.Is(err, domain.ErrDecompression):
		l.logger.Error("audit log unreadable, starting empty", "error", err)
		entries = nil
	default:
		return err
	}

	slices.SortStableFunc(entries, func(a, b Entry) int { return cmp.Compare(a.Timestamp, b.Timestamp) })

	l.mu.Lock()
	l.entries = entries
	l.trimLocked(l.now())
	l.mu.Unlock()
	return nil
}

// Start runs the background writer.
func (l *Log) Start() {
	l.startOnce.Do(func() { go l.run() })
}

// Append records an action. It never blocks on storage.
func (l *Log) Append(action string, details map[string]any) Entry {
	now := l.now()
	e := Entry{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Timestamp: now.UnixMilli(),
		Action:    action,
		Details:   details,
		SessionID: l.sessionID,
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.cfg.Capacity; over > 0 {
		l.entries = slices.Delete(l.entries, 0, over)
	}
	l.dirty = true
	l.mu.Unlock()

	select {
	case l.queue <- struct{}{}:
	default:
		l.metrics.AuditDropped.Inc()
	}
	return e
}

// Query returns matching entries, newest first.
func (l *Log) Query(q Query) []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		if !q.Start.IsZero() && e.Timestamp < q.Start.UnixMilli() {
			continue
		}
		if !q.End.IsZero() && e.Timestamp > q.End.UnixMilli() {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		out = append(out, e)
	}
	l.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Entry) int { return cmp.Compare(b.Timestamp, a.Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Len returns the number of cached entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops entries older than the retention window relative to now and
// returns how many were removed.
func (l *Log) Prune(ctx context.Context, now time.Time) (int, error) {
	l.mu.Lock()
	removed := l.trimLocked(now)
	if removed > 0 {
		l.dirty = true
	}
	l.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	l.logger.Info("pruned audit entries", "removed", removed)
	return removed, l.Flush(ctx)
}

func (l *Log) trimLocked(now time.Time) int {
	cutoff := now.Add(-l.cfg.Retention).UnixMilli()
	i := 0
	for i < len(l.entries) && l.entries[i].Timestamp < cutoff {
		i++
	}
	if over := len(l.entries) - i - l.cfg.Capacity; over > 0 {
		i += over
	}
	if i > 0 {
		l.entries = slices.Delete(l.entries, 0, i)
	}
	return i
}

// Flush persists the ring if it changed since the last flush.
func (l *Log) Flush(ctx context.Context) error {
	l.mu.Lock()
	if !l.dirty {
		l.mu.Unlock()
		return nil
	}
	snapshot := slices.Clone(l.entries)
	l.dirty = false
	l.mu.Unlock()

	if _, err := l.store.Save(ctx, l.cfg.Key, snapshot); err != nil {
		l.mu.Lock()
		l.dirty = true
		l.mu.Unlock()
		return err
	}
	l.metrics.AuditFlushes.Inc()
	return nil
}

// run is the background writer.
func (l *Log) run() {
	defer close(l.doneCh)

	for {
		select {
		case <-l.queue:
			// coalesce everything queued so far into one write
			l.drainQueue()
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := l.Flush(ctx); err != nil {
				l.logger.Error("audit flush failed", "error", err)
			}
			cancel()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Log) drainQueue() {
	for {
		select {
		case <-l.queue:
		default:
			return
		}
	}
}

// Close stops the writer and flushes whatever is still pending.
func (l *Log) Close(ctx context.Context) error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		// a writer that never started has nothing to wait for
		l.startOnce.Do(func() { close(l.doneCh) })
		select {
		case <-l.doneCh:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		l.drainQueue()
		err = l.Flush(ctx)
	})
	return err
}
