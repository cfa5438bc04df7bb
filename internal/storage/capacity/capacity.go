// Package capacity keeps the namespaced entries of a tier under a byte
// ceiling by expiring old envelopes and evicting the oldest ones.
package capacity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/envelope"
	"github.com/yndnr/keepstore/internal/storage/tier"
)

// Config configures the manager.
type Config struct {
	// Ceiling is the byte budget for namespaced entries. A bounded tier's
	// own quota lowers it further.
	Ceiling int64

	// MaxAge expires envelopes written longer ago than this. Zero disables
	// the expire pass.
	MaxAge time.Duration

	// MinReclaimRatio is the fraction of Ceiling the expire pass must free
	// before the oldest-first pass is skipped.
	MinReclaimRatio float64

	// EvictRatio is the fraction of remaining entries the oldest-first
	// pass removes.
	EvictRatio float64

	// Pinned lists full (namespaced) keys that are never removed.
	Pinned []string

	// ProtectedPrefixes lists full key prefixes whose entries are never
	// removed, such as backup snapshots listed by an index.
	ProtectedPrefixes []string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Ceiling:         5 << 20,
		MaxAge:          30 * 24 * time.Hour,
		MinReclaimRatio: 0.1,
		EvictRatio:      0.2,
	}
}

// Report summarizes a cleanup.
type Report struct {
	Expired        int   `json:"expired"`
	Evicted        int   `json:"evicted"`
	BytesReclaimed int64 `json:"bytesReclaimed"`
}

func (r *Report) merge(o Report) {
	r.Expired += o.Expired
	r.Evicted += o.Evicted
	r.BytesReclaimed += o.BytesReclaimed
}

// Manager enforces the ceiling on one namespace.
type Manager struct {
	cfg       Config
	namespace string
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a manager for keys under namespace.
func New(cfg Config, namespace string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinReclaimRatio <= 0 {
		cfg.MinReclaimRatio = 0.1
	}
	if cfg.EvictRatio <= 0 {
		cfg.EvictRatio = 0.2
	}
	return &Manager{cfg: cfg, namespace: namespace, logger: logger, now: time.Now}
}

// Pin adds keys that are never removed.
func (m *Manager) Pin(keys ...string) {
	m.cfg.Pinned = append(m.cfg.Pinned, keys...)
}

// Protect adds key prefixes whose entries are never removed.
func (m *Manager) Protect(prefixes ...string) {
	m.cfg.ProtectedPrefixes = append(m.cfg.ProtectedPrefixes, prefixes...)
}

// Ceiling returns the effective ceiling for t; zero means unbounded.
func (m *Manager) Ceiling(t tier.Tier) int64 {
	if t.Kind() == tier.KindMemory {
		return 0
	}
	ceiling := m.cfg.Ceiling
	if b, ok := t.(tier.Bounded); ok && b.Quota() > 0 && (ceiling <= 0 || b.Quota() < ceiling) {
		ceiling = b.Quota()
	}
	return ceiling
}

type entry struct {
	key       string
	size      int64
	timestamp int64
	parsed    bool
}

func (m *Manager) scan(ctx context.Context, t tier.Tier) ([]entry, int64, error) {
	keys, err := t.Keys(ctx, m.namespace)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]entry, 0, len(keys))
	var total int64
	for _, k := range keys {
		raw, err := t.Get(ctx, k)
		if errors.Is(err, tier.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		e := entry{key: k, size: int64(len(raw))}
		if env, perr := envelope.Parse(raw); perr == nil {
			e.parsed = true
			e.timestamp = env.Timestamp
		}
		entries = append(entries, e)
		total += e.size
	}
	return entries, total, nil
}

// Usage returns the aggregate size of all namespaced entries in t.
func (m *Manager) Usage(ctx context.Context, t tier.Tier) (int64, error) {
	_, total, err := m.scan(ctx, t)
	return total, err
}

// Ensure makes room for candidate bytes under key. It returns
// domain.ErrStorageFull only when both passes could not free enough.
func (m *Manager) Ensure(ctx context.Context, t tier.Tier, key string, candidate int) (Report, error) {
	var rep Report
	ceiling := m.Ceiling(t)
	if ceiling <= 0 {
		return rep, nil
	}

	entries, total, err := m.scan(ctx, t)
	if err != nil {
		return rep, fmt.Errorf("capacity: scan: %w", err)
	}
	need := func(total int64) int64 {
		existing := int64(0)
		for _, e := range entries {
			if e.key == key {
				existing = e.size
			}
		}
		return total - existing + int64(candidate) - ceiling
	}
	if need(total) <= 0 {
		return rep, nil
	}

	m.logger.Info("capacity ceiling reached, cleaning up",
		"tier", t.Name(), "usage", total, "candidate", candidate, "ceiling", ceiling)

	expired, err := m.expire(ctx, t, entries, key)
	rep.merge(expired)
	if err != nil {
		return rep, err
	}

	if entries, total, err = m.scan(ctx, t); err != nil {
		return rep, fmt.Errorf("capacity: scan: %w", err)
	}
	if need(total) > 0 || float64(expired.BytesReclaimed) < m.cfg.MinReclaimRatio*float64(ceiling) {
		evicted, err := m.evictOldest(ctx, t, entries, key)
		rep.merge(evicted)
		if err != nil {
			return rep, err
		}
		if entries, total, err = m.scan(ctx, t); err != nil {
			return rep, fmt.Errorf("capacity: scan: %w", err)
		}
	}

	if short := need(total); short > 0 {
		return rep, domain.ErrStorageFull.WithDetailsf("%s: %d bytes short of %d byte ceiling", t.Name(), short, ceiling)
	}
	return rep, nil
}

// Cleanup runs the expire and oldest-first passes unconditionally.
// protect is a full key that must survive, typically the key being written.
func (m *Manager) Cleanup(ctx context.Context, t tier.Tier, protect string) (Report, error) {
	var rep Report
	entries, _, err := m.scan(ctx, t)
	if err != nil {
		return rep, fmt.Errorf("capacity: scan: %w", err)
	}

	expired, err := m.expire(ctx, t, entries, protect)
	rep.merge(expired)
	if err != nil {
		return rep, err
	}

	if entries, _, err = m.scan(ctx, t); err != nil {
		return rep, fmt.Errorf("capacity: scan: %w", err)
	}
	evicted, err := m.evictOldest(ctx, t, entries, protect)
	rep.merge(evicted)
	return rep, err
}

// Expire runs only the expire pass.
func (m *Manager) Expire(ctx context.Context, t tier.Tier) (Report, error) {
	entries, _, err := m.scan(ctx, t)
	if err != nil {
		return Report{}, fmt.Errorf("capacity: scan: %w", err)
	}
	return m.expire(ctx, t, entries, "")
}

func (m *Manager) protected(key, protect string) bool {
	if key == protect || slices.Contains(m.cfg.Pinned, key) {
		return true
	}
	for _, p := range m.cfg.ProtectedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// expire removes envelopes older than MaxAge and entries that are not
// envelopes at all.
func (m *Manager) expire(ctx context.Context, t tier.Tier, entries []entry, protect string) (Report, error) {
	var rep Report
	cutoff := int64(0)
	if m.cfg.MaxAge > 0 {
		cutoff = m.now().Add(-m.cfg.MaxAge).UnixMilli()
	}

	for _, e := range entries {
		if m.protected(e.key, protect) {
			continue
		}
		if e.parsed && (cutoff == 0 || e.timestamp >= cutoff) {
			continue
		}
		if err := t.Remove(ctx, e.key); err != nil {
			return rep, fmt.Errorf("capacity: expire %s: %w", e.key, err)
		}
		rep.Expired++
		rep.BytesReclaimed += e.size
		m.logger.Debug("expired entry", "key", strings.TrimPrefix(e.key, m.namespace), "parsed", e.parsed)
	}
	return rep, nil
}

// evictOldest removes the oldest EvictRatio of removable entries, at least one.
func (m *Manager) evictOldest(ctx context.Context, t tier.Tier, entries []entry, protect string) (Report, error) {
	var rep Report
	candidates := slices.DeleteFunc(slices.Clone(entries), func(e entry) bool {
		return m.protected(e.key, protect)
	})
	if len(candidates) == 0 {
		return rep, nil
	}

	slices.SortStableFunc(candidates, func(a, b entry) int {
		switch {
		case a.timestamp < b.timestamp:
			return -1
		case a.timestamp > b.timestamp:
			return 1
		default:
			return strings.Compare(a.key, b.key)
		}
	})

	n := int(float64(len(candidates)) * m.cfg.EvictRatio)
	n = max(n, 1)
	for _, e := range candidates[:n] {
		if err := t.Remove(ctx, e.key); err != nil {
			return rep, fmt.Errorf("capacity: evict %s: %w", e.key, err)
		}
		rep.Evicted++
		rep.BytesReclaimed += e.size
	}

	m.logger.Info("evicted oldest entries", "tier", t.Name(), "count", rep.Evicted, "bytes", rep.BytesReclaimed)
	return rep, nil
}
