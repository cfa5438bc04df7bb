package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Kind classifies a tier by how long its data lives.
type Kind string

const (
	KindDurable Kind = "durable"
	KindSession Kind = "session"
	KindMemory  Kind = "memory"
)

// Classified tier errors.
var (
	ErrKeyNotFound   = errors.New("tier: key not found")
	ErrQuotaExceeded = errors.New("tier: quota exceeded")
	ErrUnavailable   = errors.New("tier: unavailable")
)

// probeKey is written and removed by Probe. It never collides with
// namespaced engine keys.
const probeKey = "__keepstore_probe__"

// Tier is a key-value backend.
//
// Implementations must be safe for concurrent use. Keys returned by Keys
// and KeyAt are in ascending byte order.
type Tier interface {
	Name() string
	Kind() Kind

	// Probe verifies the tier accepts writes by setting and removing a key.
	Probe(ctx context.Context) error

	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	Count(ctx context.Context) (int, error)
	KeyAt(ctx context.Context, i int) (string, error)
	Keys(ctx context.Context, prefix string) ([]string, error)

	Close() error
}

// Compactor is implemented by tiers that can physically reclaim space.
type Compactor interface {
	Compact(ctx context.Context) (reclaimed uint64, err error)
}

// Bounded is implemented by tiers with a byte quota.
type Bounded interface {
	// Quota returns the byte quota; zero means unbounded.
	Quota() int64
	// Used returns the bytes currently accounted against the quota.
	Used() int64
}

// probe is the shared write+delete availability check.
func probe(ctx context.Context, t Tier) error {
	if err := t.Set(ctx, probeKey, []byte("1")); err != nil {
		return fmt.Errorf("probe %s: set: %w", t.Name(), err)
	}
	if err := t.Remove(ctx, probeKey); err != nil {
		return fmt.Errorf("probe %s: remove: %w", t.Name(), err)
	}
	return nil
}

// Selector picks the active tier among ranked persistent tiers, falling
// back to memory when none is usable.
type Selector struct {
	logger     *slog.Logger
	persistent []Tier
	memory     *Memory

	mu       sync.RWMutex
	active   Tier
	degraded bool
}

// NewSelector creates a selector. persistent is ordered by priority.
// The memory tier is always the last resort.
func NewSelector(logger *slog.Logger, memory *Memory, persistent ...Tier) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if memory == nil {
		memory = NewMemory()
	}
	return &Selector{
		logger:     logger,
		persistent: persistent,
		memory:     memory,
		active:     memory,
	}
}

// Detect probes persistent tiers in order and activates the first one that
// accepts a write. When all fail the memory tier is activated and the
// selector reports Degraded.
func (s *Selector) Detect(ctx context.Context) Tier {
	for _, t := range s.persistent {
		err := t.Probe(ctx)
		if err == nil {
			s.setActive(t, false)
			return t
		}
		s.logger.Warn("tier probe failed", "tier", t.Name(), "error", err)
	}

	s.setActive(s.memory, true)
	return s.memory
}

func (s *Selector) setActive(t Tier, degraded bool) {
	s.mu.Lock()
	prev := s.active
	s.active = t
	s.degraded = degraded
	s.mu.Unlock()

	if prev != t {
		s.logger.Info("active tier changed", "from", prev.Name(), "to", t.Name(), "degraded", degraded)
	}
}

// Active returns the currently active tier.
func (s *Selector) Active() Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Degraded reports whether persistent tiers were configured but none was
// usable at the last detection.
func (s *Selector) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded && len(s.persistent) > 0
}

// Tiers returns every tier in priority order, memory last.
func (s *Selector) Tiers() []Tier {
	out := make([]Tier, 0, len(s.persistent)+1)
	out = append(out, s.persistent...)
	return append(out, s.memory)
}

// Close closes every tier and joins their errors.
func (s *Selector) Close() error {
	var errs []error
	for _, t := range s.Tiers() {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
