package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/go-pkgz/repeater"
	"github.com/gobwas/glob"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/capacity"
	"github.com/yndnr/keepstore/internal/storage/compress"
	"github.com/yndnr/keepstore/internal/storage/envelope"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

// Default configuration values.
const (
	DefaultNamespace   = "ks:"
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	MaxKeyLength       = 256
)

// errStopRetry ends a repeater run early; the real error is kept aside.
var errStopRetry = errors.New("storage: stop retrying")

// Config configures the storage engine.
type Config struct {
	// Namespace prefixes every key the engine writes.
	Namespace string

	// MaxAttempts bounds Save attempts.
	MaxAttempts int

	// BaseDelay is the linear backoff unit between attempts.
	BaseDelay time.Duration

	// Capacity configures the capacity manager.
	Capacity capacity.Config

	// CompressMinSize is the payload size below which compression is skipped.
	CompressMinSize int

	// CompressMinGain is the fraction of size compression must save.
	CompressMinGain float64

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics receives engine metrics. Nil creates a private registry.
	Metrics *metric.Registry
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:       DefaultNamespace,
		MaxAttempts:     DefaultMaxAttempts,
		BaseDelay:       DefaultBaseDelay,
		Capacity:        capacity.DefaultConfig(),
		CompressMinSize: compress.DefaultMinSize,
		CompressMinGain: compress.DefaultMinGain,
		Logger:          slog.Default(),
	}
}

// Engine is the tiered persistence engine.
type Engine struct {
	cfg        Config
	selector   *tier.Selector
	compressor *compress.Engine
	capacity   *capacity.Manager
	logger     *slog.Logger
	metrics    *metric.Registry
	now        func() time.Time
}

// New creates an engine over selector. Call Open before use.
func New(cfg Config, selector *tier.Selector) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}

	logger := cfg.Logger.With("component", "storage")
	return &Engine{
		cfg:      cfg,
		selector: selector,
		compressor: compress.New(
			compress.WithMinSize(cfg.CompressMinSize),
			compress.WithMinGain(cfg.CompressMinGain),
			compress.WithLogger(logger),
		),
		capacity: capacity.New(cfg.Capacity, cfg.Namespace, logger),
		logger:   logger,
		metrics:  cfg.Metrics,
		now:      time.Now,
	}
}

// Open runs tier detection.
func (e *Engine) Open(ctx context.Context) error {
	active := e.selector.Detect(ctx)
	if e.selector.Degraded() {
		e.metrics.Degradations.Inc()
		e.logger.Warn("no persistent tier available, running in memory", "tier", active.Name())
	}
	e.logger.Info("storage engine opened", "tier", active.Name(), "namespace", e.cfg.Namespace)
	return nil
}

// Close closes every tier.
func (e *Engine) Close() error {
	e.logger.Info("closing storage engine")
	return e.selector.Close()
}

// Pin protects keys from capacity cleanup.
func (e *Engine) Pin(keys ...string) {
	for _, k := range keys {
		e.capacity.Pin(e.fullKey(k))
	}
}

// Protect shields every key under the given prefixes from capacity cleanup.
func (e *Engine) Protect(prefixes ...string) {
	for _, p := range prefixes {
		e.capacity.Protect(e.fullKey(p))
	}
}

// Active returns the active tier.
func (e *Engine) Active() tier.Tier { return e.selector.Active() }

// Degraded reports whether the engine fell back to memory.
func (e *Engine) Degraded() bool { return e.selector.Degraded() }

// Metrics returns the engine's metric registry.
func (e *Engine) Metrics() *metric.Registry { return e.metrics }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// ValidateKey checks a caller key.
func ValidateKey(key string) error {
	if key == "" {
		return domain.ErrInvalidKey.WithDetails("key is empty")
	}
	if len(key) > MaxKeyLength {
		return domain.ErrInvalidKey.WithDetailsf("key is %d bytes, limit %d", len(key), MaxKeyLength)
	}
	if strings.IndexFunc(key, unicode.IsControl) >= 0 {
		return domain.ErrInvalidKey.WithDetails("key contains control characters")
	}
	return nil
}

func (e *Engine) fullKey(key string) string { return e.cfg.Namespace + key }

// SaveResult describes a completed save.
type SaveResult struct {
	Key        string `json:"key"`
	Tier       string `json:"tier"`
	Attempts   int    `json:"attempts"`
	Degraded   bool   `json:"degraded"`
	Compressed bool   `json:"compressed"`
	Algorithm  string `json:"algorithm"`
	Size       int    `json:"size"`
}

// Save stores v under key with the configured number of attempts.
func (e *Engine) Save(ctx context.Context, key string, v any) (SaveResult, error) {
	return e.SaveWithRetry(ctx, key, v, e.cfg.MaxAttempts)
}

// SaveWithRetry stores v under key, trying at most maxAttempts times.
func (e *Engine) SaveWithRetry(ctx context.Context, key string, v any, maxAttempts int) (SaveResult, error) {
	if err := ValidateKey(key); err != nil {
		return SaveResult{Key: key}, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return SaveResult{Key: key}, domain.ErrSaveFailed.WithDetailsf("encode %s", key).WithCause(err)
	}
	return e.save(ctx, key, payload, e.now(), maxAttempts)
}

// SaveRaw stores an already encoded JSON payload.
func (e *Engine) SaveRaw(ctx context.Context, key string, payload []byte) (SaveResult, error) {
	if err := ValidateKey(key); err != nil {
		return SaveResult{Key: key}, err
	}
	return e.save(ctx, key, payload, e.now(), e.cfg.MaxAttempts)
}

// Rewrite re-encodes the entry under key, keeping its original write time.
// Compression is re-evaluated from scratch.
func (e *Engine) Rewrite(ctx context.Context, key string) (SaveResult, error) {
	env, opened, err := e.read(ctx, key)
	if err != nil {
		return SaveResult{Key: key}, err
	}
	return e.save(ctx, key, opened.Payload, env.WrittenAt(), e.cfg.MaxAttempts)
}

func (e *Engine) save(ctx context.Context, key string, payload []byte, writtenAt time.Time, maxAttempts int) (SaveResult, error) {
	started := time.Now()
	defer func() { e.metrics.SaveDuration.Observe(time.Since(started).Seconds()) }()

	res := SaveResult{Key: key}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	env, err := envelope.Seal(payload, writtenAt, e.compressor)
	if err != nil {
		return res, domain.ErrSaveFailed.WithDetailsf("seal %s", key).WithCause(err)
	}
	raw, err := env.Marshal()
	if err != nil {
		return res, domain.ErrSaveFailed.WithDetailsf("encode envelope %s", key).WithCause(err)
	}
	res.Compressed = env.Metadata.Compressed
	res.Algorithm = env.Metadata.Algorithm
	res.Size = len(raw)

	full := e.fullKey(key)
	var lastErr error
	quotaRetried := false

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rpt := repeater.New(&linearStrategy{attempts: maxAttempts, base: e.cfg.BaseDelay})
	err = rpt.Do(ctx, func() error {
		res.Attempts++
		if res.Attempts > 1 {
			e.metrics.Retries.Inc()
			e.logger.Debug("retrying save", "key", key, "attempt", res.Attempts, "error", lastErr)
		}

		t := e.selector.Active()
		werr := e.write(ctx, t, full, raw)
		switch {
		case werr == nil:
			res.Tier = t.Name()
			return nil

		case errors.Is(werr, domain.ErrStorageFull):
			lastErr = werr
			return errStopRetry

		case errors.Is(werr, tier.ErrUnavailable):
			e.metrics.Saves.WithLabelValues(t.Name(), "unavailable").Inc()
			e.logger.Warn("tier unavailable, re-running detection", "tier", t.Name(), "error", werr)
			next := e.selector.Detect(ctx)
			if next.Kind() == tier.KindMemory && e.selector.Degraded() {
				e.metrics.Degradations.Inc()
			}
			if nerr := e.write(ctx, next, full, raw); nerr != nil {
				lastErr = nerr
				if errors.Is(nerr, domain.ErrStorageFull) {
					return errStopRetry
				}
				return nerr
			}
			res.Tier = next.Name()
			return nil

		case errors.Is(werr, tier.ErrQuotaExceeded):
			e.metrics.Saves.WithLabelValues(t.Name(), "quota_exceeded").Inc()
			if quotaRetried {
				lastErr = domain.ErrQuotaExceeded.WithDetails(t.Name()).WithCause(werr)
				return errStopRetry
			}
			quotaRetried = true
			rep, cerr := e.capacity.Cleanup(ctx, t, full)
			e.recordCleanup(rep)
			if cerr != nil {
				e.logger.Warn("capacity cleanup failed", "tier", t.Name(), "error", cerr)
			}
			if rerr := e.write(ctx, t, full, raw); rerr != nil {
				if errors.Is(rerr, tier.ErrQuotaExceeded) || errors.Is(rerr, domain.ErrStorageFull) {
					lastErr = domain.ErrQuotaExceeded.WithDetails(t.Name()).WithCause(rerr)
					return errStopRetry
				}
				lastErr = rerr
				return rerr
			}
			res.Tier = t.Name()
			return nil

		default:
			e.metrics.Saves.WithLabelValues(t.Name(), "error").Inc()
			lastErr = werr
			return werr
		}
	}, errStopRetry)

	res.Degraded = e.selector.Degraded()

	switch {
	case err == nil:
		e.metrics.Saves.WithLabelValues(res.Tier, "ok").Inc()
		e.metrics.CompressionRatio.WithLabelValues(res.Algorithm).Observe(env.Metadata.CompressionRatio)
		return res, nil
	case errors.Is(err, errStopRetry):
		return res, lastErr
	case lastErr == nil:
		// the context ended before the first attempt
		return res, domain.ErrSaveFailed.WithDetails(key).WithCause(err)
	default:
		e.logger.Error("save failed", "key", key, "attempts", res.Attempts, "error", lastErr)
		return res, domain.ErrSaveFailed.WithDetailsf("%s after %d attempts", key, res.Attempts).WithCause(lastErr)
	}
}

// write makes room and stores raw on t.
func (e *Engine) write(ctx context.Context, t tier.Tier, full string, raw []byte) error {
	rep, err := e.capacity.Ensure(ctx, t, full, len(raw))
	e.recordCleanup(rep)
	if err != nil {
		return err
	}
	return t.Set(ctx, full, raw)
}

func (e *Engine) recordCleanup(rep capacity.Report) {
	if rep.BytesReclaimed > 0 {
		e.metrics.CleanupReclaimedBytes.Add(float64(rep.BytesReclaimed))
	}
	if rep.Expired > 0 {
		e.metrics.CleanupRemoved.WithLabelValues("expire").Add(float64(rep.Expired))
	}
	if rep.Evicted > 0 {
		e.metrics.CleanupRemoved.WithLabelValues("oldest").Add(float64(rep.Evicted))
	}
}

// LoadResult describes a completed load.
type LoadResult struct {
	Tier      string            `json:"tier"`
	Intact    bool              `json:"intact"`
	WrittenAt time.Time         `json:"writtenAt"`
	Metadata  envelope.Metadata `json:"metadata"`
}

// Load decodes the value under key into dst. A checksum mismatch is logged
// and reported through LoadResult.Intact; the data is still returned.
func (e *Engine) Load(ctx context.Context, key string, dst any) (LoadResult, error) {
	payload, res, err := e.LoadRaw(ctx, key)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		e.metrics.Loads.WithLabelValues("parse_error").Inc()
		return res, domain.ErrParse.WithDetailsf("decode %s", key).WithCause(err)
	}
	return res, nil
}

// LoadRaw returns the JSON payload stored under key.
func (e *Engine) LoadRaw(ctx context.Context, key string) ([]byte, LoadResult, error) {
	env, opened, err := e.read(ctx, key)
	if err != nil {
		return nil, LoadResult{Tier: e.selector.Active().Name()}, err
	}

	res := LoadResult{
		Tier:      e.selector.Active().Name(),
		Intact:    opened.Intact,
		WrittenAt: env.WrittenAt(),
		Metadata:  env.Metadata,
	}
	if !opened.Intact {
		e.metrics.ChecksumMismatches.Inc()
		e.metrics.Loads.WithLabelValues("checksum_mismatch").Inc()
		e.logger.Warn("checksum mismatch, returning data anyway", "key", key, "checksum", env.Metadata.Checksum)
		return opened.Payload, res, nil
	}
	e.metrics.Loads.WithLabelValues("ok").Inc()
	return opened.Payload, res, nil
}

func (e *Engine) read(ctx context.Context, key string) (*envelope.Envelope, envelope.Opened, error) {
	if err := ValidateKey(key); err != nil {
		return nil, envelope.Opened{}, err
	}

	raw, err := e.getRaw(ctx, e.fullKey(key))
	if err != nil {
		return nil, envelope.Opened{}, err
	}

	env, err := envelope.Parse(raw)
	if err != nil {
		e.metrics.Loads.WithLabelValues("parse_error").Inc()
		return nil, envelope.Opened{}, domain.ErrParse.WithDetails(key).WithCause(err)
	}

	opened, err := env.Open(e.compressor)
	if err != nil {
		e.metrics.Loads.WithLabelValues("decompression_error").Inc()
		return env, envelope.Opened{}, domain.ErrDecompression.WithDetails(key).WithCause(err)
	}
	return env, opened, nil
}

// getRaw reads a full key from the active tier, re-running detection once
// when the tier has become unavailable.
func (e *Engine) getRaw(ctx context.Context, full string) ([]byte, error) {
	t := e.selector.Active()
	raw, err := t.Get(ctx, full)
	if errors.Is(err, tier.ErrUnavailable) {
		e.logger.Warn("tier unavailable on read, re-running detection", "tier", t.Name())
		t = e.selector.Detect(ctx)
		raw, err = t.Get(ctx, full)
	}
	switch {
	case err == nil:
		return raw, nil
	case errors.Is(err, tier.ErrKeyNotFound):
		e.metrics.Loads.WithLabelValues("not_found").Inc()
		return nil, domain.ErrNotFound.WithDetails(strings.TrimPrefix(full, e.cfg.Namespace))
	default:
		e.metrics.Loads.WithLabelValues("error").Inc()
		return nil, domain.ErrStorageUnavailable.WithDetails(t.Name()).WithCause(err)
	}
}

// Remove deletes key. Removing an absent key succeeds.
func (e *Engine) Remove(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	t := e.selector.Active()
	if err := t.Remove(ctx, e.fullKey(key)); err != nil {
		return domain.ErrStorageUnavailable.WithDetails(t.Name()).WithCause(err)
	}
	return nil
}

// Clear removes every key matching a glob pattern. An empty pattern
// removes everything in the namespace. It returns the number removed.
func (e *Engine) Clear(ctx context.Context, pattern string) (int, error) {
	var g glob.Glob
	if pattern != "" {
		var err error
		if g, err = glob.Compile(pattern, ':'); err != nil {
			return 0, domain.ErrInvalidKey.WithDetailsf("bad pattern %q", pattern).WithCause(err)
		}
	}

	keys, err := e.Keys(ctx)
	if err != nil {
		return 0, err
	}

	t := e.selector.Active()
	removed := 0
	for _, k := range keys {
		if g != nil && !g.Match(k) {
			continue
		}
		if err := t.Remove(ctx, e.fullKey(k)); err != nil {
			return removed, domain.ErrStorageUnavailable.WithDetails(t.Name()).WithCause(err)
		}
		removed++
	}
	e.logger.Info("cleared keys", "pattern", pattern, "removed", removed)
	return removed, nil
}

// Keys returns all keys in the namespace, without the prefix, in order.
func (e *Engine) Keys(ctx context.Context) ([]string, error) {
	t := e.selector.Active()
	full, err := t.Keys(ctx, e.cfg.Namespace)
	if err != nil {
		return nil, domain.ErrStorageUnavailable.WithDetails(t.Name()).WithCause(err)
	}
	keys := make([]string, len(full))
	for i, k := range full {
		keys[i] = strings.TrimPrefix(k, e.cfg.Namespace)
	}
	return keys, nil
}

// Cleanup runs both capacity passes on the active tier.
func (e *Engine) Cleanup(ctx context.Context) (capacity.Report, error) {
	rep, err := e.capacity.Cleanup(ctx, e.selector.Active(), "")
	e.recordCleanup(rep)
	return rep, err
}

// Expire removes entries past their maximum age from the active tier.
func (e *Engine) Expire(ctx context.Context) (capacity.Report, error) {
	rep, err := e.capacity.Expire(ctx, e.selector.Active())
	e.recordCleanup(rep)
	return rep, err
}

// Compact asks the active tier to reclaim space physically, when it can.
func (e *Engine) Compact(ctx context.Context) (uint64, error) {
	t := e.selector.Active()
	c, ok := t.(tier.Compactor)
	if !ok {
		return 0, nil
	}
	n, err := c.Compact(ctx)
	if err != nil {
		return 0, fmt.Errorf("compact %s: %w", t.Name(), err)
	}
	return n, nil
}
