package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/shirou/gopsutil/v4/disk"
)

// DurableConfig configures the Badger-backed durable tier.
type DurableConfig struct {
	// Dir is the Badger data directory.
	Dir string

	// Quota is the byte ceiling for stored values. Zero disables it.
	Quota int64

	// MinFreeBytes is the free disk space that must remain after a write.
	MinFreeBytes uint64

	// GCInterval is the interval between automatic value-log GC runs.
	// Zero disables the background loop.
	GCInterval time.Duration

	// GCThreshold is the discard ratio passed to RunValueLogGC.
	GCThreshold float64

	// CacheSize is the block cache size in bytes.
	CacheSize int64

	// ValueLogFileSize is the max value log file size in bytes.
	ValueLogFileSize int64

	// SyncWrites fsyncs after each write.
	SyncWrites bool
}

// DefaultDurableConfig returns defaults for dir.
func DefaultDurableConfig(dir string) DurableConfig {
	return DurableConfig{
		Dir:              dir,
		Quota:            64 << 20,
		MinFreeBytes:     16 << 20,
		GCInterval:       10 * time.Minute,
		GCThreshold:      0.5,
		CacheSize:        8 << 20,
		ValueLogFileSize: 64 << 20,
		SyncWrites:       true,
	}
}

// Durable stores values in Badger.
type Durable struct {
	db     *badger.DB
	cfg    DurableConfig
	logger *slog.Logger
	quota

	closed     atomic.Bool
	lastGCTime atomic.Int64

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// OpenDurable opens (or creates) the durable tier.
func OpenDurable(cfg DurableConfig, logger *slog.Logger) (*Durable, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("durable: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tier", "durable")

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("durable: create dir: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.SyncWrites = cfg.SyncWrites
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("durable: open db: %w", err)
	}

	d := &Durable{
		db:     db,
		cfg:    cfg,
		logger: logger,
		quota:  quota{limit: cfg.Quota},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	used, err := d.scanUsage()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("durable: scan usage: %w", err)
	}
	d.used.Store(used)

	go d.gcLoop()

	logger.Info("durable tier opened", "dir", cfg.Dir, "used_bytes", used, "quota_bytes", cfg.Quota)
	return d, nil
}

func (d *Durable) Name() string { return "durable" }
func (d *Durable) Kind() Kind   { return KindDurable }

func (d *Durable) Probe(ctx context.Context) error {
	return probe(ctx, d)
}

// Get retrieves a value by key.
func (d *Durable) Get(_ context.Context, key string) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrUnavailable
	}

	var value []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, classifyBadger(err)
	}
	return value, nil
}

// Set stores a value, enforcing the quota and the free-space reserve.
func (d *Durable) Set(ctx context.Context, key string, value []byte) error {
	if d.closed.Load() {
		return ErrUnavailable
	}
	if err := d.checkFreeSpace(ctx, len(value)); err != nil {
		return err
	}

	oldSize := 0
	err := d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			oldSize = int(item.ValueSize())
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if !d.admit(oldSize, len(value)) {
			return ErrQuotaExceeded
		}
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return classifyBadger(err)
	}

	d.commit(oldSize, len(value))
	return nil
}

// Remove deletes a key. Removing an absent key is not an error.
func (d *Durable) Remove(_ context.Context, key string) error {
	if d.closed.Load() {
		return ErrUnavailable
	}

	oldSize := 0
	err := d.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		oldSize = int(item.ValueSize())
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return classifyBadger(err)
	}

	d.commit(oldSize, 0)
	return nil
}

// Count returns the number of live keys.
func (d *Durable) Count(ctx context.Context) (int, error) {
	keys, err := d.Keys(ctx, "")
	return len(keys), err
}

// KeyAt returns the i-th key in ascending order.
func (d *Durable) KeyAt(ctx context.Context, i int) (string, error) {
	keys, err := d.Keys(ctx, "")
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(keys) {
		return "", ErrKeyNotFound
	}
	return keys[i], nil
}

// Keys returns all keys with the given prefix in ascending order.
func (d *Durable) Keys(_ context.Context, prefix string) ([]string, error) {
	if d.closed.Load() {
		return nil, ErrUnavailable
	}

	var keys []string
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, classifyBadger(err)
	}
	return keys, nil
}

// Compact runs value-log GC until Badger reports nothing left to rewrite.
// The returned figure is the on-disk size difference.
func (d *Durable) Compact(ctx context.Context) (uint64, error) {
	if d.closed.Load() {
		return 0, ErrUnavailable
	}

	startTime := time.Now()
	lsmBefore, vlogBefore := d.db.Size()

	threshold := d.cfg.GCThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}

	for ctx.Err() == nil {
		err := d.db.RunValueLogGC(threshold)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("durable: gc: %w", classifyBadger(err))
		}
	}

	lsmAfter, vlogAfter := d.db.Size()
	var reclaimed uint64
	if before, after := lsmBefore+vlogBefore, lsmAfter+vlogAfter; before > after {
		reclaimed = uint64(before - after)
	}
	d.lastGCTime.Store(time.Now().UnixMilli())

	d.logger.Info("gc completed", "bytes_reclaimed", reclaimed, "elapsed", time.Since(startTime))
	return reclaimed, nil
}

// LastGCTime returns the Unix milliseconds of the last completed GC.
func (d *Durable) LastGCTime() int64 {
	return d.lastGCTime.Load()
}

// Close stops the GC loop and closes the database.
func (d *Durable) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stopCh)
		<-d.doneCh
		if cerr := d.db.Close(); cerr != nil {
			err = fmt.Errorf("durable: close db: %w", cerr)
		}
		d.logger.Info("durable tier closed")
	})
	return err
}

func (d *Durable) scanUsage() (int64, error) {
	var used int64
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			used += int64(it.Item().ValueSize())
		}
		return nil
	})
	return used, err
}

func (d *Durable) checkFreeSpace(ctx context.Context, size int) error {
	if d.cfg.MinFreeBytes == 0 {
		return nil
	}
	usage, err := disk.UsageWithContext(ctx, d.cfg.Dir)
	if err != nil {
		// Unknown free space does not block writes.
		d.logger.Debug("disk usage unavailable", "error", err)
		return nil
	}
	if usage.Free < d.cfg.MinFreeBytes+uint64(size) {
		return fmt.Errorf("%w: %d bytes free on %s", ErrQuotaExceeded, usage.Free, usage.Path)
	}
	return nil
}

// gcLoop runs periodic value-log GC.
func (d *Durable) gcLoop() {
	defer close(d.doneCh)

	if d.cfg.GCInterval <= 0 {
		<-d.stopCh
		return
	}

	ticker := time.NewTicker(d.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := d.Compact(ctx); err != nil {
				d.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-d.stopCh:
			return
		}
	}
}

// classifyBadger maps Badger errors onto the tier error classes.
func classifyBadger(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrUnavailable), errors.Is(err, ErrKeyNotFound):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrKeyNotFound
	case errors.Is(err, badger.ErrTxnTooBig), errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case errors.Is(err, badger.ErrDBClosed), strings.Contains(err.Error(), "closed"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
