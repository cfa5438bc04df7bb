package tier

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// SessionConfig configures the SQLite-backed session tier.
type SessionConfig struct {
	// BaseDir is where the private temporary directory is created.
	// Empty uses os.TempDir().
	BaseDir string

	// Quota is the byte ceiling for stored values. Zero disables it.
	Quota int64
}

// Session stores values in a SQLite database that lives only as long as
// the process: the database directory is removed on Close.
type Session struct {
	db     *sqlx.DB
	dir    string
	logger *slog.Logger
	quota

	closed    atomic.Bool
	closeOnce sync.Once
}

const sessionSchema = `CREATE TABLE IF NOT EXISTS entries (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	size  INTEGER NOT NULL
)`

// OpenSession creates a fresh session tier.
func OpenSession(cfg SessionConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("tier", "session")

	dir, err := os.MkdirTemp(cfg.BaseDir, "keepstore-session-*")
	if err != nil {
		return nil, fmt.Errorf("session: create temp dir: %w", err)
	}

	db, err := sqlx.Open("sqlite", filepath.Join(dir, "session.db"))
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("session: open db: %w", err)
	}
	// a single connection keeps writes serialized inside SQLite
	db.SetMaxOpenConns(1)

	for _, q := range []string{"PRAGMA journal_mode=WAL", sessionSchema} {
		if _, err := db.Exec(q); err != nil {
			_ = db.Close()
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("session: init schema: %w", err)
		}
	}

	logger.Info("session tier opened", "dir", dir, "quota_bytes", cfg.Quota)
	return &Session{
		db:     db,
		dir:    dir,
		logger: logger,
		quota:  quota{limit: cfg.Quota},
	}, nil
}

func (s *Session) Name() string { return "session" }
func (s *Session) Kind() Kind   { return KindSession }

// Dir returns the private directory holding the database.
func (s *Session) Dir() string { return s.dir }

func (s *Session) Probe(ctx context.Context) error {
	return probe(ctx, s)
}

func (s *Session) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrUnavailable
	}

	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, classifySQLite(err)
	}
	return value, nil
}

func (s *Session) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return ErrUnavailable
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifySQLite(err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldSize int
	err = tx.GetContext(ctx, &oldSize, `SELECT size FROM entries WHERE key = ?`, key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return classifySQLite(err)
	}
	if !s.admit(oldSize, len(value)) {
		return ErrQuotaExceeded
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (key, value, size) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size`,
		key, value, len(value)); err != nil {
		return classifySQLite(err)
	}
	if err := tx.Commit(); err != nil {
		return classifySQLite(err)
	}

	s.commit(oldSize, len(value))
	return nil
}

func (s *Session) Remove(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrUnavailable
	}

	var oldSize int
	err := s.db.GetContext(ctx, &oldSize, `DELETE FROM entries WHERE key = ? RETURNING size`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return classifySQLite(err)
	}
	s.commit(oldSize, 0)
	return nil
}

func (s *Session) Count(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrUnavailable
	}
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM entries`); err != nil {
		return 0, classifySQLite(err)
	}
	return n, nil
}

func (s *Session) KeyAt(ctx context.Context, i int) (string, error) {
	if s.closed.Load() {
		return "", ErrUnavailable
	}
	if i < 0 {
		return "", ErrKeyNotFound
	}
	var key string
	err := s.db.GetContext(ctx, &key, `SELECT key FROM entries ORDER BY key LIMIT 1 OFFSET ?`, i)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", classifySQLite(err)
	}
	return key, nil
}

func (s *Session) Keys(ctx context.Context, prefix string) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrUnavailable
	}
	keys := []string{}
	err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM entries WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, classifySQLite(err)
	}
	return keys, nil
}

// Compact runs VACUUM and reports the database file shrinkage.
func (s *Session) Compact(ctx context.Context) (uint64, error) {
	if s.closed.Load() {
		return 0, ErrUnavailable
	}
	before := s.fileSize()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return 0, classifySQLite(err)
	}
	after := s.fileSize()
	if before > after {
		return uint64(before - after), nil
	}
	return 0, nil
}

func (s *Session) fileSize() int64 {
	var total int64
	for _, name := range []string{"session.db", "session.db-wal"} {
		if fi, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// Close closes the database and removes its directory.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = errors.Join(s.db.Close(), os.RemoveAll(s.dir))
		s.logger.Info("session tier closed")
	})
	return err
}

func classifySQLite(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database or disk is full"), strings.Contains(msg, "sqlite_full"):
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	case strings.Contains(msg, "database is closed"), strings.Contains(msg, "readonly"),
		strings.Contains(msg, "unable to open"):
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}
