package audit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

func newEngine(t *testing.T) *storage.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := storage.DefaultConfig()
	cfg.Logger = logger
	e := storage.New(cfg, tier.NewSelector(logger, tier.NewMemory()))
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newLog(t *testing.T, e *storage.Engine, cfg Config) (*Log, *clock) {
	t.Helper()
	l := New(e, cfg, e.Logger(), e.Metrics())
	c := &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	l.now = c.now
	return l, c
}

func TestAppend_RingDropsOldest(t *testing.T) {
	e := newEngine(t)
	l, c := newLog(t, e, Config{Capacity: 3})

	for _, a := range []string{"a", "b", "c", "d", "e"} {
		c.t = c.t.Add(time.Second)
		l.Append(a, nil)
	}

	got := l.Query(Query{})
	require.Len(t, got, 3)
	assert.Equal(t, "e", got[0].Action)
	assert.Equal(t, "c", got[2].Action)
}

func TestQuery(t *testing.T) {
	e := newEngine(t)
	l, c := newLog(t, e, DefaultConfig())
	start := c.t

	for i, a := range []string{"add", "update", "add", "delete", "add"} {
		c.t = start.Add(time.Duration(i) * time.Minute)
		l.Append(a, map[string]any{"i": i})
	}

	tests := []struct {
		name    string
		q       Query
		actions []string
	}{
		{"all newest first", Query{}, []string{"add", "delete", "add", "update", "add"}},
		{"by action", Query{Action: "add"}, []string{"add", "add", "add"}},
		{"limit", Query{Limit: 2}, []string{"add", "delete"}},
		{"window", Query{Start: start.Add(time.Minute), End: start.Add(3 * time.Minute)}, []string{"delete", "add", "update"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var actions []string
			for _, e := range l.Query(tt.q) {
				actions = append(actions, e.Action)
			}
			assert.Equal(t, tt.actions, actions)
		})
	}
}

func TestEntriesCarrySessionID(t *testing.T) {
	e := newEngine(t)
	l, _ := newLog(t, e, DefaultConfig())

	entry := l.Append("add", nil)
	assert.Equal(t, l.SessionID(), entry.SessionID)
	assert.Len(t, entry.ID, 26)
}

func TestPrune(t *testing.T) {
	e := newEngine(t)
	l, c := newLog(t, e, Config{Retention: 24 * time.Hour})
	ctx := context.Background()

	l.Append("old", nil)
	c.t = c.t.Add(48 * time.Hour)
	l.Append("new", nil)

	n, err := l.Prune(ctx, c.t)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := l.Query(Query{})
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Action)
}

func TestBackgroundWriterPersists(t *testing.T) {
	e := newEngine(t)
	l, _ := newLog(t, e, DefaultConfig())
	ctx := context.Background()

	l.Start()
	l.Append("add", map[string]any{"id": 1})
	l.Append("update", nil)

	require.Eventually(t, func() bool {
		var stored []Entry
		_, err := e.Load(ctx, DefaultKey, &stored)
		return err == nil && len(stored) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, l.Close(ctx))
}

func TestCloseFlushesPending(t *testing.T) {
	e := newEngine(t)
	l, _ := newLog(t, e, Config{QueueSize: 1})
	ctx := context.Background()

	// writer never started: the queue fills and entries stay cached
	for range 5 {
		l.Append("add", nil)
	}
	assert.Equal(t, float64(4), testutil.ToFloat64(e.Metrics().AuditDropped))

	require.NoError(t, l.Close(ctx))

	reloaded, _ := newLog(t, e, DefaultConfig())
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, 5, reloaded.Len())
}

func TestLoad_MissingStartsEmpty(t *testing.T) {
	e := newEngine(t)
	l := New(e, DefaultConfig(), nil, metric.NewRegistry())
	require.NoError(t, l.Load(context.Background()))
	assert.Zero(t, l.Len())
}
