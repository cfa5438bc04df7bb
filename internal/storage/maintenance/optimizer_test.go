package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/envelope"
	"github.com/yndnr/keepstore/internal/storage/tier"
)

type fixture struct {
	engine *storage.Engine
	mem    *tier.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := tier.NewMemory()
	cfg := storage.DefaultConfig()
	cfg.Logger = logger
	cfg.BaseDelay = 0
	e := storage.New(cfg, tier.NewSelector(logger, mem))
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return &fixture{engine: e, mem: mem}
}

// plant stores payload under key uncompressed with the given write time.
func (f *fixture) plant(t *testing.T, key, payload string, writtenAt time.Time) {
	t.Helper()
	env, err := envelope.Seal([]byte(payload), writtenAt, nil)
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, f.mem.Set(context.Background(), storage.DefaultNamespace+key, raw))
}

func (f *fixture) keys(t *testing.T) []string {
	t.Helper()
	keys, err := f.engine.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func newOptimizer(f *fixture, opts ...Option) *Optimizer {
	base := []Option{
		WithLogger(f.engine.Logger()),
		WithMetrics(f.engine.Metrics()),
		WithRewriteRate(0),
		WithPinned("employees"),
		WithProtectedPrefixes("backup:"),
	}
	return New(f.engine, append(base, opts...)...)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.plant(t, "fresh", `{"a":1}`, now)
	f.plant(t, "old", `{"a":2}`, now.Add(-60*24*time.Hour))
	f.plant(t, "big", `"`+strings.Repeat("abcdefgh", 2048)+`"`, now)
	f.plant(t, "copy", `{"a":1}`, now.Add(-time.Minute))
	require.NoError(t, f.mem.Set(ctx, storage.DefaultNamespace+"broken", []byte("{")))

	a, err := newOptimizer(f).Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, a.Total)
	assert.Equal(t, 1, a.Unreadable)
	assert.Equal(t, 1, a.Expired)
	assert.Equal(t, 1, a.Duplicates)
	assert.Equal(t, 1, a.Recompress)
	assert.Equal(t, 4, a.Uncompressed)
	assert.Equal(t, 1, a.Buckets[BucketMedium])
}

func TestRun_AllPhases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	f.plant(t, "fresh", `{"a":1}`, now)
	f.plant(t, "copy", `{"a":1}`, now.Add(-time.Minute))
	f.plant(t, "old", `{"a":2}`, now.Add(-60*24*time.Hour))
	f.plant(t, "big", `"`+strings.Repeat("abcdefgh", 2048)+`"`, now)
	f.plant(t, "employees", `[]`, now.Add(-90*24*time.Hour))
	f.plant(t, "backup:01", `{"a":1}`, now.Add(-90*24*time.Hour))
	require.NoError(t, f.mem.Set(ctx, storage.DefaultNamespace+"broken", []byte("{")))

	var (
		mu     sync.Mutex
		phases []Phase
	)
	rebuilt := false
	o := newOptimizer(f,
		WithRebuild(func(context.Context) error { rebuilt = true; return nil }),
		WithProgress(func(p Progress) {
			mu.Lock()
			defer mu.Unlock()
			if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
				phases = append(phases, p.Phase)
			}
		}),
	)

	rep, err := o.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Resumed)
	require.Len(t, rep.Phases, len(Phases))
	assert.Equal(t, Phases, phases)
	assert.True(t, rebuilt)

	cleanup := rep.Phases[1]
	assert.Equal(t, PhaseCleanup, cleanup.Phase)
	assert.Equal(t, 3, cleanup.Removed, "old, copy and broken")

	recompress := rep.Phases[2]
	assert.Equal(t, 1, recompress.Rewritten)
	assert.Positive(t, recompress.BytesReclaimed)

	keys := f.keys(t)
	assert.ElementsMatch(t, []string{"fresh", "big", "employees", "backup:01", DefaultStateKey}, keys)

	info, err := f.engine.Inspect(ctx, "big")
	require.NoError(t, err)
	assert.True(t, info.Compressed)

	st, err := o.LoadState(ctx)
	require.NoError(t, err)
	assert.True(t, st.Finished)
	assert.Equal(t, Phases, st.Completed)
}

func TestRun_ResumesAfterFailedPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.plant(t, "fresh", `{"a":1}`, time.Now())

	calls := 0
	o := newOptimizer(f, WithRebuild(func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("index busy")
		}
		return nil
	}))

	rep, err := o.Run(ctx)
	require.Error(t, err)
	assert.Len(t, rep.Phases, 4)

	st, err := o.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, st.Finished)
	assert.Equal(t, Phases[:4], st.Completed)

	rep2, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, rep2.Resumed)
	assert.Equal(t, rep.RunID, rep2.RunID)
	require.Len(t, rep2.Phases, 5)
	assert.Equal(t, 2, calls)

	// a finished run starts a fresh one
	rep3, err := o.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep3.Resumed)
	assert.NotEqual(t, rep.RunID, rep3.RunID)
}

func TestRun_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.plant(t, "a", `{"a":1}`, time.Now())
	f.plant(t, "b", `{"b":2}`, time.Now())

	o := newOptimizer(f)
	_, err := o.Run(ctx)
	require.NoError(t, err)
	first := f.keys(t)

	rep, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, f.keys(t))
	assert.Zero(t, rep.Phases[1].Removed)

	for _, k := range []string{"a", "b"} {
		var v map[string]int
		_, err := f.engine.Load(ctx, k, &v)
		require.NoError(t, err)
	}
}

func TestRunPhase(t *testing.T) {
	f := newFixture(t)
	o := newOptimizer(f)

	_, err := o.RunPhase(context.Background(), "vacuum")
	require.Error(t, err)

	pr, err := o.RunPhase(context.Background(), PhaseDefragment)
	require.NoError(t, err)
	assert.Equal(t, PhaseDefragment, pr.Phase)
}

func TestRewriteRateLimit(t *testing.T) {
	f := newFixture(t)
	for i := range 4 {
		f.plant(t, string(rune('a'+i)), `{"x":1}`, time.Now())
	}

	o := newOptimizer(f, WithChunkSize(2), WithRewriteRate(1000))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pr, err := o.RunPhase(ctx, PhaseDefragment)
	require.NoError(t, err)
	assert.Equal(t, 4, pr.Rewritten)
}
