package capacity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/envelope"
	"github.com/yndnr/keepstore/internal/storage/tier"
)

const ns = "ks:"

// diskTier is a memory tier that reports itself as durable so the
// ceiling applies.
type diskTier struct{ *tier.Memory }

func (diskTier) Name() string    { return "disk" }
func (diskTier) Kind() tier.Kind { return tier.KindDurable }

var baseTime = time.UnixMilli(1_700_000_000_000)

func put(t *testing.T, tr tier.Tier, key string, size int, at time.Time) int {
	t.Helper()
	payload := fmt.Sprintf("%q", strings.Repeat("x", size))
	env, err := envelope.Seal([]byte(payload), at, nil)
	require.NoError(t, err)
	raw, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, tr.Set(context.Background(), ns+key, raw))
	return len(raw)
}

func newManager(cfg Config) *Manager {
	m := New(cfg, ns, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return baseTime }
	return m
}

func TestUsage(t *testing.T) {
	tr := diskTier{tier.NewMemory()}
	a := put(t, tr, "a", 100, baseTime)
	b := put(t, tr, "b", 200, baseTime)
	require.NoError(t, tr.Set(context.Background(), "foreign", []byte("ignored")))

	m := newManager(DefaultConfig())
	usage, err := m.Usage(context.Background(), tr)
	require.NoError(t, err)
	assert.EqualValues(t, a+b, usage)
}

func TestEnsure_FitsWithoutCleanup(t *testing.T) {
	tr := diskTier{tier.NewMemory()}
	put(t, tr, "a", 100, baseTime.Add(-365*24*time.Hour))

	m := newManager(Config{Ceiling: 10_000, MaxAge: time.Hour})
	rep, err := m.Ensure(context.Background(), tr, ns+"b", 500)
	require.NoError(t, err)
	assert.Zero(t, rep.Expired+rep.Evicted)

	n, _ := tr.Count(context.Background())
	assert.Equal(t, 1, n, "stale entry is only expired under pressure")
}

func TestEnsure_ExpiresOldEntries(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	put(t, tr, "old1", 1000, baseTime.Add(-48*time.Hour))
	put(t, tr, "old2", 1000, baseTime.Add(-47*time.Hour))
	put(t, tr, "fresh", 1000, baseTime.Add(-time.Minute))
	require.NoError(t, tr.Set(ctx, ns+"junk", []byte("{not an envelope")))

	m := newManager(Config{Ceiling: 3000, MaxAge: 24 * time.Hour})
	rep, err := m.Ensure(ctx, tr, ns+"new", 1200)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Expired)
	assert.Zero(t, rep.Evicted, "expire pass freed well over 10% of the ceiling")

	keys, _ := tr.Keys(ctx, ns)
	assert.Equal(t, []string{ns + "fresh"}, keys)
}

func TestEnsure_EvictsOldestWhenExpireIsNotEnough(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	for i := range 10 {
		put(t, tr, fmt.Sprintf("k%02d", i), 200, baseTime.Add(time.Duration(i)*time.Minute))
	}

	m := newManager(Config{Ceiling: 5000, MaxAge: 24 * time.Hour})
	usage, err := m.Usage(ctx, tr)
	require.NoError(t, err)
	require.Less(t, usage, int64(5000))

	rep, err := m.Ensure(ctx, tr, ns+"new", 5000-int(usage)+100)
	require.NoError(t, err)
	assert.Zero(t, rep.Expired)
	assert.Equal(t, 2, rep.Evicted)

	keys, _ := tr.Keys(ctx, ns)
	assert.NotContains(t, keys, ns+"k00")
	assert.NotContains(t, keys, ns+"k01")
	assert.Contains(t, keys, ns+"k02")
}

func TestEnsure_EvictsWhenExpiredSpaceStillDoesNotFit(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	stale := put(t, tr, "stale", 1200, baseTime.Add(-48*time.Hour))
	var fresh, first int
	for i := range 10 {
		n := put(t, tr, fmt.Sprintf("k%02d", i), 200, baseTime.Add(time.Duration(i)*time.Minute))
		if i == 0 {
			first = n
		}
		fresh += n
	}

	ceiling := fresh + stale/2
	require.GreaterOrEqual(t, float64(stale), 0.1*float64(ceiling))
	m := newManager(Config{Ceiling: int64(ceiling), MaxAge: 24 * time.Hour})

	rep, err := m.Ensure(ctx, tr, ns+"new", ceiling-fresh+first)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 2, rep.Evicted)

	keys, _ := tr.Keys(ctx, ns)
	assert.NotContains(t, keys, ns+"stale")
	assert.NotContains(t, keys, ns+"k00")
	assert.NotContains(t, keys, ns+"k01")
	assert.Contains(t, keys, ns+"k02")
}

func TestEnsure_StorageFullAfterCleanup(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	put(t, tr, "a", 100, baseTime)

	m := newManager(Config{Ceiling: 1000, MaxAge: time.Hour})
	rep, err := m.Ensure(ctx, tr, ns+"huge", 5000)
	require.ErrorIs(t, err, domain.ErrStorageFull)
	assert.Equal(t, 1, rep.Evicted, "cleanup runs before giving up")
}

func TestEnsure_NeverEvictsProtectedKeys(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	put(t, tr, "employees", 800, baseTime.Add(-90*24*time.Hour))
	put(t, tr, "target", 100, baseTime.Add(-90*24*time.Hour))

	m := newManager(Config{Ceiling: 1000, MaxAge: time.Hour, Pinned: []string{ns + "employees"}})
	_, err := m.Ensure(ctx, tr, ns+"target", 900)
	require.ErrorIs(t, err, domain.ErrStorageFull)

	keys, _ := tr.Keys(ctx, ns)
	assert.ElementsMatch(t, []string{ns + "employees", ns + "target"}, keys)
}

func TestEnsure_SkipsProtectedPrefixes(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	a := put(t, tr, "backup:a", 1000, baseTime.Add(-90*24*time.Hour))
	b := put(t, tr, "backup:b", 1000, baseTime.Add(-2*time.Hour))
	scratch := put(t, tr, "scratch", 500, baseTime.Add(-time.Minute))

	const candidate = 1500
	m := newManager(Config{Ceiling: int64(a + b + candidate + scratch/2), MaxAge: 24 * time.Hour})
	m.Protect(ns + "backup:")

	rep, err := m.Ensure(ctx, tr, ns+"employees", candidate)
	require.NoError(t, err)
	assert.Zero(t, rep.Expired, "stale snapshot is not expired")
	assert.Equal(t, 1, rep.Evicted)

	keys, _ := tr.Keys(ctx, ns)
	assert.ElementsMatch(t, []string{ns + "backup:a", ns + "backup:b"}, keys)
}

func TestEnsure_ReplacementCountsOnlyDifference(t *testing.T) {
	tr := diskTier{tier.NewMemory()}
	size := put(t, tr, "doc", 500, baseTime)

	m := newManager(Config{Ceiling: int64(size) + 10, MaxAge: time.Hour})
	rep, err := m.Ensure(context.Background(), tr, ns+"doc", size+5)
	require.NoError(t, err)
	assert.Zero(t, rep.Evicted)
}

func TestMemoryTierIsExempt(t *testing.T) {
	mem := tier.NewMemory()
	m := newManager(Config{Ceiling: 1})
	assert.Zero(t, m.Ceiling(mem))

	rep, err := m.Ensure(context.Background(), mem, ns+"k", 1<<20)
	require.NoError(t, err)
	assert.Zero(t, rep.Evicted)
}

func TestCleanup_Unconditional(t *testing.T) {
	ctx := context.Background()
	tr := diskTier{tier.NewMemory()}
	for i := range 5 {
		put(t, tr, fmt.Sprintf("k%d", i), 10, baseTime.Add(time.Duration(i)*time.Second))
	}
	put(t, tr, "stale", 10, baseTime.Add(-48*time.Hour))

	m := newManager(Config{Ceiling: 1 << 20, MaxAge: 24 * time.Hour})
	rep, err := m.Cleanup(ctx, tr, ns+"k0")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Evicted)

	keys, _ := tr.Keys(ctx, ns)
	assert.Contains(t, keys, ns+"k0")
	assert.NotContains(t, keys, ns+"k1")
}
