package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/envelope"
	"github.com/yndnr/keepstore/internal/storage/tier"
)

// fakeTier is a memory-backed tier that reports itself as durable and can
// be scripted to fail probes and writes.
type fakeTier struct {
	*tier.Memory
	name string

	mu       sync.Mutex
	probeErr error
	setErrs  []error
	sets     int
}

func newFakeTier(name string) *fakeTier {
	return &fakeTier{Memory: tier.NewMemory(), name: name}
}

func (f *fakeTier) Name() string    { return f.name }
func (f *fakeTier) Kind() tier.Kind { return tier.KindDurable }

func (f *fakeTier) Probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probeErr
}

func (f *fakeTier) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	f.sets++
	var err error
	if len(f.setErrs) > 0 {
		err, f.setErrs = f.setErrs[0], f.setErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Memory.Set(ctx, key, value)
}

func (f *fakeTier) script(probeErr error, setErrs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = probeErr
	f.setErrs = setErrs
}

func (f *fakeTier) setCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sets
}

func newTestEngine(t *testing.T, mutate func(*Config), persistent ...tier.Tier) *Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.Logger = logger
	cfg.BaseDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	e := New(cfg, tier.NewSelector(logger, nil, persistent...))
	require.NoError(t, e.Open(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

type sample struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	session, err := tier.OpenSession(tier.SessionConfig{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	e := newTestEngine(t, nil, session)

	values := map[string]any{
		"small":  sample{Name: "a", Count: 1, Tags: []string{"x"}},
		"string": "hello",
		"large":  strings.Repeat("compress me please ", 500),
		"list":   []sample{{Name: "b"}, {Name: "c", Count: 2}},
	}

	for key, v := range values {
		t.Run(key, func(t *testing.T) {
			res, err := e.Save(ctx, key, v)
			require.NoError(t, err)
			assert.Equal(t, "session", res.Tier)
			assert.Equal(t, 1, res.Attempts)
			assert.False(t, res.Degraded)

			want, err := json.Marshal(v)
			require.NoError(t, err)

			got, lres, err := e.LoadRaw(ctx, key)
			require.NoError(t, err)
			assert.True(t, lres.Intact)
			assert.JSONEq(t, string(want), string(got))
		})
	}

	var got string
	_, err = e.Load(ctx, "large", &got)
	require.NoError(t, err)
	assert.Equal(t, values["large"], got)

	info, err := e.Inspect(ctx, "large")
	require.NoError(t, err)
	assert.True(t, info.Compressed)
	assert.Equal(t, EntryOK, info.Status)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"employees", true},
		{"backup:01HX", true},
		{"", false},
		{strings.Repeat("k", MaxKeyLength), true},
		{strings.Repeat("k", MaxKeyLength+1), false},
		{"bad\nkey", false},
		{"bad\x00key", false},
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.valid {
			assert.NoError(t, err, "%q", tt.key)
		} else {
			assert.ErrorIs(t, err, domain.ErrInvalidKey, "%q", tt.key)
		}
	}

	e := newTestEngine(t, nil)
	_, err := e.Save(context.Background(), "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
	_, err = e.Load(context.Background(), "", new(int))
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestLoad_Errors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	active := e.Active()

	_, err := e.Load(ctx, "absent", new(int))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, active.Set(ctx, "ks:truncated", []byte(`{"version":1,"timestamp":17000`)))
	_, err = e.Load(ctx, "truncated", new(int))
	assert.ErrorIs(t, err, domain.ErrParse)

	badBlock := `{"version":1,"timestamp":1,"data":{"type":"lz77","data":"AAAA","originalLength":99},` +
		`"metadata":{"compressed":true,"algorithm":"lz77"}}`
	require.NoError(t, active.Set(ctx, "ks:badblock", []byte(badBlock)))
	_, err = e.Load(ctx, "badblock", new(int))
	assert.ErrorIs(t, err, domain.ErrDecompression)

	_, err = e.Save(ctx, "typed", "text")
	require.NoError(t, err)
	_, err = e.Load(ctx, "typed", new(int))
	assert.ErrorIs(t, err, domain.ErrParse)
}

func TestLoad_ChecksumMismatchReturnsData(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	_, err := e.Save(ctx, "doc", []int{1, 2, 3})
	require.NoError(t, err)

	raw, err := e.Active().Get(ctx, "ks:doc")
	require.NoError(t, err)
	env, err := envelope.Parse(raw)
	require.NoError(t, err)
	env.Data = json.RawMessage(`[1,2,4]`)
	raw, err = env.Marshal()
	require.NoError(t, err)
	require.NoError(t, e.Active().Set(ctx, "ks:doc", raw))

	var got []int
	res, err := e.Load(ctx, "doc", &got)
	require.NoError(t, err)
	assert.False(t, res.Intact)
	assert.Equal(t, []int{1, 2, 4}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().ChecksumMismatches))

	info, err := e.Inspect(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, EntryCorrupted, info.Status)
}

func TestSaveWithRetry_TransientFailures(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTier("flaky")
	e := newTestEngine(t, nil, ft)

	ft.script(nil, errors.New("io error"), errors.New("io error"))
	res, err := e.SaveWithRetry(ctx, "k", "v", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "flaky", res.Tier)
	assert.Equal(t, 2.0, testutil.ToFloat64(e.Metrics().Retries))
}

func TestSaveWithRetry_Exhausted(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTier("broken")
	e := newTestEngine(t, nil, ft)

	boom := errors.New("io error")
	ft.script(nil, boom, boom, boom, boom, boom)
	res, err := e.SaveWithRetry(ctx, "k", "v", 3)
	require.ErrorIs(t, err, domain.ErrSaveFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, ft.setCalls())
}

func TestSaveWithRetry_UnavailableDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTier("durable")
	e := newTestEngine(t, nil, ft)
	require.Equal(t, "durable", e.Active().Name())

	ft.script(tier.ErrUnavailable, tier.ErrUnavailable)
	res, err := e.Save(ctx, "k", sample{Name: "still here"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, "memory", res.Tier)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, e.Degraded())

	var got sample
	_, err = e.Load(ctx, "k", &got)
	require.NoError(t, err)
	assert.Equal(t, "still here", got.Name)
}

func TestDegradation_AllPersistentTiersFail(t *testing.T) {
	ctx := context.Background()
	a, b := newFakeTier("a"), newFakeTier("b")
	a.script(errors.New("disk gone"))
	b.script(tier.ErrQuotaExceeded)

	e := newTestEngine(t, nil, a, b)
	assert.Equal(t, tier.KindMemory, e.Active().Kind())
	assert.True(t, e.Degraded())
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().Degradations))

	for i := range 5 {
		v := sample{Name: "n", Count: i}
		_, err := e.Save(ctx, "k", v)
		require.NoError(t, err)
		var got sample
		_, err = e.Load(ctx, "k", &got)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestSaveWithRetry_QuotaCleanupThenRetryOnce(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTier("durable")
	e := newTestEngine(t, nil, ft)

	for _, k := range []string{"old1", "old2", "old3", "old4", "old5"} {
		_, err := e.Save(ctx, k, k)
		require.NoError(t, err)
	}

	ft.script(nil, tier.ErrQuotaExceeded)
	res, err := e.Save(ctx, "new", "value")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)

	keys, err := e.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 5, "one old entry evicted, new one written")
	assert.Contains(t, keys, "new")
}

func TestSaveWithRetry_QuotaStillExceeded(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTier("durable")
	e := newTestEngine(t, nil, ft)

	ft.script(nil, tier.ErrQuotaExceeded, tier.ErrQuotaExceeded, nil)
	res, err := e.SaveWithRetry(ctx, "k", "v", 5)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 2, ft.setCalls())
}

func TestSave_StorageFull(t *testing.T) {
	ctx := context.Background()
	ft := newFakeTier("durable")
	e := newTestEngine(t, func(c *Config) { c.Capacity.Ceiling = 512 }, ft)

	_, err := e.Save(ctx, "small", "x")
	require.NoError(t, err)

	buf := make([]byte, 4096)
	_, err = rand.Read(buf)
	require.NoError(t, err)

	res, err := e.SaveWithRetry(ctx, "huge", hex.EncodeToString(buf), 3)
	require.ErrorIs(t, err, domain.ErrStorageFull)
	assert.Equal(t, 1, res.Attempts)

	keys, err := e.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "cleanup ran before giving up")
}

func TestPinnedKeysSurviveCleanup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, newFakeTier("durable"))
	e.Pin("employees")

	_, err := e.Save(ctx, "employees", []string{"a"})
	require.NoError(t, err)
	_, err = e.Save(ctx, "scratch", "x")
	require.NoError(t, err)

	rep, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Evicted)

	keys, err := e.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"employees"}, keys)
}

func TestProtectedPrefixSurvivesCleanup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, newFakeTier("durable"))
	e.Protect("backup:")

	for _, k := range []string{"backup:01", "backup:02", "scratch"} {
		_, err := e.Save(ctx, k, k)
		require.NoError(t, err)
	}

	rep, err := e.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Evicted)

	keys, err := e.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup:01", "backup:02"}, keys)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	for _, k := range []string{"backup:1", "backup:2", "backup:index", "employees"} {
		_, err := e.Save(ctx, k, k)
		require.NoError(t, err)
	}

	n, err := e.Clear(ctx, "backup:[0-9]*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := e.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup:index", "employees"}, keys)

	_, err = e.Clear(ctx, "[")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)

	n, err = e.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	_, err := e.Save(ctx, "k", 1)
	require.NoError(t, err)

	require.NoError(t, e.Remove(ctx, "k"))
	require.NoError(t, e.Remove(ctx, "k"))
	_, err = e.Load(ctx, "k", new(int))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRewriteKeepsWriteTime(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)

	written := time.UnixMilli(1_700_000_000_000)
	e.now = func() time.Time { return written }
	_, err := e.Save(ctx, "k", strings.Repeat("abc", 1000))
	require.NoError(t, err)

	e.now = func() time.Time { return written.Add(time.Hour) }
	_, err = e.Rewrite(ctx, "k")
	require.NoError(t, err)

	info, err := e.Inspect(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, written, info.WrittenAt)
}

func TestInfoAndEntries(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil, newFakeTier("durable"))

	_, err := e.Save(ctx, "a", "one")
	require.NoError(t, err)
	_, err = e.Save(ctx, "b", strings.Repeat("two", 1000))
	require.NoError(t, err)
	require.NoError(t, e.Active().Set(ctx, "ks:junk", []byte("not json")))

	info, err := e.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "durable", info.ActiveTier)
	assert.Equal(t, 3, info.Keys)
	assert.Positive(t, info.UsedBytes)
	assert.EqualValues(t, DefaultConfig().Capacity.Ceiling, info.CeilingBytes)
	require.Len(t, info.Tiers, 2)
	assert.True(t, info.Tiers[0].Active)
	assert.Equal(t, tier.KindMemory, info.Tiers[1].Kind)

	entries, err := e.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, EntryOK, entries[0].Status)
	assert.True(t, entries[1].Compressed)
	assert.Equal(t, EntryUnreadable, entries[2].Status)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Keys)
}

func TestCompact(t *testing.T) {
	session, err := tier.OpenSession(tier.SessionConfig{BaseDir: t.TempDir()}, nil)
	require.NoError(t, err)
	e := newTestEngine(t, nil, session)

	_, err = e.Compact(context.Background())
	require.NoError(t, err)

	mem := newTestEngine(t, nil)
	n, err := mem.Compact(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
