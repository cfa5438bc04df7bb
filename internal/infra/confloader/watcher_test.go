package confloader

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReportsWrites(t *testing.T) {
	path := writeFile(t, "log:\n  level: info\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	var calls atomic.Int32
	var got atomic.Value
	w.OnChange(func(p string) {
		got.Store(p)
		calls.Add(1)
	})
	w.Start()
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	want, _ := filepath.Abs(path)
	assert.Equal(t, want, got.Load())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeFile(t, "log:\n  level: info\n")

	w, err := NewWatcher(path, WithDebounce(0))
	require.NoError(t, err)

	var calls atomic.Int32
	w.OnChange(func(string) { calls.Add(1) })
	w.Start()
	t.Cleanup(func() { _ = w.Stop() })

	other := filepath.Join(filepath.Dir(path), "other.yaml")
	require.NoError(t, os.WriteFile(other, []byte("x: 1\n"), 0o600))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := writeFile(t, "")
	w, err := NewWatcher(path)
	require.NoError(t, err)
	w.Start()

	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestNewWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope", "keepstore.yaml"))
	assert.Error(t, err)
}
