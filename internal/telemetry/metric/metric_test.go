package metric

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry_Independent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.Retries.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Retries))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Retries))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.Saves.WithLabelValues("durable", "ok").Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `keepstore_engine_saves_total{result="ok",tier="durable"} 3`)
	assert.Contains(t, string(body), "go_goroutines")
}

type fakeSource struct {
	stats StorageStats
	err   error
}

func (f fakeSource) Stats(context.Context) (StorageStats, error) { return f.stats, f.err }

func TestCollector(t *testing.T) {
	c := NewCollector(fakeSource{stats: StorageStats{
		ActiveTier: "durable", Keys: 4, UsedBytes: 2048, CeilingBytes: 4096,
	}})

	expected := `
# HELP keepstore_storage_degraded 1 when running on the memory fallback tier
# TYPE keepstore_storage_degraded gauge
keepstore_storage_degraded 0
# HELP keepstore_storage_used_bytes Bytes used by namespaced entries in the active tier
# TYPE keepstore_storage_used_bytes gauge
keepstore_storage_used_bytes{tier="durable"} 2048
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"keepstore_storage_degraded", "keepstore_storage_used_bytes"))
	assert.Equal(t, 4, testutil.CollectAndCount(c))
}

func TestCollector_SourceError(t *testing.T) {
	c := NewCollector(fakeSource{err: errors.New("tier closed")})
	r := NewRegistry()
	r.MustRegister(c)

	_, err := r.Gatherer().Gather()
	assert.Error(t, err)
}
