package cmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount},
		{1, 1},
		{8, 8},
		{32, 32},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, NewWithShards[int](tt.input).ShardCount())
		})
	}
}

func TestSetGetPop(t *testing.T) {
	m := New[int]()

	_, replaced := m.Set("a", 1)
	assert.False(t, replaced)
	prev, replaced := m.Set("a", 2)
	assert.True(t, replaced)
	assert.Equal(t, 1, prev)

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.True(t, m.Has("a"))

	v, ok = m.Pop("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)
	assert.False(t, m.Has("a"))

	_, ok = m.Pop("a")
	assert.False(t, ok)
	m.Delete("missing")
}

func TestCountKeysClear(t *testing.T) {
	m := NewWithShards[string](4)
	for _, k := range []string{"c", "a", "b"} {
		m.Set(k, k)
	}

	assert.Equal(t, 3, m.Count())
	assert.Equal(t, []string{"a", "b", "c"}, m.Keys())

	m.Clear()
	assert.Zero(t, m.Count())
	assert.Empty(t, m.Keys())
}

func TestRangeEarlyStop(t *testing.T) {
	m := New[int]()
	for i := range 100 {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	count := 0
	m.Range(func(string, int) bool {
		count++
		return count < 10
	})
	assert.Equal(t, 10, count)
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("g%d-%d", g, i)
				m.Set(key, i)
				_, _ = m.Get(key)
				if i%2 == 0 {
					m.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 8*100, m.Count())
}
