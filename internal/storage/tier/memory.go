package tier

import (
	"context"
	"slices"
	"strings"

	"github.com/yndnr/keepstore/pkg/cmap"
)

// Memory is the in-process fallback tier. It has no quota and never
// becomes unavailable; its contents last until the process exits.
type Memory struct {
	items *cmap.Map[[]byte]
}

// NewMemory creates an empty memory tier.
func NewMemory() *Memory {
	return &Memory{items: cmap.New[[]byte]()}
}

func (m *Memory) Name() string { return "memory" }
func (m *Memory) Kind() Kind   { return KindMemory }

func (m *Memory) Probe(ctx context.Context) error {
	return probe(ctx, m)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return slices.Clone(v), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.items.Set(key, slices.Clone(value))
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.items.Delete(key)
	return nil
}

func (m *Memory) Count(context.Context) (int, error) {
	return m.items.Count(), nil
}

func (m *Memory) KeyAt(_ context.Context, i int) (string, error) {
	keys := m.items.Keys()
	if i < 0 || i >= len(keys) {
		return "", ErrKeyNotFound
	}
	return keys[i], nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	keys := m.items.Keys()
	if prefix == "" {
		return keys, nil
	}
	return slices.DeleteFunc(keys, func(k string) bool {
		return !strings.HasPrefix(k, prefix)
	}), nil
}

// Close drops all contents.
func (m *Memory) Close() error {
	m.items.Clear()
	return nil
}
