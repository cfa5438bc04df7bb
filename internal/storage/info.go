package storage

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/envelope"
	"github.com/yndnr/keepstore/internal/storage/tier"
	"github.com/yndnr/keepstore/internal/telemetry/metric"
)

// TierStatus describes one configured tier.
type TierStatus struct {
	Name      string    `json:"name" yaml:"name"`
	Kind      tier.Kind `json:"kind" yaml:"kind"`
	Active    bool      `json:"active" yaml:"active"`
	Available bool      `json:"available" yaml:"available"`
	Keys      int       `json:"keys" yaml:"keys"`
}

// Info summarizes the engine state.
type Info struct {
	Namespace    string       `json:"namespace" yaml:"namespace"`
	ActiveTier   string       `json:"activeTier" yaml:"activeTier"`
	Kind         tier.Kind    `json:"kind" yaml:"kind"`
	Degraded     bool         `json:"degraded" yaml:"degraded"`
	Keys         int          `json:"keys" yaml:"keys"`
	UsedBytes    int64        `json:"usedBytes" yaml:"usedBytes" table:"bytes"`
	CeilingBytes int64        `json:"ceilingBytes" yaml:"ceilingBytes" table:"bytes"`
	UsageRatio   float64      `json:"usageRatio" yaml:"usageRatio"`
	Tiers        []TierStatus `json:"tiers" yaml:"tiers"`
}

// Info returns the current storage information.
func (e *Engine) Info(ctx context.Context) (Info, error) {
	active := e.selector.Active()
	info := Info{
		Namespace:    e.cfg.Namespace,
		ActiveTier:   active.Name(),
		Kind:         active.Kind(),
		Degraded:     e.selector.Degraded(),
		CeilingBytes: e.capacity.Ceiling(active),
	}

	keys, err := e.Keys(ctx)
	if err != nil {
		return info, err
	}
	info.Keys = len(keys)

	used, err := e.capacity.Usage(ctx, active)
	if err != nil {
		return info, domain.ErrStorageUnavailable.WithDetails(active.Name()).WithCause(err)
	}
	info.UsedBytes = used
	if info.CeilingBytes > 0 {
		info.UsageRatio = float64(used) / float64(info.CeilingBytes)
	}

	for _, t := range e.selector.Tiers() {
		st := TierStatus{Name: t.Name(), Kind: t.Kind(), Active: t == active}
		if n, err := t.Count(ctx); err == nil {
			st.Available = true
			st.Keys = n
		}
		info.Tiers = append(info.Tiers, st)
	}
	return info, nil
}

// Stats implements metric.StatsSource.
func (e *Engine) Stats(ctx context.Context) (metric.StorageStats, error) {
	info, err := e.Info(ctx)
	if err != nil {
		return metric.StorageStats{}, err
	}
	return metric.StorageStats{
		ActiveTier:   info.ActiveTier,
		Degraded:     info.Degraded,
		Keys:         info.Keys,
		UsedBytes:    info.UsedBytes,
		CeilingBytes: info.CeilingBytes,
	}, nil
}

// EntryStatus classifies a stored entry.
type EntryStatus string

const (
	EntryOK         EntryStatus = "ok"
	EntryCorrupted  EntryStatus = "corrupted"
	EntryUnreadable EntryStatus = "unreadable"
)

// EntryInfo describes one stored entry without decoding its payload into
// a Go value.
type EntryInfo struct {
	Key              string      `json:"key" yaml:"key"`
	Size             int         `json:"size" yaml:"size" table:"bytes"`
	WrittenAt        time.Time   `json:"writtenAt" yaml:"writtenAt"`
	Compressed       bool        `json:"compressed" yaml:"compressed"`
	Algorithm        string      `json:"algorithm" yaml:"algorithm"`
	OriginalSize     int         `json:"originalSize" yaml:"originalSize" table:"bytes,wide"`
	CompressionRatio float64     `json:"compressionRatio" yaml:"compressionRatio"`
	Checksum         string      `json:"checksum" yaml:"checksum" table:"wide"`
	Status           EntryStatus `json:"status" yaml:"status"`
	Error            string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Inspect describes the entry under key.
func (e *Engine) Inspect(ctx context.Context, key string) (EntryInfo, error) {
	if err := ValidateKey(key); err != nil {
		return EntryInfo{Key: key}, err
	}
	raw, err := e.getRaw(ctx, e.fullKey(key))
	if err != nil {
		return EntryInfo{Key: key}, err
	}
	return e.describe(key, raw), nil
}

func (e *Engine) describe(key string, raw []byte) EntryInfo {
	info := EntryInfo{Key: key, Size: len(raw), Status: EntryOK}

	env, err := envelope.Parse(raw)
	if err != nil {
		info.Status = EntryUnreadable
		info.Error = err.Error()
		return info
	}
	info.WrittenAt = env.WrittenAt()
	info.Compressed = env.Metadata.Compressed
	info.Algorithm = env.Metadata.Algorithm
	info.OriginalSize = env.Metadata.OriginalSize
	info.CompressionRatio = env.Metadata.CompressionRatio
	info.Checksum = env.Metadata.Checksum

	opened, err := env.Open(e.compressor)
	switch {
	case err != nil:
		info.Status = EntryUnreadable
		info.Error = err.Error()
	case !opened.Intact:
		info.Status = EntryCorrupted
		info.Error = "checksum mismatch"
	}
	return info
}

// Entries describes every entry in the namespace, in key order.
func (e *Engine) Entries(ctx context.Context) ([]EntryInfo, error) {
	keys, err := e.Keys(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]EntryInfo, 0, len(keys))
	for _, k := range keys {
		raw, err := e.getRaw(ctx, e.fullKey(k))
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, e.describe(k, raw))
	}
	return out, nil
}
