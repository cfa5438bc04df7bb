package maintenance

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage"
)

// Size buckets used by the analysis.
const (
	BucketTiny   = "<1KiB"
	BucketSmall  = "1-10KiB"
	BucketMedium = "10-100KiB"
	BucketLarge  = ">=100KiB"
)

func bucket(size int) string {
	switch {
	case size < 1<<10:
		return BucketTiny
	case size < 10<<10:
		return BucketSmall
	case size < 100<<10:
		return BucketMedium
	default:
		return BucketLarge
	}
}

// Analysis classifies the entries of the store.
type Analysis struct {
	Total        int            `json:"total" yaml:"total"`
	Bytes        int64          `json:"bytes" yaml:"bytes" table:"bytes"`
	Compressed   int            `json:"compressed" yaml:"compressed"`
	Uncompressed int            `json:"uncompressed" yaml:"uncompressed"`
	Corrupted    int            `json:"corrupted" yaml:"corrupted"`
	Unreadable   int            `json:"unreadable" yaml:"unreadable"`
	Expired      int            `json:"expired" yaml:"expired"`
	Duplicates   int            `json:"duplicates" yaml:"duplicates"`
	Recompress   int            `json:"recompress" yaml:"recompress"`
	Buckets      map[string]int `json:"buckets" yaml:"buckets"`
}

// Analyze classifies entries without changing anything.
func (o *Optimizer) Analyze(ctx context.Context) (Analysis, error) {
	return o.analyze(ctx)
}

func (o *Optimizer) analyze(ctx context.Context) (Analysis, error) {
	entries, err := o.store.Entries(ctx)
	if err != nil {
		return Analysis{}, err
	}

	a := Analysis{Total: len(entries), Buckets: map[string]int{}}
	dups := o.duplicates(entries)
	for i, e := range entries {
		a.Bytes += int64(e.Size)
		a.Buckets[bucket(e.Size)]++
		switch e.Status {
		case storage.EntryUnreadable:
			a.Unreadable++
		case storage.EntryCorrupted:
			a.Corrupted++
		}
		if e.Status != storage.EntryUnreadable {
			if e.Compressed {
				a.Compressed++
			} else {
				a.Uncompressed++
			}
		}
		if o.expired(e) {
			a.Expired++
		}
		if o.needsRecompress(e) {
			a.Recompress++
		}
		if i%o.chunkSize == 0 {
			o.report(PhaseAnalyze, i, len(entries))
		}
	}
	a.Duplicates = len(dups)
	o.report(PhaseAnalyze, len(entries), len(entries))
	return a, nil
}

func (o *Optimizer) expired(e storage.EntryInfo) bool {
	if e.Status == storage.EntryUnreadable || e.WrittenAt.IsZero() {
		return false
	}
	return o.now().Sub(e.WrittenAt) > o.maxAge
}

func (o *Optimizer) needsRecompress(e storage.EntryInfo) bool {
	if e.Status != storage.EntryOK || o.isPinned(e.Key) {
		return false
	}
	if e.OriginalSize < o.recompressMinSize {
		return false
	}
	return !e.Compressed || e.CompressionRatio > o.poorRatio
}

// duplicates returns the keys whose payload repeats a newer entry's
// payload. Protected keys are never reported.
func (o *Optimizer) duplicates(entries []storage.EntryInfo) []string {
	type sig struct {
		sum  string
		size int
	}
	groups := make(map[sig][]storage.EntryInfo)
	for _, e := range entries {
		if e.Status != storage.EntryOK || e.Checksum == "" {
			continue
		}
		s := sig{e.Checksum, e.OriginalSize}
		groups[s] = append(groups[s], e)
	}

	var out []string
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		// newest first; the newest copy survives
		slices.SortFunc(g, func(a, b storage.EntryInfo) int {
			if c := b.WrittenAt.Compare(a.WrittenAt); c != 0 {
				return c
			}
			return cmp.Compare(a.Key, b.Key)
		})
		for _, e := range g[1:] {
			if !o.isProtected(e.Key) {
				out = append(out, e.Key)
			}
		}
	}
	slices.Sort(out)
	return out
}

// cleanup removes expired, corrupted and duplicate entries that are not
// protected.
func (o *Optimizer) cleanup(ctx context.Context) (PhaseReport, error) {
	entries, err := o.store.Entries(ctx)
	if err != nil {
		return PhaseReport{}, err
	}

	doomed := make(map[string]int)
	for _, e := range entries {
		if o.isProtected(e.Key) {
			continue
		}
		if e.Status != storage.EntryOK || o.expired(e) {
			doomed[e.Key] = e.Size
		}
	}
	sizes := make(map[string]int, len(entries))
	for _, e := range entries {
		sizes[e.Key] = e.Size
	}
	for _, k := range o.duplicates(entries) {
		doomed[k] = sizes[k]
	}

	keys := make([]string, 0, len(doomed))
	for k := range doomed {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pr := PhaseReport{Processed: len(entries)}
	var errs []error
	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return pr, err
		}
		if err := o.store.Remove(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, err))
			continue
		}
		pr.Removed++
		pr.BytesReclaimed += int64(doomed[k])
		o.report(PhaseCleanup, i+1, len(keys))
	}
	if len(keys) == 0 {
		o.report(PhaseCleanup, 0, 0)
	}
	if len(errs) > 0 {
		return pr, errors.Join(errs...)
	}
	return pr, nil
}

// recompress rewrites large, poorly compressed entries so the compression
// engine can pick again.
func (o *Optimizer) recompress(ctx context.Context) (PhaseReport, error) {
	entries, err := o.store.Entries(ctx)
	if err != nil {
		return PhaseReport{}, err
	}

	var targets []storage.EntryInfo
	for _, e := range entries {
		if o.needsRecompress(e) {
			targets = append(targets, e)
		}
	}

	pr := PhaseReport{Processed: len(targets)}
	err = o.rewriteAll(ctx, PhaseRecompress, targets, &pr)
	return pr, err
}

// defragment rewrites every readable, unpinned entry smallest first and
// then asks the active tier to compact.
func (o *Optimizer) defragment(ctx context.Context) (PhaseReport, error) {
	entries, err := o.store.Entries(ctx)
	if err != nil {
		return PhaseReport{}, err
	}

	targets := slices.DeleteFunc(entries, func(e storage.EntryInfo) bool {
		return e.Status == storage.EntryUnreadable || o.isPinned(e.Key)
	})
	slices.SortStableFunc(targets, func(a, b storage.EntryInfo) int {
		if c := cmp.Compare(a.Size, b.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	pr := PhaseReport{Processed: len(targets)}
	if err := o.rewriteAll(ctx, PhaseDefragment, targets, &pr); err != nil {
		return pr, err
	}

	reclaimed, err := o.store.Compact(ctx)
	if err != nil {
		return pr, err
	}
	pr.BytesReclaimed += int64(reclaimed)
	return pr, nil
}

// rewriteAll rewrites targets chunk by chunk under the rate limit and adds
// the size change to pr.
func (o *Optimizer) rewriteAll(ctx context.Context, p Phase, targets []storage.EntryInfo, pr *PhaseReport) error {
	if len(targets) == 0 {
		o.report(p, 0, 0)
		return nil
	}

	var errs []error
	for start := 0; start < len(targets); start += o.chunkSize {
		end := min(start+o.chunkSize, len(targets))
		if err := o.throttle(ctx, end-start); err != nil {
			return err
		}

		for _, e := range targets[start:end] {
			res, err := o.store.Rewrite(ctx, e.Key)
			switch {
			case err == nil:
				pr.Rewritten++
				if saved := e.Size - res.Size; saved > 0 {
					pr.BytesReclaimed += int64(saved)
				}
			case errors.Is(err, domain.ErrNotFound):
				// removed since the listing
			default:
				errs = append(errs, fmt.Errorf("rewrite %s: %w", e.Key, err))
			}
		}
		o.report(p, end, len(targets))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
