package service

import (
	"context"
	"slices"
	"sync"

	"github.com/go-pkgz/syncs"
	"golang.org/x/text/cases"

	"github.com/yndnr/keepstore/internal/core/domain"
)

// BatchProgress is reported after each validated chunk.
type BatchProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Failed    int `json:"failed"`
}

// BatchOptions configures BatchAdd.
type BatchOptions struct {
	// ChunkSize sets the validation and progress granularity. It does not
	// split the storage write: the merged collection is persisted once.
	ChunkSize int

	// SkipDuplicates skips records whose name matches, ignoring case, an
	// existing record or an earlier record of the same batch.
	SkipDuplicates bool

	// Progress is called after each chunk. Calls are serialized.
	Progress func(BatchProgress)
}

// BatchError describes one failed batch item.
type BatchError struct {
	Index int    `json:"index" yaml:"index"`
	ID    int64  `json:"id,omitempty" yaml:"id,omitempty"`
	Error string `json:"error" yaml:"error"`
}

// BatchResult summarizes a batch operation. Per-item failures are reported
// here and never abort the batch.
type BatchResult struct {
	Total   int               `json:"total" yaml:"total"`
	Success int               `json:"success" yaml:"success"`
	Failed  int               `json:"failed" yaml:"failed"`
	Skipped int               `json:"skipped" yaml:"skipped"`
	Errors  []BatchError      `json:"errors,omitempty" yaml:"errors,omitempty"`
	Records []domain.Employee `json:"records,omitempty" yaml:"records,omitempty"`
}

func (r *BatchResult) fail(i int, id int64, err error) {
	r.Failed++
	r.Errors = append(r.Errors, BatchError{Index: i, ID: id, Error: err.Error()})
}

// BatchUpdateItem is one update of BatchUpdate.
type BatchUpdateItem struct {
	ID    int64                `json:"id"`
	Patch domain.EmployeePatch `json:"patch"`
}

// BatchAdd validates and appends records. Invalid records are counted as
// failures. The merged collection is persisted once at the end; if that
// write fails nothing is added and ErrBatchSaveFailed is returned.
func (s *RecordStore) BatchAdd(ctx context.Context, records []domain.Employee, opts BatchOptions) (BatchResult, error) {
	res, err := s.batchAdd(ctx, records, opts, domain.SourceBatch)
	s.recordOp("batch_add", err)
	if err == nil {
		s.appendAudit(ActionBatchAdd, map[string]any{
			"total": res.Total, "success": res.Success, "failed": res.Failed, "skipped": res.Skipped,
		})
	}
	return res, err
}

func (s *RecordStore) batchAdd(ctx context.Context, records []domain.Employee, opts BatchOptions, source string) (BatchResult, error) {
	res := BatchResult{Total: len(records)}
	if len(records) == 0 {
		return res, nil
	}

	// 1. Validate every item, chunk by chunk
	prepared, verrs := s.validateChunks(ctx, records, opts)

	// 2. Load the collection
	existing, err := s.load(ctx)
	if err != nil {
		return res, err
	}

	// 3. Resolve duplicates and ids sequentially, in input order
	fold := cases.Fold()
	names := make(map[string]struct{}, len(existing)+len(records))
	if opts.SkipDuplicates {
		for _, r := range existing {
			names[fold.String(r.Name)] = struct{}{}
		}
	}
	ids := idSet(existing)
	now := s.now()

	for i := range prepared {
		if verrs[i] != nil {
			res.fail(i, records[i].ID, verrs[i])
			continue
		}
		rec := prepared[i]
		if opts.SkipDuplicates {
			key := fold.String(rec.Name)
			if _, dup := names[key]; dup {
				res.Skipped++
				continue
			}
			names[key] = struct{}{}
		}
		s.assignID(&rec, ids)
		rec.Touch(now, source)
		res.Records = append(res.Records, rec)
	}

	if len(res.Records) == 0 {
		return res, nil
	}

	// 4. Persist once
	merged := append(existing, res.Records...)
	if _, err := s.persist(ctx, merged); err != nil {
		s.logger.Error("batch persist failed", "records", len(res.Records), "error", err)
		added := len(res.Records)
		res.Records = nil
		return res, domain.ErrBatchSaveFailed.WithDetailsf("%d records", added).WithCause(err)
	}
	res.Success = len(res.Records)
	return res, nil
}

// validateChunks normalizes and validates records in chunks on a bounded
// group. The returned slices are indexed like records.
func (s *RecordStore) validateChunks(ctx context.Context, records []domain.Employee, opts BatchOptions) ([]domain.Employee, []error) {
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = s.cfg.BatchChunkSize
	}

	prepared := make([]domain.Employee, len(records))
	verrs := make([]error, len(records))

	var (
		mu        sync.Mutex
		processed int
		failed    int
	)

	wg := syncs.NewSizedGroup(s.cfg.BatchConcurrency)
	for start := 0; start < len(records); start += chunk {
		end := min(start+chunk, len(records))
		wg.Go(func(context.Context) {
			chunkFailed := 0
			for i := start; i < end; i++ {
				rec := records[i].Clone()
				rec.Normalize()
				if err := rec.Validate(); err != nil {
					verrs[i] = err
					chunkFailed++
					continue
				}
				prepared[i] = rec
			}

			mu.Lock()
			defer mu.Unlock()
			processed += end - start
			failed += chunkFailed
			if opts.Progress != nil {
				opts.Progress(BatchProgress{Processed: processed, Total: len(records), Failed: failed})
			}
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		s.logger.Debug("context ended during batch validation", "error", err)
	}
	return prepared, verrs
}

// BatchUpdate applies patches. Unknown ids and invalid results are reported
// per item; the collection is persisted once if anything changed.
func (s *RecordStore) BatchUpdate(ctx context.Context, items []BatchUpdateItem) (BatchResult, error) {
	res, err := s.batchUpdate(ctx, items)
	s.recordOp("batch_update", err)
	if err == nil {
		s.appendAudit(ActionBatchUpdate, map[string]any{"total": res.Total, "success": res.Success, "failed": res.Failed})
	}
	return res, err
}

func (s *RecordStore) batchUpdate(ctx context.Context, items []BatchUpdateItem) (BatchResult, error) {
	res := BatchResult{Total: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	records, err := s.load(ctx)
	if err != nil {
		return res, err
	}
	pos := make(map[int64]int, len(records))
	for i, r := range records {
		pos[r.ID] = i
	}

	now := s.now()
	for i, item := range items {
		p, ok := pos[item.ID]
		if !ok {
			res.fail(i, item.ID, domain.ErrNotFound.WithDetailsf("employee %d", item.ID))
			continue
		}
		rec := records[p].Clone()
		rec.Apply(item.Patch)
		rec.Normalize()
		if err := rec.Validate(); err != nil {
			res.fail(i, item.ID, err)
			continue
		}
		rec.Touch(now, domain.SourceBatch)
		records[p] = rec
		res.Records = append(res.Records, rec)
	}

	if len(res.Records) == 0 {
		return res, nil
	}
	if _, err := s.persist(ctx, records); err != nil {
		res.Records = nil
		return res, domain.ErrBatchSaveFailed.WithCause(err)
	}
	res.Success = len(res.Records)
	return res, nil
}

// BatchDelete removes records by id. Absent ids are counted as skipped.
func (s *RecordStore) BatchDelete(ctx context.Context, ids []int64) (BatchResult, error) {
	res, err := s.batchDelete(ctx, ids)
	s.recordOp("batch_delete", err)
	if err == nil {
		s.appendAudit(ActionBatchDelete, map[string]any{"total": res.Total, "success": res.Success, "skipped": res.Skipped})
	}
	return res, err
}

func (s *RecordStore) batchDelete(ctx context.Context, ids []int64) (BatchResult, error) {
	res := BatchResult{Total: len(ids)}
	if len(ids) == 0 {
		return res, nil
	}

	records, err := s.load(ctx)
	if err != nil {
		return res, err
	}

	remove := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		remove[id] = struct{}{}
	}
	present := idSet(records)
	for _, id := range ids {
		if _, ok := present[id]; ok {
			res.Success++
			delete(present, id)
		} else {
			res.Skipped++
		}
	}
	if res.Success == 0 {
		return res, nil
	}

	kept := slices.DeleteFunc(records, func(r domain.Employee) bool {
		_, ok := remove[r.ID]
		return ok
	})
	if _, err := s.persist(ctx, kept); err != nil {
		failed := res.Success
		res.Success = 0
		return res, domain.ErrBatchSaveFailed.WithDetailsf("%d deletions", failed).WithCause(err)
	}
	return res, nil
}
