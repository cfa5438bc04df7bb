package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage"
	"github.com/yndnr/keepstore/internal/storage/integrity"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
)

// PerformIntegrityCheck audits every stored entry and every record of the
// collection. Checksum mismatches that only warn on reads become issues
// here, each with a suggested repair.
func (s *RecordStore) PerformIntegrityCheck(ctx context.Context) (integrity.Report, error) {
	var rep integrity.Report

	// 1. Envelopes
	entries, err := s.store.Entries(ctx)
	if err != nil {
		return rep, err
	}
	collectionUnreadable := false
	for _, e := range entries {
		rep.Checked++
		switch e.Status {
		case storage.EntryCorrupted:
			rep.Add(integrity.Issue{
				Key:      e.Key,
				Kind:     integrity.KindChecksumMismatch,
				Severity: integrity.SeverityWarning,
				Message:  fmt.Sprintf("stored checksum %s does not match payload", e.Checksum),
				Repair:   integrity.RepairRewrite,
			})
		case storage.EntryUnreadable:
			repair := integrity.RepairDropRecord
			if e.Key == s.cfg.CollectionKey {
				repair = integrity.RepairRestoreBackup
				collectionUnreadable = true
			}
			rep.Add(integrity.Issue{
				Key:      e.Key,
				Kind:     integrity.KindUnreadable,
				Severity: integrity.SeverityCritical,
				Message:  e.Error,
				Repair:   repair,
			})
		}
	}
	if collectionUnreadable {
		return rep, nil
	}

	// 2. Records
	raw, err := s.loadRaw(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return rep, nil
	case err != nil:
		return rep, err
	}

	seen := make(map[int64]int, len(raw))
	for i, item := range raw {
		rep.Checked++
		rec, err := decodeRecord(item)
		key := fmt.Sprintf("%s[%d]", s.cfg.CollectionKey, i)
		if err != nil {
			rep.Add(integrity.Issue{
				Key:      key,
				Kind:     integrity.KindInvalidRecord,
				Severity: integrity.SeverityWarning,
				Message:  err.Error(),
				Repair:   integrity.RepairDropRecord,
			})
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			rep.Add(integrity.Issue{
				Key:      key,
				Kind:     integrity.KindDuplicateID,
				Severity: integrity.SeverityWarning,
				Message:  fmt.Sprintf("id %d already used at position %d", rec.ID, first),
				Repair:   integrity.RepairReassignID,
			})
			continue
		}
		seen[rec.ID] = i
	}

	s.logger.Info("integrity check finished", "checked", rep.Checked, "issues", len(rep.Issues), "critical", rep.Critical())
	return rep, nil
}

// RepairResult reports what AutoRepair did.
type RepairResult struct {
	Issues   int      `json:"issues" yaml:"issues"`
	Repaired int      `json:"repaired" yaml:"repaired"`
	Failed   int      `json:"failed" yaml:"failed"`
	Actions  []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

func (r *RepairResult) did(format string, args ...any) {
	r.Repaired++
	r.Actions = append(r.Actions, fmt.Sprintf(format, args...))
}

func (r *RepairResult) failed(format string, args ...any) {
	r.Failed++
	r.Actions = append(r.Actions, "failed: "+fmt.Sprintf(format, args...))
}

// AutoRepair runs an integrity check and applies the suggested repairs.
func (s *RecordStore) AutoRepair(ctx context.Context) (RepairResult, error) {
	rep, err := s.PerformIntegrityCheck(ctx)
	if err != nil {
		return RepairResult{}, err
	}
	res := RepairResult{Issues: len(rep.Issues)}
	if rep.Healthy() {
		return res, nil
	}

	fixRecords := false
	for _, issue := range rep.Issues {
		switch issue.Repair {
		case integrity.RepairRewrite:
			if _, err := s.store.Rewrite(ctx, issue.Key); err != nil {
				res.failed("rewrite %s: %v", issue.Key, err)
				continue
			}
			res.did("rewrote checksum of %s", issue.Key)

		case integrity.RepairRestoreBackup:
			if s.backups == nil {
				res.failed("restore %s: no backup manager", issue.Key)
				continue
			}
			rr, err := s.RestoreFromBackup(ctx, snapshot.Latest)
			if err != nil {
				res.failed("restore %s: %v", issue.Key, err)
				continue
			}
			res.did("restored %s from backup %s (%d records)", issue.Key, rr.BackupID, rr.Count)

		case integrity.RepairDropRecord:
			if strings.HasPrefix(issue.Key, s.cfg.CollectionKey+"[") {
				fixRecords = true
				continue
			}
			if err := s.store.Remove(ctx, issue.Key); err != nil {
				res.failed("remove %s: %v", issue.Key, err)
				continue
			}
			res.did("removed unreadable entry %s", issue.Key)

		case integrity.RepairReassignID:
			fixRecords = true
		}
	}

	if fixRecords {
		dropped, reassigned, err := s.repairRecords(ctx)
		if err != nil {
			res.failed("repair records: %v", err)
		} else {
			if dropped > 0 {
				res.did("dropped %d invalid records", dropped)
			}
			if reassigned > 0 {
				res.did("reassigned %d duplicate ids", reassigned)
			}
		}
	}

	s.recordOp("auto_repair", nil)
	s.appendAudit(ActionAutoRepair, map[string]any{"issues": res.Issues, "repaired": res.Repaired, "failed": res.Failed})
	return res, nil
}

// repairRecords drops invalid records and gives duplicate ids fresh ones.
func (s *RecordStore) repairRecords(ctx context.Context) (dropped, reassigned int, err error) {
	raw, err := s.loadRaw(ctx)
	if err != nil {
		return 0, 0, err
	}

	ids := make(map[int64]struct{}, len(raw))
	records := make([]domain.Employee, 0, len(raw))
	for _, item := range raw {
		rec, err := decodeRecord(item)
		if err != nil {
			dropped++
			continue
		}
		if _, dup := ids[rec.ID]; dup {
			reassigned++
		}
		s.assignID(&rec, ids)
		records = append(records, rec)
	}

	if _, err := s.persist(ctx, records); err != nil {
		return 0, 0, err
	}
	return dropped, reassigned, nil
}

