package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/storage/integrity"
)

// corruptChecksum rewrites the stored checksum of key behind the engine.
func corruptChecksum(t *testing.T, f *fixture, key string) {
	t.Helper()
	ctx := context.Background()
	full := "ks:" + key

	raw, err := f.mem.Get(ctx, full)
	require.NoError(t, err)
	var env map[string]any
	require.NoError(t, json.Unmarshal(raw, &env))
	env["metadata"].(map[string]any)["checksum"] = "deadbeef"
	raw, err = json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, f.mem.Set(ctx, full, raw))
}

func kinds(rep integrity.Report) []string {
	var out []string
	for _, i := range rep.Issues {
		out = append(out, i.Kind)
	}
	return out
}

func TestIntegrityCheck_Healthy(t *testing.T) {
	f := newFixture(t)
	seed(t, f.store, employee("Ann", "Tech", "Eng"))

	rep, err := f.store.PerformIntegrityCheck(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Healthy())
	assert.Equal(t, 2, rep.Checked, "one envelope and one record")
}

func TestIntegrityCheck_ChecksumMismatchIsRepaired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.store, employee("Ann", "Tech", "Eng"))
	corruptChecksum(t, f, DefaultCollectionKey)

	// reads only warn
	f.store.Invalidate()
	list, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	rep, err := f.store.PerformIntegrityCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{integrity.KindChecksumMismatch}, kinds(rep))
	assert.Equal(t, integrity.RepairRewrite, rep.Issues[0].Repair)

	res, err := f.store.AutoRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)
	assert.Zero(t, res.Failed)

	rep, err = f.store.PerformIntegrityCheck(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Healthy())
}

func TestIntegrityCheck_RecordIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Save(ctx, DefaultCollectionKey, []any{
		map[string]any{"id": 1, "name": "Ann", "department": "Tech", "position": "Eng"},
		map[string]any{"id": 1, "name": "Bob", "department": "Tech", "position": "Eng"},
		map[string]any{"id": 2, "name": "", "department": "Tech", "position": "Eng"},
	})
	require.NoError(t, err)

	rep, err := f.store.PerformIntegrityCheck(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{integrity.KindDuplicateID, integrity.KindInvalidRecord}, kinds(rep))

	res, err := f.store.AutoRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Repaired)

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotEqual(t, list[0].ID, list[1].ID)

	rep, err = f.store.PerformIntegrityCheck(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Healthy())
}

func TestAutoRepair_RestoresUnreadableCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.store, employee("Ann", "Tech", "Eng"), employee("Bob", "Ops", "SRE"))
	_, err := f.store.CreateBackup(ctx, "manual")
	require.NoError(t, err)

	full := "ks:" + DefaultCollectionKey
	require.NoError(t, f.mem.Set(ctx, full, []byte(`{"version":1,`)))

	rep, err := f.store.PerformIntegrityCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{integrity.KindUnreadable}, kinds(rep))
	assert.Equal(t, integrity.SeverityCritical, rep.Issues[0].Severity)
	assert.Equal(t, integrity.RepairRestoreBackup, rep.Issues[0].Repair)

	res, err := f.store.AutoRepair(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)

	list, err := f.reopen().List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
