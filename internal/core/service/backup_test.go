package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/keepstore/internal/core/domain"
	"github.com/yndnr/keepstore/internal/storage/snapshot"
)

func TestCreateBackup_EmptyCollection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.store.CreateBackup(ctx, snapshot.TypeManual)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, snapshot.ReasonNoData, res.Reason)

	list, err := f.store.GetBackupList(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRestoreFromBackup_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recs := seed(t, f.store, employee("Ann", "Tech", "Eng"), employee("Bob", "Ops", "SRE"))

	res, err := f.store.CreateBackup(ctx, snapshot.TypeManual)
	require.NoError(t, err)
	require.True(t, res.Success)

	_, err = f.store.Delete(ctx, recs[0].ID)
	require.NoError(t, err)
	_, err = f.store.Add(ctx, employee("Cid", "Ops", "SRE"))
	require.NoError(t, err)

	rr, err := f.store.RestoreFromBackup(ctx, res.Info.BackupID)
	require.NoError(t, err)
	assert.Equal(t, 2, rr.Count)
	first, err := f.store.List(ctx)
	require.NoError(t, err)

	_, err = f.store.RestoreFromBackup(ctx, snapshot.Latest)
	require.NoError(t, err)
	second, err := f.store.List(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, recs, first)
}

func TestRestoreFromBackup_FailureLeavesLiveData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.store, employee("Ann", "Tech", "Eng"))

	res, err := f.store.CreateBackup(ctx, snapshot.TypeManual)
	require.NoError(t, err)

	// tamper with the stored snapshot
	key := snapshot.DefaultKeyPrefix + res.Info.BackupID
	var snap snapshot.Snapshot[domain.Employee]
	_, err = f.engine.Load(ctx, key, &snap)
	require.NoError(t, err)
	snap.Records[0].Name = "Mallory"
	_, err = f.engine.Save(ctx, key, snap)
	require.NoError(t, err)

	_, err = f.store.Add(ctx, employee("Bob", "Ops", "SRE"))
	require.NoError(t, err)

	_, err = f.store.RestoreFromBackup(ctx, res.Info.BackupID)
	assert.ErrorIs(t, err, domain.ErrBackupInvalid)

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeleteBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.store, employee("Ann", "Tech", "Eng"))

	res, err := f.store.CreateBackup(ctx, snapshot.TypeAuto)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteBackup(ctx, res.Info.BackupID))
	assert.ErrorIs(t, f.store.DeleteBackup(ctx, res.Info.BackupID), domain.ErrBackupNotFound)

	_, err = f.store.RestoreFromBackup(ctx, snapshot.Latest)
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)
}
