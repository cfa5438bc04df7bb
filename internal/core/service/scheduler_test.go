package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_RegistersJobs(t *testing.T) {
	f := newFixture(t)

	s, err := NewScheduler(DefaultSchedulerConfig(), f.store, f.audit, func(context.Context) error { return nil }, f.engine.Logger())
	require.NoError(t, err)

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, JobBackup, jobs[0].Name)
	assert.Equal(t, DefaultBackupSpec, jobs[0].Spec)
	assert.Equal(t, JobMaintenance, jobs[2].Name)
}

func TestNewScheduler_DisabledJobs(t *testing.T) {
	f := newFixture(t)

	s, err := NewScheduler(SchedulerConfig{BackupSpec: "@every 1m", MaintenanceSpec: "@daily"}, f.store, f.audit, nil, nil)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 1)
	assert.Equal(t, JobBackup, s.Jobs()[0].Name)
}

func TestNewScheduler_BadSpec(t *testing.T) {
	f := newFixture(t)
	_, err := NewScheduler(SchedulerConfig{BackupSpec: "every now and then"}, f.store, nil, nil, nil)
	require.Error(t, err)
}

func TestScheduler_RunJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seed(t, f.store, employee("Ann", "Tech", "Eng"))

	var ran bool
	s, err := NewScheduler(DefaultSchedulerConfig(), f.store, f.audit, func(context.Context) error {
		ran = true
		return errors.New("boom")
	}, nil)
	require.NoError(t, err)

	require.NoError(t, s.RunBackup(ctx))
	list, err := f.store.GetBackupList(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "auto", string(list[0].Type))

	require.NoError(t, s.RunAuditPrune(ctx))
	assert.EqualError(t, s.RunMaintenance(ctx), "boom")
	assert.True(t, ran)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(DefaultSchedulerConfig(), f.store, f.audit, nil, nil)
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
