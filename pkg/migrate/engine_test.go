package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/store"
)

func TestRunSameVersionIsNoop(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)

	result := e.Run(schema.KeyLeads, []any{}, "1.0", "1.0", false)
	assert.True(t, result.Success)
	assert.Contains(t, result.Warnings, "no migration needed")
	assert.Equal(t, "1.0", result.MigratedTo)
}

func TestRunPathMissing(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)

	result := e.Run(schema.KeyLeads, []any{}, "0.5", "1.0", false)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "no migration path")
}

func TestRunDetectsCyclicRegistration(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)
	e.Register("looping", Descriptor{
		FromVersion: "a", ToVersion: "b",
		Migrate: func(data any) StepResult { return StepResult{Success: true, Data: data} },
	})
	e.Register("looping", Descriptor{
		FromVersion: "b", ToVersion: "a",
		Migrate: func(data any) StepResult { return StepResult{Success: true, Data: data} },
	})

	result := e.Run("looping", nil, "a", "z", false)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "hop limit")
}

func TestRunAbortsOnFailingStep(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)
	e.Register("chained", Descriptor{
		FromVersion: "1", ToVersion: "2",
		Migrate: func(data any) StepResult { return StepResult{Success: true, Data: "step1"} },
	})
	e.Register("chained", Descriptor{
		FromVersion: "2", ToVersion: "3",
		Migrate: func(data any) StepResult { return StepResult{Errors: []string{"bad shape"}} },
	})

	result := e.Run("chained", "input", "1", "3", false)
	assert.False(t, result.Success)
	assert.Equal(t, "2", result.MigratedTo)
	assert.Contains(t, result.Errors, "bad shape")
	// Original data is preserved for the caller; the partial step result is
	// never exposed as migrated data.
	assert.Equal(t, "input", result.Data)
}

func TestRunCreatesBackup(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`[{"clientName":"A"}]`)))
	e := NewEngine(st, nil)

	result := e.Run(schema.KeyLeads, []any{}, schema.LegacyVersion, schema.CurrentVersion, true)
	require.True(t, result.Success)

	backup, err := st.Get(schema.BackupKey(schema.KeyLeads))
	require.NoError(t, err)
	assert.Equal(t, `[{"clientName":"A"}]`, string(backup))
}

func TestRunSkipsBackupWhenDisabled(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`[]`)))
	e := NewEngine(st, nil)

	result := e.Run(schema.KeyLeads, []any{}, schema.LegacyVersion, schema.CurrentVersion, false)
	require.True(t, result.Success)

	_, err := st.Get(schema.BackupKey(schema.KeyLeads))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBackupWithNothingPersisted(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)

	assert.NoError(t, e.Backup(schema.KeyLeads))
	_, err := st.Get(schema.BackupKey(schema.KeyLeads))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRollback(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)

	require.NoError(t, st.Set(schema.KeyLeads, []byte(`["original"]`)))
	require.NoError(t, e.Backup(schema.KeyLeads))
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`["mangled"]`)))

	require.NoError(t, e.Rollback(schema.KeyLeads))
	v, err := st.Get(schema.KeyLeads)
	require.NoError(t, err)
	assert.Equal(t, `["original"]`, string(v))
}

func TestRollbackWithoutBackup(t *testing.T) {
	st := store.NewMemoryStore(0)
	defer st.Close()
	e := NewEngine(st, nil)

	err := e.Rollback(schema.KeyLeads)
	assert.ErrorIs(t, err, ErrNoBackup)
}
