package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/leadstore/pkg/model"
	"github.com/platinummonkey/leadstore/pkg/notify"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/store"
)

func newTestEngine(t *testing.T) (*StoreEngine, *store.MemoryStore, *notify.Recorder) {
	t.Helper()
	st := store.NewMemoryStore(0)
	recorder := notify.NewRecorder(0)
	eng := New(st, nil, recorder, nil, nil, DefaultConfig())
	require.NoError(t, eng.Init(context.Background()))
	t.Cleanup(func() { _ = eng.Shutdown(context.Background()) })
	return eng, st, recorder
}

// envelope builds a stored current-version payload around raw entity JSON.
func envelope(t *testing.T, data string) []byte {
	t.Helper()
	raw, err := json.Marshal(schema.Envelope{
		Version:   schema.CurrentVersion,
		Data:      json.RawMessage(data),
		Timestamp: "2024-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	return raw
}

func validLeadJSON() string {
	return `[{"id":"l1","clientName":"Acme","status":"new",
		"mobileNumbers":[{"id":"n1","number":"555-0100","isMain":true}],
		"activities":[]}]`
}

func TestLoadEmptyReturnsDefault(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success)
	assert.Equal(t, []any{}, result.Data)
	assert.False(t, result.WasMigrated)
	assert.False(t, result.WasRecovered)
	assert.Empty(t, result.Warnings)
}

func TestLoadValidEnvelope(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, validLeadJSON())))

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success, "load failed: %s", result.Error)

	items := result.Data.([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Acme", items[0].(map[string]any)["clientName"])

	// Successful loads cache their snapshot.
	_, cached := eng.CachedLoad(schema.KeyLeads)
	assert.True(t, cached)
}

func TestLoadMigratesLegacyData(t *testing.T) {
	eng, st, recorder := newTestEngine(t)

	// A bare JSON array is a pre-envelope value at the legacy version.
	legacy := `[{"clientName":"Acme","mobileNumber":"555-0100"}]`
	require.NoError(t, st.Set(schema.KeyLeads, []byte(legacy)))

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success, "load failed: %s", result.Error)
	assert.True(t, result.WasMigrated)

	lead := result.Data.([]any)[0].(map[string]any)
	assert.Equal(t, model.StatusNew, lead["status"])
	numbers := lead["mobileNumbers"].([]any)
	require.Len(t, numbers, 1)
	assert.Equal(t, "555-0100", numbers[0].(map[string]any)["number"])

	// The migrated value is persisted back under a current-version envelope
	// recording its origin.
	raw, err := st.Get(schema.KeyLeads)
	require.NoError(t, err)
	env, ok := schema.ParseEnvelope(raw)
	require.True(t, ok, "persisted value is not an envelope")
	assert.Equal(t, schema.CurrentVersion, env.Version)
	assert.Equal(t, schema.LegacyVersion, env.MigratedFrom)

	// The pre-migration value was snapshotted for rollback.
	backup, err := st.Get(schema.BackupKey(schema.KeyLeads))
	require.NoError(t, err)
	assert.Equal(t, legacy, string(backup))

	// The user heard about the upgrade.
	events := recorder.Events()
	require.NotEmpty(t, events)
	assert.Contains(t, events[0].Message, "upgraded")
}

func TestLoadMigrationSkipsBackupWhenDisabled(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`[{"clientName":"A"}]`)))

	opts := DefaultLoadOptions()
	opts.CreateBackupBeforeMigration = false
	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, opts)
	require.True(t, result.Success)

	_, err := st.Get(schema.BackupKey(schema.KeyLeads))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLoadMigrationDisabled(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`[{"clientName":"A"}]`)))

	opts := DefaultLoadOptions()
	opts.AllowMigration = false
	opts.AllowRepair = false
	opts.AllowBackupRecovery = false
	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, opts)

	// Unmigrated legacy data fails validation and, with every recovery gate
	// closed, degrades to the default.
	require.True(t, result.Success)
	assert.Equal(t, []any{}, result.Data)
	assert.False(t, result.WasMigrated)
	assert.NotEmpty(t, result.ValidationErrors)
}

func TestLoadRepairsDamagedRecords(t *testing.T) {
	eng, st, recorder := newTestEngine(t)

	damaged := `[
		{"id":"l1","clientName":"Good","status":"new","mobileNumbers":[],"activities":[]},
		{"clientName":"Fixable"},
		{"notes":"no identity at all"}
	]`
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, damaged)))

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success, "load failed: %s", result.Error)
	assert.False(t, result.WasRecovered)

	items := result.Data.([]any)
	assert.Len(t, items, 2)
	assert.Contains(t, result.Warnings, "1 unrepairable records dropped")
	assert.NotEmpty(t, result.ValidationErrors)

	events := recorder.Events()
	require.NotEmpty(t, events)
	assert.Contains(t, events[0].Message, "repaired")
}

func TestLoadStrictValidationFails(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, `[{"clientName":"Fixable"}]`)))

	opts := DefaultLoadOptions()
	opts.StrictValidation = true
	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, opts)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "validation failed")
	assert.NotEmpty(t, result.ValidationErrors)
}

func TestLoadRecoversFromBackupOnCorruption(t *testing.T) {
	eng, st, recorder := newTestEngine(t)

	// All-null elements are an integrity-critical corruption pattern.
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, `[null,null,null]`)))
	require.NoError(t, st.Set(schema.BackupKey(schema.KeyLeads), envelope(t, validLeadJSON())))

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success, "load failed: %s", result.Error)
	assert.True(t, result.WasRecovered)
	assert.True(t, result.RecoveryAttempted)

	items := result.Data.([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "Acme", items[0].(map[string]any)["clientName"])

	// The restored value replaced the corrupt primary.
	raw, err := st.Get(schema.KeyLeads)
	require.NoError(t, err)
	env, ok := schema.ParseEnvelope(raw)
	require.True(t, ok)
	assert.Contains(t, string(env.Data), "Acme")

	events := recorder.Events()
	require.NotEmpty(t, events)
	assert.Contains(t, events[0].Message, "restored from the last backup")
}

func TestLoadFallsBackToDefaultWhenUnrecoverable(t *testing.T) {
	eng, st, recorder := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`{corrupt garbage`)))

	defaultValue := []any{map[string]any{"seed": true}}
	result := eng.Load(context.Background(), schema.KeyLeads, defaultValue, DefaultLoadOptions())

	require.True(t, result.Success)
	assert.True(t, result.RecoveryAttempted)
	assert.False(t, result.WasRecovered)
	assert.Equal(t, defaultValue, result.Data)
	assert.Contains(t, result.Warnings, "stored data was corrupt and unrecoverable; defaults were used")

	events := recorder.Events()
	require.NotEmpty(t, events)
	assert.Contains(t, events[len(events)-1].Message, "reset to defaults")
}

func TestLoadRejectsCorruptBackup(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, `[null,null]`)))
	require.NoError(t, st.Set(schema.BackupKey(schema.KeyLeads), envelope(t, `[null,null]`)))

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success)
	assert.False(t, result.WasRecovered)
	assert.Equal(t, []any{}, result.Data)
}

func TestLoadUnknownKeyPassesThrough(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set("scratch", envelope(t, `{"anything":"goes"}`)))

	result := eng.Load(context.Background(), "scratch", nil, DefaultLoadOptions())
	require.True(t, result.Success)
	assert.Equal(t, map[string]any{"anything": "goes"}, result.Data)
}

func TestSaveAwaitThenLoadRoundTrip(t *testing.T) {
	eng, st, _ := newTestEngine(t)

	leads := []any{map[string]any{
		"id": "l1", "clientName": "Acme", "status": "contacted",
		"mobileNumbers": []any{}, "activities": []any{},
	}}
	require.NoError(t, eng.SaveAwait(context.Background(), schema.KeyLeads, leads))

	// Stored as a current-version envelope.
	raw, err := st.Get(schema.KeyLeads)
	require.NoError(t, err)
	env, ok := schema.ParseEnvelope(raw)
	require.True(t, ok)
	assert.Equal(t, schema.CurrentVersion, env.Version)

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success)
	assert.False(t, result.WasMigrated)
	assert.Equal(t, "Acme", result.Data.([]any)[0].(map[string]any)["clientName"])
}

func TestSaveRejectsCyclicValue(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	m := map[string]any{"id": "l1"}
	m["self"] = m
	err := eng.SaveAwait(context.Background(), schema.KeyLeads, []any{m})
	assert.ErrorIs(t, err, ErrCorruptionDetected)
}

func TestRegisterSanitizer(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, validLeadJSON())))

	eng.RegisterSanitizer(schema.KeyLeads, func(value any) (any, error) {
		items := value.([]any)
		for _, item := range items {
			item.(map[string]any)["notes"] = "sanitized"
		}
		return items, nil
	})

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success)
	assert.Equal(t, "sanitized", result.Data.([]any)[0].(map[string]any)["notes"])
}

func TestBackupAndRestore(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`["v1"]`)))

	require.NoError(t, eng.Backup(schema.KeyLeads))
	require.NoError(t, st.Set(schema.KeyLeads, []byte(`["v2"]`)))
	require.NoError(t, eng.RestoreBackup(schema.KeyLeads))

	v, err := st.Get(schema.KeyLeads)
	require.NoError(t, err)
	assert.Equal(t, `["v1"]`, string(v))
}

func TestRemove(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, eng.SaveAwait(context.Background(), schema.KeyLeads, []any{}))
	require.Positive(t, eng.Monitor().TrackedUsage())

	require.NoError(t, eng.Remove(schema.KeyLeads))
	_, err := st.Get(schema.KeyLeads)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, eng.Monitor().TrackedUsage())
}

func TestSnapshot(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	require.NoError(t, eng.SaveAwait(context.Background(), schema.KeyLeads, []any{}))

	snap, err := eng.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snap.Keys, schema.KeyLeads)
	assert.Positive(t, snap.TrackedUsage)
}

func TestTypedLoad(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	require.NoError(t, st.Set(schema.KeyLeads, envelope(t, validLeadJSON())))

	leads, result := Load(context.Background(), eng, schema.KeyLeads, []model.Lead{}, DefaultLoadOptions())
	require.True(t, result.Success)
	require.Len(t, leads, 1)
	assert.Equal(t, "Acme", leads[0].ClientName)
	assert.Equal(t, "555-0100", leads[0].MobileNumbers[0].Number)
}

func TestShutdownIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore(0)
	eng := New(st, nil, nil, nil, nil, DefaultConfig())
	require.NoError(t, eng.Init(context.Background()))

	require.NoError(t, eng.Shutdown(context.Background()))
	require.NoError(t, eng.Shutdown(context.Background()))
}

func TestLoadMigratesBareLegacyRecord(t *testing.T) {
	eng, st, _ := newTestEngine(t)

	// The oldest stores held a single record object, not a collection.
	legacy := `{"clientName":"Acme","mobileNumber":"555-0100"}`
	require.NoError(t, st.Set(schema.KeyLeads, []byte(legacy)))

	result := eng.Load(context.Background(), schema.KeyLeads, []any{}, DefaultLoadOptions())
	require.True(t, result.Success, "load failed: %s", result.Error)
	assert.True(t, result.WasMigrated)

	items := result.Data.([]any)
	require.Len(t, items, 1)
	lead := items[0].(map[string]any)
	assert.Equal(t, "Acme", lead["clientName"])
	assert.Equal(t, model.StatusNew, lead["status"])
	numbers := lead["mobileNumbers"].([]any)
	require.Len(t, numbers, 1)
	assert.Equal(t, "555-0100", numbers[0].(map[string]any)["number"])

	raw, err := st.Get(schema.KeyLeads)
	require.NoError(t, err)
	env, ok := schema.ParseEnvelope(raw)
	require.True(t, ok, "persisted value is not an envelope")
	assert.Equal(t, schema.CurrentVersion, env.Version)
	assert.Equal(t, schema.LegacyVersion, env.MigratedFrom)
}
