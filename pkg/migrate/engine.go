package migrate

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/store"
)

var (
	// ErrPathMissing means no registered migration continues the version
	// chain toward the target. Surfaced as a hard failure, never silently
	// skipped.
	ErrPathMissing = errors.New("migrate: no migration path")
	// ErrCycle means path resolution exceeded the hop bound, which only
	// happens with a cyclic registration.
	ErrCycle = errors.New("migrate: migration path exceeds hop limit")
	// ErrNoBackup is returned by Rollback when no pre-migration backup
	// exists.
	ErrNoBackup = errors.New("migrate: no backup available")
)

// maxHops bounds migration path resolution against cyclic registrations.
const maxHops = 10

// StepResult is the outcome of one migration function.
type StepResult struct {
	Success bool
	Data    any
	Errors  []string
}

// Descriptor is one edge in a key's version graph.
type Descriptor struct {
	FromVersion string
	ToVersion   string
	Migrate     func(data any) StepResult
	Description string
}

// Result is the outcome of running a migration chain.
type Result struct {
	Success      bool
	Data         any
	MigratedFrom string
	MigratedTo   string
	Errors       []string
	Warnings     []string
}

// Engine resolves and applies chains of registered per-version migrations,
// with a best-effort pre-migration backup for rollback.
type Engine struct {
	st  store.Store
	log *observability.Logger
	reg map[string][]Descriptor
}

// NewEngine creates a migration engine with the built-in entity migrations
// registered. The store is used only for backup and rollback.
func NewEngine(st store.Store, log *observability.Logger) *Engine {
	if log == nil {
		log = observability.Nop()
	}
	e := &Engine{
		st:  st,
		log: log.Component("migrate"),
		reg: make(map[string][]Descriptor),
	}
	e.registerDefaults()
	return e
}

func (e *Engine) registerDefaults() {
	e.Register(schema.KeyLeads, Descriptor{
		FromVersion: schema.LegacyVersion,
		ToVersion:   schema.CurrentVersion,
		Migrate:     MigrateLeads,
		Description: "singular contact number to contact array, generated ids, defaulted flags",
	})
	e.Register(schema.KeyColumnConfig, Descriptor{
		FromVersion: schema.LegacyVersion,
		ToVersion:   schema.CurrentVersion,
		Migrate:     MigrateColumns,
		Description: "generated ids, clamped widths, defaulted types",
	})
	e.Register(schema.KeyHeaderConfig, Descriptor{
		FromVersion: schema.LegacyVersion,
		ToVersion:   schema.CurrentVersion,
		Migrate:     MigrateHeaderFields,
		Description: "defaulted visibility and ordering",
	})
	e.Register(schema.KeySavedViews, Descriptor{
		FromVersion: schema.LegacyVersion,
		ToVersion:   schema.CurrentVersion,
		Migrate:     MigrateSavedViews,
		Description: "generated ids, defaulted filters and flags",
	})
}

// Register adds a migration edge for key.
func (e *Engine) Register(key string, d Descriptor) {
	e.reg[key] = append(e.reg[key], d)
}

// Run migrates data for key from one version to another by walking the
// registered version graph. The chain aborts on the first failing step,
// reporting how far it got. When createBackup is set, the currently persisted
// value is snapshotted before the first step; a backup failure is a warning,
// not a blocker.
func (e *Engine) Run(key string, data any, fromVersion, toVersion string, createBackup bool) Result {
	result := Result{
		Data:         data,
		MigratedFrom: fromVersion,
		MigratedTo:   fromVersion,
	}

	if fromVersion == toVersion {
		result.Success = true
		result.Warnings = append(result.Warnings, "no migration needed")
		return result
	}

	path, err := e.resolvePath(key, fromVersion, toVersion)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if createBackup {
		if err := e.Backup(key); err != nil {
			// Proceeding without a backup trades recoverability for
			// availability; the warning keeps the trade-off visible.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("pre-migration backup failed: %v", err))
		}
	}

	cursor := data
	for _, step := range path {
		e.log.WithKey(key).Infof("migrating %s -> %s: %s",
			step.FromVersion, step.ToVersion, step.Description)

		stepResult := step.Migrate(cursor)
		result.Errors = append(result.Errors, stepResult.Errors...)
		if !stepResult.Success {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"migration step %s -> %s failed", step.FromVersion, step.ToVersion))
			return result
		}
		cursor = stepResult.Data
		result.MigratedTo = step.ToVersion
	}

	result.Success = true
	result.Data = cursor
	return result
}

// resolvePath walks descriptor edges from fromVersion until toVersion.
func (e *Engine) resolvePath(key, fromVersion, toVersion string) ([]Descriptor, error) {
	descriptors := e.reg[key]
	var path []Descriptor
	cursor := fromVersion

	for cursor != toVersion {
		if len(path) >= maxHops {
			return nil, fmt.Errorf("%w (%d hops from %s)", ErrCycle, maxHops, fromVersion)
		}
		next, ok := findEdge(descriptors, cursor)
		if !ok {
			return nil, fmt.Errorf("%w for %s: stuck at version %s targeting %s",
				ErrPathMissing, key, cursor, toVersion)
		}
		path = append(path, next)
		cursor = next.ToVersion
	}
	return path, nil
}

func findEdge(descriptors []Descriptor, from string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.FromVersion == from {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Backup snapshots the currently persisted value of key to its backup key.
// Nothing persisted is not an error; there is simply nothing to back up.
func (e *Engine) Backup(key string) error {
	current, err := e.st.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s for backup: %w", key, err)
	}
	if err := e.st.Set(schema.BackupKey(key), current); err != nil {
		return fmt.Errorf("failed to write backup of %s: %w", key, err)
	}
	return nil
}

// Rollback restores the pre-migration backup of key verbatim.
func (e *Engine) Rollback(key string) error {
	backup, err := e.st.Get(schema.BackupKey(key))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w for %s", ErrNoBackup, key)
	}
	if err != nil {
		return fmt.Errorf("failed to read backup of %s: %w", key, err)
	}
	if err := e.st.Set(key, backup); err != nil {
		return fmt.Errorf("failed to restore %s from backup: %w", key, err)
	}
	e.log.WithKey(key).Warn("rolled back to pre-migration backup")
	return nil
}
