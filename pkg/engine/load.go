package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/leadstore/pkg/notify"
	"github.com/platinummonkey/leadstore/pkg/observability"
	"github.com/platinummonkey/leadstore/pkg/schema"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/store"
	"github.com/platinummonkey/leadstore/pkg/txn"
	"github.com/platinummonkey/leadstore/pkg/validate"
)

// LoadOptions gate the recovery machinery of a single Load.
type LoadOptions struct {
	// AllowMigration runs registered migrations when the stored version is
	// behind the target.
	AllowMigration bool
	// AllowRepair attempts record-level repair when validation fails.
	AllowRepair bool
	// AllowBackupRecovery restores from the shadow backup key when the
	// primary value is unusable.
	AllowBackupRecovery bool
	// StrictValidation makes validation failure fatal instead of triggering
	// repair and recovery.
	StrictValidation bool
	// NotifyUser emits one notification per recoverable event.
	NotifyUser bool
	// CreateBackupBeforeMigration snapshots the stored value before the
	// first migration step.
	CreateBackupBeforeMigration bool
}

// DefaultLoadOptions returns the default gates: everything allowed, strict
// validation off.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		AllowMigration:              true,
		AllowRepair:                 true,
		AllowBackupRecovery:         true,
		StrictValidation:            false,
		NotifyUser:                  true,
		CreateBackupBeforeMigration: true,
	}
}

// LoadResult is the terminal state of a Load. It is always returned, never
// panicked: callers inspect Success and degrade gracefully.
type LoadResult struct {
	Success           bool     `json:"success"`
	Data              any      `json:"data"`
	Error             string   `json:"error,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	WasMigrated       bool     `json:"wasMigrated"`
	WasRecovered      bool     `json:"wasRecovered"`
	ValidationErrors  []string `json:"validationErrors,omitempty"`
	RecoveryAttempted bool     `json:"recoveryAttempted"`
}

// Load runs the full orchestration pipeline for key: fetch, decrypt, detect
// version, migrate, sanitize, integrity-check, validate, then repair, backup
// recovery, or default fallback in that order, persisting the result back
// when migration or recovery changed it. A nil/absent stored value succeeds
// with defaultValue. Storage, decryption, and migration failures are hard;
// corruption and validation failures are recovered locally whenever the
// options allow.
func (e *StoreEngine) Load(ctx context.Context, key string, defaultValue any, opts LoadOptions) LoadResult {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.Load")
	span.SetAttributes(attribute.String("leadstore.key", key))
	defer span.End()

	result := e.load(ctx, key, defaultValue, opts)

	outcome := "success"
	switch {
	case !result.Success:
		outcome = "failed"
		span.SetStatus(codes.Error, result.Error)
	case result.WasRecovered:
		outcome = "recovered"
	case result.WasMigrated:
		outcome = "migrated"
	}
	span.SetAttributes(
		attribute.String("leadstore.outcome", outcome),
		attribute.Bool("leadstore.migrated", result.WasMigrated),
		attribute.Bool("leadstore.recovered", result.WasRecovered),
	)
	if e.metrics != nil {
		e.metrics.Loads.WithLabelValues(outcome).Inc()
		e.metrics.LoadDuration.Observe(time.Since(start).Seconds())
	}
	return result
}

func (e *StoreEngine) load(ctx context.Context, key string, defaultValue any, opts LoadOptions) LoadResult {
	log := e.log.WithKey(key)
	result := LoadResult{}

	// Fetch. A storage failure is surfaced, never silently defaulted.
	raw, err := e.fetch(key)
	if err != nil {
		if errors.Is(err, ErrDecryptionFailed) || errors.Is(err, ErrEncryptionUnavailable) {
			// No plaintext fallback for sensitive keys.
			return e.failed(result, err)
		}
		return e.failed(result, fmt.Errorf("failed to read %s: %w", key, err))
	}

	// Empty: nothing stored is a clean first run, not corruption.
	if raw == nil {
		result.Success = true
		result.Data = defaultValue
		return result
	}

	// Detect version. An envelope carries its own version; bare JSON is a
	// legacy value. Unparsable bytes skip straight to recovery.
	value, version, decodeErr := decodePayload(raw)
	corrupt := decodeErr != nil
	if corrupt {
		log.WithError(decodeErr).Warn("stored payload is unparsable")
		result.Warnings = append(result.Warnings, fmt.Sprintf("stored payload is unparsable: %v", decodeErr))
	}
	migratedFrom := version
	target := e.registry.VersionOf(key)

	// Migrate.
	if !corrupt && opts.AllowMigration && version != target {
		mres := e.migrator.Run(key, value, version, target, opts.CreateBackupBeforeMigration)
		result.Warnings = append(result.Warnings, mres.Warnings...)
		if !mres.Success {
			return e.failed(result, fmt.Errorf("%w: %s", ErrMigrationStepFailed,
				strings.Join(mres.Errors, "; ")))
		}
		result.Warnings = append(result.Warnings, mres.Errors...)
		value = mres.Data
		result.WasMigrated = true
		if e.metrics != nil {
			e.metrics.Migrations.Inc()
		}
		e.notify(opts, fmt.Sprintf("your %s data was upgraded from version %s to %s",
			key, migratedFrom, target), notify.SeverityInfo)
	}

	// Sanitize. Hook errors are advisory.
	if !corrupt {
		if sanitized, err := e.sanitize(key, value); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("sanitizer: %v", err))
		} else {
			value = sanitized
		}
	}

	// Integrity. A critical finding means the value cannot be trusted at
	// all; recovery is the only way forward.
	if !corrupt {
		integrity := validate.CheckIntegrity(value, len(raw))
		result.Warnings = append(result.Warnings, integrity.Warnings...)
		if !integrity.OK {
			log.Warnf("integrity check failed: %s", strings.Join(integrity.Critical, "; "))
			result.Warnings = append(result.Warnings, integrity.Critical...)
			corrupt = true
		}
	}

	// Validate, then repair.
	if !corrupt {
		validator, known := validate.ForKind(e.registry.KindOf(key))
		if !known {
			// Unregistered keys carry no entity schema; the decoded value
			// stands as-is.
			result.Success = true
			result.Data = value
			e.finish(ctx, key, &result, value, migratedFrom, opts)
			return result
		}

		items, isArray := value.([]any)
		if isArray {
			vres := validator.ValidateSlice(items)
			if vres.Valid {
				result.Success = true
				result.Data = value
				e.finish(ctx, key, &result, value, migratedFrom, opts)
				return result
			}

			result.ValidationErrors = vres.Errors
			result.Warnings = append(result.Warnings, vres.Warnings...)
			log.Warnf("validation failed with %d errors", len(vres.Errors))

			if opts.StrictValidation {
				return e.failed(result, fmt.Errorf("%w: %s", ErrValidationFailed,
					strings.Join(vres.Errors, "; ")))
			}

			if opts.AllowRepair && vres.Repairable {
				outcome := validator.RepairSlice(items)
				if len(outcome.Repaired) > 0 {
					result.Success = true
					result.Data = outcome.Repaired
					result.Warnings = append(result.Warnings, outcome.Errors...)
					if outcome.Removed > 0 {
						result.Warnings = append(result.Warnings,
							fmt.Sprintf("%d unrepairable records dropped", outcome.Removed))
					}
					if e.metrics != nil {
						e.metrics.Repairs.Inc()
					}
					e.notify(opts, fmt.Sprintf(
						"some of your %s data was damaged and has been repaired (%d records removed)",
						key, outcome.Removed), notify.SeverityWarning)
					e.persistChanged(ctx, key, &result, outcome.Repaired, migratedFrom, opts)
					e.cacheResult(key, result.Data)
					return result
				}
				result.Warnings = append(result.Warnings, outcome.Errors...)
			}
		} else {
			result.ValidationErrors = append(result.ValidationErrors, "payload is not an array")
			if opts.StrictValidation {
				return e.failed(result, fmt.Errorf("%w: payload is not an array", ErrValidationFailed))
			}
		}
	}

	// Backup recovery.
	if opts.AllowBackupRecovery {
		result.RecoveryAttempted = true
		if restored, ok := e.recoverFromBackup(key, log); ok {
			result.Success = true
			result.Data = restored
			result.WasRecovered = true
			if e.metrics != nil {
				e.metrics.Recoveries.Inc()
			}
			e.notify(opts, fmt.Sprintf(
				"your %s data was corrupted and has been restored from the last backup", key),
				notify.SeverityWarning)
			e.persistChanged(ctx, key, &result, restored, migratedFrom, opts)
			e.cacheResult(key, restored)
			return result
		}
		result.Warnings = append(result.Warnings, "backup recovery unavailable")
	}

	// Fallback: corrupted beyond repair and recovery, degrade to defaults.
	result.Success = true
	result.Data = defaultValue
	result.Warnings = append(result.Warnings,
		"stored data was corrupt and unrecoverable; defaults were used")
	if e.metrics != nil {
		e.metrics.Fallbacks.Inc()
	}
	e.notify(opts, fmt.Sprintf(
		"your %s data could not be recovered and has been reset to defaults", key),
		notify.SeverityError)
	return result
}

// finish handles the success tail shared by the valid and unknown-key paths:
// persist-if-changed plus snapshot caching.
func (e *StoreEngine) finish(ctx context.Context, key string, result *LoadResult, value any, migratedFrom string, opts LoadOptions) {
	if result.WasMigrated {
		e.persistChanged(ctx, key, result, value, migratedFrom, opts)
	}
	e.cacheResult(key, value)
}

// persistChanged writes the re-wrapped, current-version value back after
// migration, repair, or recovery altered it. A persist failure does not fail
// the load; the in-memory data is good and the next save will retry.
func (e *StoreEngine) persistChanged(ctx context.Context, key string, result *LoadResult, value any, migratedFrom string, opts LoadOptions) {
	data, err := json.Marshal(value)
	if err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("failed to serialize for write-back: %v", err))
		return
	}
	env := e.registry.Wrap(data, key)
	if result.WasMigrated && migratedFrom != env.Version {
		env.MigratedFrom = migratedFrom
	}
	if err := e.writer.EnqueueAwait(ctx, key, env, txn.Options{}); err != nil {
		e.log.WithKey(key).WithError(err).Warn("write-back after load failed")
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("failed to persist updated data: %v", err))
	}
}

func (e *StoreEngine) cacheResult(key string, value any) {
	if data, err := json.Marshal(value); err == nil {
		e.cache.Add(key, data)
	}
}

// fetch reads and, for sensitive keys, unseals the raw payload. Absent keys
// return nil bytes and no error.
func (e *StoreEngine) fetch(key string) ([]byte, error) {
	raw, err := e.st.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sealed.IsSealed(raw) {
		if !e.cipher.HasKey() {
			return nil, fmt.Errorf("sealed value for %s: %w", key, ErrEncryptionUnavailable)
		}
		plaintext, err := e.cipher.Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to unseal %s: %w", key, err)
		}
		return plaintext, nil
	}
	return raw, nil
}

func (e *StoreEngine) sanitize(key string, value any) (any, error) {
	e.mu.Lock()
	fn := e.sanitizers[key]
	e.mu.Unlock()
	if fn == nil {
		return value, nil
	}
	return fn(value)
}

// recoverFromBackup reads the shadow backup, unwraps it, and accepts it only
// when it passes the same integrity check as primary data.
func (e *StoreEngine) recoverFromBackup(key string, log *observability.Logger) (any, bool) {
	raw, err := e.fetch(schema.BackupKey(key))
	if err != nil || raw == nil {
		return nil, false
	}
	value, _, err := decodePayload(raw)
	if err != nil {
		log.Warnf("backup for %s is unparsable: %v", key, err)
		return nil, false
	}
	integrity := validate.CheckIntegrity(value, len(raw))
	if !integrity.OK {
		log.Warnf("backup for %s fails integrity: %s", key, strings.Join(integrity.Critical, "; "))
		return nil, false
	}
	return value, true
}

func (e *StoreEngine) failed(result LoadResult, err error) LoadResult {
	result.Success = false
	result.Error = err.Error()
	e.log.WithError(err).Error("load failed")
	return result
}

func (e *StoreEngine) notify(opts LoadOptions, message string, severity notify.Severity) {
	if opts.NotifyUser {
		e.notifier.Notify(message, severity)
	}
}

// decodePayload decodes raw bytes into a value and its schema version. An
// envelope contributes its own version; bare JSON is a legacy value at the
// pre-envelope version.
func decodePayload(raw []byte) (any, string, error) {
	if env, ok := schema.ParseEnvelope(raw); ok {
		var value any
		if err := json.Unmarshal(env.Data, &value); err != nil {
			return nil, env.Version, fmt.Errorf("envelope data is unparsable: %w", err)
		}
		return value, env.Version, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, schema.LegacyVersion, err
	}
	return value, schema.LegacyVersion, nil
}

// Load is the typed wrapper over StoreEngine.Load: the orchestrated result
// is decoded into T, falling back to defaultValue when decoding fails.
func Load[T any](ctx context.Context, e *StoreEngine, key string, defaultValue T, opts LoadOptions) (T, LoadResult) {
	result := e.Load(ctx, key, defaultValue, opts)
	if !result.Success || result.Data == nil {
		return defaultValue, result
	}
	if typed, ok := result.Data.(T); ok {
		return typed, result
	}
	data, err := json.Marshal(result.Data)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to re-serialize loaded data: %v", err))
		return defaultValue, result
	}
	var typed T
	if err := json.Unmarshal(data, &typed); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("loaded data does not fit requested type: %v", err))
		return defaultValue, result
	}
	return typed, result
}
