package engine

import (
	"errors"

	"github.com/platinummonkey/leadstore/pkg/migrate"
	"github.com/platinummonkey/leadstore/pkg/sealed"
	"github.com/platinummonkey/leadstore/pkg/txn"
)

// The engine-level error taxonomy. Several categories are owned by lower
// layers and re-exported here so callers can match against one package.
var (
	// ErrCapacityExceeded means a write would exceed the storage quota.
	// Never retried, always surfaced.
	ErrCapacityExceeded = txn.ErrCapacityExceeded
	// ErrTransientWrite means a write failed through every retry attempt.
	ErrTransientWrite = txn.ErrRetriesExhausted
	// ErrEncryptionUnavailable means a sensitive key has no encryption
	// material. Fatal for the affected key; never a plaintext fallback.
	ErrEncryptionUnavailable = sealed.ErrNoKey
	// ErrDecryptionFailed means a sealed payload failed authentication.
	ErrDecryptionFailed = sealed.ErrDecrypt
	// ErrMigrationPathMissing means the version graph has no continuation
	// edge toward the target version.
	ErrMigrationPathMissing = migrate.ErrPathMissing

	// ErrCorruptionDetected means a payload is unparsable, cyclic, or
	// structurally violated. Recovered locally whenever possible.
	ErrCorruptionDetected = errors.New("engine: corruption detected")
	// ErrMigrationStepFailed means a migration step's own logic failed.
	ErrMigrationStepFailed = errors.New("engine: migration step failed")
	// ErrValidationFailed means structural or field-level validation failed.
	ErrValidationFailed = errors.New("engine: validation failed")
	// ErrRecoveryUnavailable means no backup exists or the backup itself is
	// corrupt.
	ErrRecoveryUnavailable = errors.New("engine: recovery unavailable")
	// ErrUnknownKey means the key is not registered in the schema registry.
	ErrUnknownKey = errors.New("engine: unknown storage key")
	// ErrClosed is returned by operations after Shutdown.
	ErrClosed = errors.New("engine: closed")
)
