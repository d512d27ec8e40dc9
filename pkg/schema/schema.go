package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Storage keys for the logical entity collections. Keys are the unit of
// versioning, locking, and backup.
const (
	KeyLeads        = "leads"
	KeyColumnConfig = "column_config"
	KeyHeaderConfig = "header_config"
	KeySavedViews   = "saved_views"
)

// Version constants. Values persisted before envelope wrapping was introduced
// carry no version marker and are treated as LegacyVersion.
const (
	CurrentVersion = "1.0"
	LegacyVersion  = "0.9"
)

// BackupSuffix is appended to a storage key to form its shadow backup key.
const BackupSuffix = "_backup"

// BackupKey returns the shadow key holding the last known-good snapshot of key.
func BackupKey(key string) string {
	return key + BackupSuffix
}

// IsBackupKey reports whether key is a shadow backup key.
func IsBackupKey(key string) bool {
	return strings.HasSuffix(key, BackupSuffix)
}

// Kind identifies one of the closed set of entity kinds managed by the engine.
type Kind int

const (
	KindUnknown Kind = iota
	KindLeads
	KindColumnConfig
	KindHeaderConfig
	KindSavedViews
)

func (k Kind) String() string {
	switch k {
	case KindLeads:
		return "leads"
	case KindColumnConfig:
		return "column_config"
	case KindHeaderConfig:
		return "header_config"
	case KindSavedViews:
		return "saved_views"
	default:
		return "unknown"
	}
}

// Metadata describes the current schema for one storage key. The registry is
// pure metadata; it performs no migration or validation itself.
type Metadata struct {
	Kind           Kind
	Version        string
	RequiredFields []string
	OptionalFields []string
	FieldTypes     map[string]string
	Description    string
}

// Envelope wraps every persisted value once the schema is current. Legacy
// values written by older code are the bare entity JSON with no envelope.
type Envelope struct {
	Version      string          `json:"version"`
	Data         json.RawMessage `json:"data"`
	Timestamp    string          `json:"timestamp"`
	MigratedFrom string          `json:"migratedFrom,omitempty"`
}

// Registry maps each logical storage key to its current schema metadata.
type Registry struct {
	byKey map[string]Metadata
}

// NewRegistry builds the registry for the closed set of entity kinds.
func NewRegistry() *Registry {
	r := &Registry{byKey: make(map[string]Metadata)}

	r.register(KeyLeads, Metadata{
		Kind:           KindLeads,
		Version:        CurrentVersion,
		RequiredFields: []string{"id", "clientName", "status", "mobileNumbers", "activities"},
		OptionalFields: []string{"email", "notes", "followUpDate", "isArchived", "isPinned", "createdAt", "updatedAt"},
		FieldTypes: map[string]string{
			"id": "string", "clientName": "string", "email": "string",
			"status": "string", "mobileNumbers": "array", "activities": "array",
			"notes": "string", "followUpDate": "string",
			"isArchived": "bool", "isPinned": "bool",
			"createdAt": "string", "updatedAt": "string",
		},
		Description: "lead/case records",
	})

	r.register(KeyColumnConfig, Metadata{
		Kind:           KindColumnConfig,
		Version:        CurrentVersion,
		RequiredFields: []string{"id", "field", "label"},
		OptionalFields: []string{"type", "width", "visible", "order"},
		FieldTypes: map[string]string{
			"id": "string", "field": "string", "label": "string",
			"type": "string", "width": "number", "visible": "bool", "order": "number",
		},
		Description: "lead table column configuration",
	})

	r.register(KeyHeaderConfig, Metadata{
		Kind:           KindHeaderConfig,
		Version:        CurrentVersion,
		RequiredFields: []string{"field", "label"},
		OptionalFields: []string{"visible", "pinned", "order"},
		FieldTypes: map[string]string{
			"field": "string", "label": "string",
			"visible": "bool", "pinned": "bool", "order": "number",
		},
		Description: "lead detail header configuration",
	})

	r.register(KeySavedViews, Metadata{
		Kind:           KindSavedViews,
		Version:        CurrentVersion,
		RequiredFields: []string{"id", "name"},
		OptionalFields: []string{"search", "statuses", "sortBy", "sortDesc", "columns", "isDefault", "createdAt"},
		FieldTypes: map[string]string{
			"id": "string", "name": "string", "search": "string",
			"statuses": "array", "sortBy": "string", "sortDesc": "bool",
			"columns": "array", "isDefault": "bool", "createdAt": "string",
		},
		Description: "saved filter/sort/column presets",
	})

	return r
}

func (r *Registry) register(key string, md Metadata) {
	r.byKey[key] = md
}

// VersionOf returns the latest known schema version for key, defaulting to
// the global current version for unregistered keys.
func (r *Registry) VersionOf(key string) string {
	if md, ok := r.byKey[key]; ok {
		return md.Version
	}
	return CurrentVersion
}

// MetadataFor returns the schema metadata registered for key.
func (r *Registry) MetadataFor(key string) (Metadata, bool) {
	md, ok := r.byKey[key]
	return md, ok
}

// KindOf returns the entity kind registered for key.
func (r *Registry) KindOf(key string) Kind {
	if md, ok := r.byKey[key]; ok {
		return md.Kind
	}
	return KindUnknown
}

// Keys returns all registered storage keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

// Wrap wraps data in a version envelope stamped with the current schema
// version for key.
func (r *Registry) Wrap(data json.RawMessage, key string) Envelope {
	return Envelope{
		Version:   r.VersionOf(key),
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// IsEnvelope duck-checks a decoded JSON value for the three envelope fields.
func IsEnvelope(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m["version"].(string); !ok {
		return false
	}
	if _, ok := m["data"]; !ok {
		return false
	}
	if _, ok := m["timestamp"].(string); !ok {
		return false
	}
	return true
}

// ParseEnvelope attempts to decode raw as a version envelope. The second
// return value reports whether raw actually was one; bare legacy values
// decode as JSON but fail the envelope duck check.
func ParseEnvelope(raw []byte) (*Envelope, bool) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}
	if !IsEnvelope(probe) {
		return nil, false
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	return &env, true
}

// CompareVersions compares two dotted-integer version strings, returning
// -1, 0, or 1. Shorter versions are zero-padded, so "1.10" sorts after "1.9"
// and "1.0" equals "1.0.0". Non-numeric segments are an error.
func CompareVersions(a, b string) (int, error) {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")

	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}

	for i := 0; i < n; i++ {
		var av, bv int
		var err error
		if i < len(as) {
			av, err = strconv.Atoi(as[i])
			if err != nil {
				return 0, fmt.Errorf("invalid version segment %q in %q", as[i], a)
			}
		}
		if i < len(bs) {
			bv, err = strconv.Atoi(bs[i])
			if err != nil {
				return 0, fmt.Errorf("invalid version segment %q in %q", bs[i], b)
			}
		}
		if av < bv {
			return -1, nil
		}
		if av > bv {
			return 1, nil
		}
	}
	return 0, nil
}
