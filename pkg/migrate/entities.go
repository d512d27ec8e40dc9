package migrate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/leadstore/pkg/model"
)

// The entity migrations below take decoded JSON (a slice of objects per
// collection key) and return the same collection in the current shape. Each
// rule is idempotent-safe: a record already in the target shape passes
// through unchanged, so migrating twice never double-wraps or re-synthesizes
// fields. Inputs are never mutated; every record is rebuilt on a copy.

// MigrateLeads migrates the leads collection from the legacy shape:
// generated ids, singular mobileNumber string to a mobileNumbers array with
// one primary entry, defaulted boolean flags, empty activity logs, and
// normalized dates. Unparsable dates are reported but never drop a record.
// The oldest stores held a single bare record instead of a collection; that
// shape is accepted as a one-element collection.
func MigrateLeads(data any) StepResult {
	items, ok := asSlice(data)
	if !ok {
		lead, isMap := asMap(data)
		if !isMap {
			return StepResult{Errors: []string{"leads payload is not an array"}}
		}
		items = []any{lead}
	}

	out := make([]any, 0, len(items))
	var errs []string
	for i, item := range items {
		lead, ok := asMap(item)
		if !ok {
			errs = append(errs, fmt.Sprintf("lead %d is not an object, dropped", i))
			continue
		}
		next := cloneMap(lead)

		if stringField(next, "id") == "" {
			next["id"] = uuid.NewString()
		}

		// Legacy singular contact number becomes an array with one primary
		// entry. An existing mobileNumbers array means the record was
		// already migrated; the legacy field is only cleaned up.
		if _, has := next["mobileNumbers"].([]any); !has {
			numbers := []any{}
			if number := stringField(next, "mobileNumber"); number != "" {
				numbers = append(numbers, map[string]any{
					"id":     uuid.NewString(),
					"number": number,
					"isMain": true,
					"label":  "primary",
				})
			}
			next["mobileNumbers"] = numbers
		}
		delete(next, "mobileNumber")

		if stringField(next, "status") == "" {
			next["status"] = model.StatusNew
		}
		if _, ok := next["isArchived"].(bool); !ok {
			next["isArchived"] = false
		}
		if _, ok := next["isPinned"].(bool); !ok {
			next["isPinned"] = false
		}
		if _, ok := next["activities"].([]any); !ok {
			next["activities"] = []any{}
		}

		for _, field := range []string{"followUpDate", "createdAt", "updatedAt"} {
			raw := stringField(next, field)
			if raw == "" {
				continue
			}
			normalized, ok := NormalizeDate(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("lead %d: unparsable %s %q", i, field, raw))
				continue
			}
			next[field] = normalized
		}

		out = append(out, next)
	}

	return StepResult{Success: true, Data: out, Errors: errs}
}

// MigrateColumns migrates the column configuration: generated ids, silently
// clamped widths, and silently defaulted types. Width and type repairs are
// cosmetic, so they produce no errors.
func MigrateColumns(data any) StepResult {
	items, ok := asSlice(data)
	if !ok {
		return StepResult{Errors: []string{"column config payload is not an array"}}
	}

	out := make([]any, 0, len(items))
	var errs []string
	for i, item := range items {
		col, ok := asMap(item)
		if !ok {
			errs = append(errs, fmt.Sprintf("column %d is not an object, dropped", i))
			continue
		}
		next := cloneMap(col)

		if stringField(next, "id") == "" {
			next["id"] = uuid.NewString()
		}
		next["width"] = float64(model.ClampWidth(intField(next, "width")))
		if !model.ValidColumnType(stringField(next, "type")) {
			next["type"] = model.ColumnTypeText
		}
		if _, ok := next["visible"].(bool); !ok {
			next["visible"] = true
		}
		if _, ok := next["order"].(float64); !ok {
			next["order"] = float64(i)
		}

		out = append(out, next)
	}

	return StepResult{Success: true, Data: out, Errors: errs}
}

// MigrateHeaderFields migrates the header configuration, defaulting
// visibility, pinning, and ordering.
func MigrateHeaderFields(data any) StepResult {
	items, ok := asSlice(data)
	if !ok {
		return StepResult{Errors: []string{"header config payload is not an array"}}
	}

	out := make([]any, 0, len(items))
	var errs []string
	for i, item := range items {
		field, ok := asMap(item)
		if !ok {
			errs = append(errs, fmt.Sprintf("header field %d is not an object, dropped", i))
			continue
		}
		next := cloneMap(field)

		if stringField(next, "label") == "" {
			next["label"] = stringField(next, "field")
		}
		if _, ok := next["visible"].(bool); !ok {
			next["visible"] = true
		}
		if _, ok := next["pinned"].(bool); !ok {
			next["pinned"] = false
		}
		if _, ok := next["order"].(float64); !ok {
			next["order"] = float64(i)
		}

		out = append(out, next)
	}

	return StepResult{Success: true, Data: out, Errors: errs}
}

// MigrateSavedViews migrates saved view presets: generated ids, defaulted
// filter lists and flags, normalized creation dates.
func MigrateSavedViews(data any) StepResult {
	items, ok := asSlice(data)
	if !ok {
		return StepResult{Errors: []string{"saved views payload is not an array"}}
	}

	out := make([]any, 0, len(items))
	var errs []string
	for i, item := range items {
		view, ok := asMap(item)
		if !ok {
			errs = append(errs, fmt.Sprintf("saved view %d is not an object, dropped", i))
			continue
		}
		next := cloneMap(view)

		if stringField(next, "id") == "" {
			next["id"] = uuid.NewString()
		}
		if _, ok := next["statuses"].([]any); !ok {
			next["statuses"] = []any{}
		}
		if _, ok := next["columns"].([]any); !ok {
			next["columns"] = []any{}
		}
		if _, ok := next["sortDesc"].(bool); !ok {
			next["sortDesc"] = false
		}
		if _, ok := next["isDefault"].(bool); !ok {
			next["isDefault"] = false
		}

		if raw := stringField(next, "createdAt"); raw != "" {
			normalized, ok := NormalizeDate(raw)
			if !ok {
				errs = append(errs, fmt.Sprintf("saved view %d: unparsable createdAt %q", i, raw))
			} else {
				next["createdAt"] = normalized
			}
		}

		out = append(out, next)
	}

	return StepResult{Success: true, Data: out, Errors: errs}
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a numeric field that may arrive as a JSON number or a
// legacy stringified number. Returns 0 when absent or unusable.
func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}
