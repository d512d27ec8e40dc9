package validate

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/leadstore/pkg/model"
)

// IsColumn reports whether v is structurally a column definition.
func IsColumn(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m["id"].(string); !ok {
		return false
	}
	if _, ok := m["field"].(string); !ok {
		return false
	}
	return true
}

// ValidateColumnFields checks one column definition.
func ValidateColumnFields(v any) Result {
	m, ok := v.(map[string]any)
	if !ok {
		return Result{Errors: []string{"record is not an object"}}
	}

	var errs []string
	errs = append(errs, requireString(m, "id")...)
	errs = append(errs, requireString(m, "field")...)
	errs = append(errs, optionalString(m, "label")...)
	errs = append(errs, optionalBool(m, "visible")...)

	if val, present := m["type"]; present {
		s, ok := val.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("field type has wrong type %T, expected string", val))
		} else if !model.ValidColumnType(s) {
			errs = append(errs, fmt.Sprintf("invalid column type %q", s))
		}
	}
	if val, present := m["width"]; present {
		w, ok := val.(float64)
		if !ok {
			errs = append(errs, fmt.Sprintf("field width has wrong type %T, expected number", val))
		} else if int(w) < model.MinColumnWidth || int(w) > model.MaxColumnWidth {
			errs = append(errs, fmt.Sprintf("width %v outside %d-%d",
				w, model.MinColumnWidth, model.MaxColumnWidth))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ValidateColumnSlice validates a column configuration collection.
func ValidateColumnSlice(items []any) Result {
	return validateSlice(items, "column", ValidateColumnFields, columnRepairable)
}

// columnRepairable requires a field name; everything else about a column can
// be regenerated, but without a field it points at nothing.
func columnRepairable(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	s, _ := m["field"].(string)
	return s != ""
}

// RepairColumn returns a repaired copy of a column definition, or false when
// it names no field.
func RepairColumn(v any) (map[string]any, bool) {
	if !columnRepairable(v) {
		return nil, false
	}
	next := copyMap(v.(map[string]any))

	if s, _ := next["id"].(string); s == "" {
		next["id"] = uuid.NewString()
	}
	if s, _ := next["label"].(string); s == "" {
		next["label"] = next["field"]
	}
	if s, _ := next["type"].(string); !model.ValidColumnType(s) {
		next["type"] = model.ColumnTypeText
	}
	switch w := next["width"].(type) {
	case float64:
		next["width"] = float64(model.ClampWidth(int(w)))
	default:
		next["width"] = float64(model.DefaultColumnWidth)
	}
	if _, ok := next["visible"].(bool); !ok {
		next["visible"] = true
	}

	return next, true
}

// RepairColumnSlice repairs a column configuration collection.
func RepairColumnSlice(items []any) RepairOutcome {
	return repairSlice(items, "column", ValidateColumnFields, RepairColumn)
}

// IsHeaderField reports whether v is structurally a header field entry.
func IsHeaderField(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["field"].(string)
	return ok
}

// ValidateHeaderFieldFields checks one header field entry.
func ValidateHeaderFieldFields(v any) Result {
	m, ok := v.(map[string]any)
	if !ok {
		return Result{Errors: []string{"record is not an object"}}
	}

	var errs []string
	errs = append(errs, requireString(m, "field")...)
	errs = append(errs, optionalString(m, "label")...)
	errs = append(errs, optionalBool(m, "visible")...)
	errs = append(errs, optionalBool(m, "pinned")...)

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ValidateHeaderFieldSlice validates the header configuration collection.
func ValidateHeaderFieldSlice(items []any) Result {
	return validateSlice(items, "header field", ValidateHeaderFieldFields, headerFieldRepairable)
}

func headerFieldRepairable(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	s, _ := m["field"].(string)
	return s != ""
}

// RepairHeaderField returns a repaired copy of a header field entry, or
// false when it names no field.
func RepairHeaderField(v any) (map[string]any, bool) {
	if !headerFieldRepairable(v) {
		return nil, false
	}
	next := copyMap(v.(map[string]any))

	if s, _ := next["label"].(string); s == "" {
		next["label"] = next["field"]
	}
	if _, ok := next["visible"].(bool); !ok {
		next["visible"] = true
	}
	if _, ok := next["pinned"].(bool); !ok {
		next["pinned"] = false
	}

	return next, true
}

// RepairHeaderFieldSlice repairs the header configuration collection.
func RepairHeaderFieldSlice(items []any) RepairOutcome {
	return repairSlice(items, "header field", ValidateHeaderFieldFields, RepairHeaderField)
}

// IsSavedView reports whether v is structurally a saved view preset.
func IsSavedView(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m["id"].(string); !ok {
		return false
	}
	_, ok = m["name"].(string)
	return ok
}

// ValidateSavedViewFields checks one saved view preset.
func ValidateSavedViewFields(v any) Result {
	m, ok := v.(map[string]any)
	if !ok {
		return Result{Errors: []string{"record is not an object"}}
	}

	var errs []string
	errs = append(errs, requireString(m, "id")...)
	errs = append(errs, requireString(m, "name")...)
	errs = append(errs, optionalString(m, "search")...)
	errs = append(errs, optionalString(m, "sortField")...)
	errs = append(errs, optionalBool(m, "sortDesc")...)
	errs = append(errs, optionalBool(m, "isDefault")...)
	errs = append(errs, optionalDate(m, "createdAt")...)

	if val, present := m["statuses"]; present {
		statuses, ok := val.([]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("field statuses has wrong type %T, expected array", val))
		} else {
			for i, raw := range statuses {
				s, ok := raw.(string)
				if !ok || !model.ValidLeadStatus(s) {
					errs = append(errs, fmt.Sprintf("statuses[%d] is not a valid status", i))
				}
			}
		}
	}
	if val, present := m["columns"]; present {
		if _, ok := val.([]any); !ok {
			errs = append(errs, fmt.Sprintf("field columns has wrong type %T, expected array", val))
		}
	}

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ValidateSavedViewSlice validates the saved views collection.
func ValidateSavedViewSlice(items []any) Result {
	return validateSlice(items, "saved view", ValidateSavedViewFields, savedViewRepairable)
}

// savedViewRepairable requires a name; an unnamed view cannot be presented.
func savedViewRepairable(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	s, _ := m["name"].(string)
	return s != ""
}

// RepairSavedView returns a repaired copy of a saved view preset, or false
// when it has no name.
func RepairSavedView(v any) (map[string]any, bool) {
	if !savedViewRepairable(v) {
		return nil, false
	}
	next := copyMap(v.(map[string]any))

	if s, _ := next["id"].(string); s == "" {
		next["id"] = uuid.NewString()
	}

	statuses := make([]any, 0)
	for _, raw := range arrayField(next, "statuses") {
		if s, ok := raw.(string); ok && model.ValidLeadStatus(s) {
			statuses = append(statuses, s)
		}
	}
	next["statuses"] = statuses
	if _, ok := next["columns"].([]any); !ok {
		next["columns"] = []any{}
	}
	if _, ok := next["sortDesc"].(bool); !ok {
		next["sortDesc"] = false
	}
	if _, ok := next["isDefault"].(bool); !ok {
		next["isDefault"] = false
	}
	repairDateField(next, "createdAt")

	return next, true
}

// RepairSavedViewSlice repairs the saved views collection.
func RepairSavedViewSlice(items []any) RepairOutcome {
	return repairSlice(items, "saved view", ValidateSavedViewFields, RepairSavedView)
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
