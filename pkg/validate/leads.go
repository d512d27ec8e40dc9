package validate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/leadstore/pkg/migrate"
	"github.com/platinummonkey/leadstore/pkg/model"
)

// IsLead reports whether v is structurally a lead record: an object with a
// string id, a string clientName, and array-shaped contact and activity
// fields. It checks shape only; field content is ValidateLeadFields' job.
func IsLead(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if _, ok := m["id"].(string); !ok {
		return false
	}
	if _, ok := m["clientName"].(string); !ok {
		return false
	}
	if _, ok := m["mobileNumbers"].([]any); !ok {
		return false
	}
	if _, ok := m["activities"].([]any); !ok {
		return false
	}
	return true
}

// ValidateLeadFields checks one lead record field by field. Every finding is
// a human-readable message naming the field and the problem.
func ValidateLeadFields(v any) Result {
	m, ok := v.(map[string]any)
	if !ok {
		return Result{Errors: []string{"record is not an object"}}
	}

	var errs []string
	errs = append(errs, requireString(m, "id")...)
	errs = append(errs, requireString(m, "clientName")...)

	status, present := m["status"]
	switch {
	case !present:
		errs = append(errs, "required field status missing")
	default:
		s, ok := status.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("field status has wrong type %T, expected string", status))
		} else if !model.ValidLeadStatus(s) {
			errs = append(errs, fmt.Sprintf("invalid status %q", s))
		}
	}

	errs = append(errs, requireArray(m, "mobileNumbers")...)
	errs = append(errs, requireArray(m, "activities")...)

	for i, raw := range arrayField(m, "mobileNumbers") {
		entry, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("mobileNumbers[%d] is not an object", i))
			continue
		}
		if s, _ := entry["number"].(string); s == "" {
			errs = append(errs, fmt.Sprintf("mobileNumbers[%d] has no number", i))
		}
	}

	errs = append(errs, optionalString(m, "email")...)
	errs = append(errs, optionalString(m, "notes")...)
	errs = append(errs, optionalBool(m, "isArchived")...)
	errs = append(errs, optionalBool(m, "isPinned")...)
	errs = append(errs, optionalDate(m, "followUpDate")...)
	errs = append(errs, optionalDate(m, "createdAt")...)
	errs = append(errs, optionalDate(m, "updatedAt")...)

	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ValidateLeadSlice validates a whole leads collection.
func ValidateLeadSlice(items []any) Result {
	return validateSlice(items, "lead", ValidateLeadFields, leadRepairable)
}

// leadRepairable reports whether a broken lead still carries enough identity
// to be worth keeping: a client name, an id, or any contact number. A record
// with none of those is indistinguishable from garbage.
func leadRepairable(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	if s, _ := m["clientName"].(string); s != "" {
		return true
	}
	if s, _ := m["id"].(string); s != "" {
		return true
	}
	for _, raw := range arrayField(m, "mobileNumbers") {
		if entry, ok := raw.(map[string]any); ok {
			if s, _ := entry["number"].(string); s != "" {
				return true
			}
		}
	}
	if s, _ := m["mobileNumber"].(string); s != "" {
		return true
	}
	return false
}

// RepairLead returns a repaired copy of a broken lead, or false when the
// record has no usable identity left. The input is never mutated.
func RepairLead(v any) (map[string]any, bool) {
	if !leadRepairable(v) {
		return nil, false
	}
	next := copyMap(v.(map[string]any))

	if s, _ := next["id"].(string); s == "" {
		next["id"] = uuid.NewString()
	}
	if _, ok := next["clientName"].(string); !ok {
		next["clientName"] = ""
	}
	if s, _ := next["status"].(string); !model.ValidLeadStatus(s) {
		next["status"] = model.StatusNew
	}

	numbers := make([]any, 0)
	for _, raw := range arrayField(next, "mobileNumbers") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := entry["number"].(string); s == "" {
			continue
		}
		numbers = append(numbers, entry)
	}
	if s, _ := next["mobileNumber"].(string); s != "" && len(numbers) == 0 {
		numbers = append(numbers, map[string]any{
			"id":     uuid.NewString(),
			"number": s,
			"isMain": true,
			"label":  "primary",
		})
	}
	delete(next, "mobileNumber")
	next["mobileNumbers"] = numbers

	if _, ok := next["activities"].([]any); !ok {
		next["activities"] = []any{}
	}
	if _, ok := next["isArchived"].(bool); !ok {
		next["isArchived"] = false
	}
	if _, ok := next["isPinned"].(bool); !ok {
		next["isPinned"] = false
	}
	for _, field := range []string{"email", "notes"} {
		if val, present := next[field]; present {
			if _, ok := val.(string); !ok {
				delete(next, field)
			}
		}
	}
	for _, field := range []string{"followUpDate", "createdAt", "updatedAt"} {
		repairDateField(next, field)
	}

	return next, true
}

// RepairLeadSlice repairs a leads collection, dropping unrepairable records.
func RepairLeadSlice(items []any) RepairOutcome {
	return repairSlice(items, "lead", ValidateLeadFields, RepairLead)
}

// repairDateField re-normalizes a date field in place on the copy, dropping
// it entirely when it is neither a string nor normalizable.
func repairDateField(m map[string]any, field string) {
	val, present := m[field]
	if !present {
		return
	}
	s, ok := val.(string)
	if !ok {
		delete(m, field)
		return
	}
	normalized, ok := migrate.NormalizeDate(s)
	if !ok {
		delete(m, field)
		return
	}
	m[field] = normalized
}

func requireString(m map[string]any, field string) []string {
	val, present := m[field]
	if !present {
		return []string{fmt.Sprintf("required field %s missing", field)}
	}
	if s, ok := val.(string); !ok {
		return []string{fmt.Sprintf("field %s has wrong type %T, expected string", field, val)}
	} else if s == "" {
		return []string{fmt.Sprintf("required field %s is empty", field)}
	}
	return nil
}

func requireArray(m map[string]any, field string) []string {
	val, present := m[field]
	if !present {
		return []string{fmt.Sprintf("required field %s missing", field)}
	}
	if _, ok := val.([]any); !ok {
		return []string{fmt.Sprintf("field %s has wrong type %T, expected array", field, val)}
	}
	return nil
}

func optionalString(m map[string]any, field string) []string {
	val, present := m[field]
	if !present {
		return nil
	}
	if _, ok := val.(string); !ok {
		return []string{fmt.Sprintf("field %s has wrong type %T, expected string", field, val)}
	}
	return nil
}

func optionalBool(m map[string]any, field string) []string {
	val, present := m[field]
	if !present {
		return nil
	}
	if _, ok := val.(bool); !ok {
		return []string{fmt.Sprintf("field %s has wrong type %T, expected bool", field, val)}
	}
	return nil
}

func optionalDate(m map[string]any, field string) []string {
	val, present := m[field]
	if !present {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		return []string{fmt.Sprintf("field %s has wrong type %T, expected string", field, val)}
	}
	if s == "" {
		return nil
	}
	if _, err := time.Parse(model.DateFormat, s); err != nil {
		return []string{fmt.Sprintf("field %s has invalid date format %q", field, s)}
	}
	return nil
}

func arrayField(m map[string]any, field string) []any {
	s, _ := m[field].([]any)
	return s
}
