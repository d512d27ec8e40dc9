// Package validate provides structural type guards, field validators, and
// best-effort repair for the entity collections managed by the engine, plus
// entity-independent integrity checks. Repair partitions a collection into
// kept-and-fixed versus dropped records; it never corrupts a record to keep
// it, and never mutates its input.
package validate

import (
	"strconv"

	"github.com/platinummonkey/leadstore/pkg/schema"
)

// Result is the outcome of a validation pass.
type Result struct {
	Valid      bool
	Errors     []string
	Warnings   []string
	Repairable bool
}

// RepairOutcome is the result of repairing a collection.
type RepairOutcome struct {
	Repaired []any
	Removed  int
	Errors   []string
}

// EntityValidator groups the per-kind validation and repair functions. The
// set of kinds is closed; ForKind is the only lookup.
type EntityValidator struct {
	// Is reports whether v structurally matches the entity shape.
	Is func(v any) bool
	// ValidateItem checks one record field by field.
	ValidateItem func(v any) Result
	// ValidateSlice checks a whole collection and reports repairability.
	ValidateSlice func(items []any) Result
	// RepairItem returns a repaired copy, or false when repair is
	// impossible.
	RepairItem func(v any) (map[string]any, bool)
	// RepairSlice partitions a collection into repaired survivors and
	// dropped records.
	RepairSlice func(items []any) RepairOutcome
}

var validators = map[schema.Kind]EntityValidator{
	schema.KindLeads: {
		Is:            IsLead,
		ValidateItem:  ValidateLeadFields,
		ValidateSlice: ValidateLeadSlice,
		RepairItem:    RepairLead,
		RepairSlice:   RepairLeadSlice,
	},
	schema.KindColumnConfig: {
		Is:            IsColumn,
		ValidateItem:  ValidateColumnFields,
		ValidateSlice: ValidateColumnSlice,
		RepairItem:    RepairColumn,
		RepairSlice:   RepairColumnSlice,
	},
	schema.KindHeaderConfig: {
		Is:            IsHeaderField,
		ValidateItem:  ValidateHeaderFieldFields,
		ValidateSlice: ValidateHeaderFieldSlice,
		RepairItem:    RepairHeaderField,
		RepairSlice:   RepairHeaderFieldSlice,
	},
	schema.KindSavedViews: {
		Is:            IsSavedView,
		ValidateItem:  ValidateSavedViewFields,
		ValidateSlice: ValidateSavedViewSlice,
		RepairItem:    RepairSavedView,
		RepairSlice:   RepairSavedViewSlice,
	},
}

// ForKind returns the validator table for an entity kind.
func ForKind(k schema.Kind) (EntityValidator, bool) {
	v, ok := validators[k]
	return v, ok
}

// validateSlice applies an item validator across a collection, aggregating
// messages and computing collection-level repairability: a collection is
// repairable when at least one record is valid or individually repairable.
func validateSlice(items []any, label string, item func(any) Result, canRepair func(any) bool) Result {
	result := Result{Valid: true}
	salvageable := len(items) == 0

	for i, v := range items {
		r := item(v)
		if r.Valid {
			salvageable = true
			continue
		}
		result.Valid = false
		for _, e := range r.Errors {
			result.Errors = append(result.Errors, indexed(label, i, e))
		}
		for _, w := range r.Warnings {
			result.Warnings = append(result.Warnings, indexed(label, i, w))
		}
		if canRepair(v) {
			salvageable = true
		}
	}

	result.Repairable = !result.Valid && salvageable
	return result
}

// repairSlice applies an item repairer across a collection, keeping valid
// records untouched, replacing repairable ones with their repaired copy, and
// dropping the rest.
func repairSlice(items []any, label string, item func(any) Result, repair func(any) (map[string]any, bool)) RepairOutcome {
	out := RepairOutcome{Repaired: make([]any, 0, len(items))}
	for i, v := range items {
		if item(v).Valid {
			out.Repaired = append(out.Repaired, v)
			continue
		}
		fixed, ok := repair(v)
		if !ok {
			out.Removed++
			out.Errors = append(out.Errors, indexed(label, i, "unrepairable, dropped"))
			continue
		}
		out.Repaired = append(out.Repaired, fixed)
	}
	return out
}

func indexed(label string, i int, msg string) string {
	return label + "[" + strconv.Itoa(i) + "]: " + msg
}
