package validate

import (
	"fmt"
	"reflect"
)

// MaxPayloadBytes is the hard ceiling on a single key's serialized payload.
// A payload past this size indicates runaway growth or corruption, not a
// legitimate dataset.
const MaxPayloadBytes = 10 << 20

// IntegrityResult is the outcome of an integrity check. Critical findings
// mean the value must not be persisted or trusted; warnings are advisory.
type IntegrityResult struct {
	OK       bool
	Critical []string
	Warnings []string
}

// CheckIntegrity runs entity-independent sanity checks on a decoded value:
// cyclic references (which would hang serialization), the payload size
// ceiling, and arrays that have degraded to all-null elements. rawSize is
// the serialized byte length when the caller has it; pass 0 to skip the
// size check.
func CheckIntegrity(value any, rawSize int) IntegrityResult {
	var result IntegrityResult

	if rawSize > MaxPayloadBytes {
		result.Critical = append(result.Critical, fmt.Sprintf(
			"payload size %d exceeds ceiling %d", rawSize, MaxPayloadBytes))
	}

	if hasCycle(value, make(map[uintptr]bool)) {
		result.Critical = append(result.Critical, "cyclic reference detected")
	} else {
		// Null scanning walks the graph too; only safe without cycles.
		scanNulls(value, "", &result)
	}

	result.OK = len(result.Critical) == 0
	return result
}

// hasCycle walks maps and slices looking for a path back to a container
// already on the walk. Values decoded from JSON can never cycle; values
// constructed in memory and handed to Save can.
func hasCycle(v any, seen map[uintptr]bool) bool {
	switch val := v.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return true
		}
		seen[ptr] = true
		for _, child := range val {
			if hasCycle(child, seen) {
				return true
			}
		}
		delete(seen, ptr)
	case []any:
		if len(val) == 0 {
			return false
		}
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return true
		}
		seen[ptr] = true
		for _, child := range val {
			if hasCycle(child, seen) {
				return true
			}
		}
		delete(seen, ptr)
	}
	return false
}

// scanNulls flags non-empty arrays whose elements are all null. That pattern
// never occurs in healthy data and usually means a serializer lost every
// record body while keeping the array length.
func scanNulls(v any, path string, result *IntegrityResult) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			scanNulls(child, joinPath(path, k), result)
		}
	case []any:
		if len(val) > 0 && allNull(val) {
			result.Critical = append(result.Critical, fmt.Sprintf(
				"array %s has %d elements, all null", displayPath(path), len(val)))
			return
		}
		for i, child := range val {
			scanNulls(child, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}

func allNull(items []any) bool {
	for _, v := range items {
		if v != nil {
			return false
		}
	}
	return true
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "(root)"
	}
	return path
}
