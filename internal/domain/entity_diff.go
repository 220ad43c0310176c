package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FieldChange records one field's value before and after a write.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// DiffFields compares two field maps and returns the changed fields sorted by
// name. Values are compared by their canonical JSON encoding so a []string
// and an equivalent []any decoded from JSON compare equal.
func DiffFields(before, after map[string]any) []FieldChange {
	keys := map[string]struct{}{}
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}

	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var changes []FieldChange
	for _, name := range names {
		oldValue, hadOld := before[name]
		newValue, hasNew := after[name]
		if hadOld == hasNew && CanonicalValue(oldValue) == CanonicalValue(newValue) {
			continue
		}
		changes = append(changes, FieldChange{Field: name, Old: oldValue, New: newValue})
	}
	return changes
}

// ValuesEqual reports whether two field values are equivalent.
func ValuesEqual(a, b any) bool {
	return CanonicalValue(a) == CanonicalValue(b)
}

// CanonicalValue renders a field value deterministically.
func CanonicalValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case []string:
		items := make([]any, len(typed))
		for i, s := range typed {
			items[i] = s
		}
		return CanonicalValue(items)
	case int:
		return fmt.Sprintf("%d", typed)
	case int64:
		return fmt.Sprintf("%d", typed)
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(encoded)
}

// FormatValue renders a value for tabular output: strings unquoted,
// multi-select values comma separated, nil as empty.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []string:
		return strings.Join(typed, ",")
	case []any:
		parts := make([]string, len(typed))
		for i, item := range typed {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, ",")
	case bool:
		if typed {
			return "true"
		}
		return "false"
	default:
		return strings.Trim(CanonicalValue(typed), `"`)
	}
}

// SummarizeChanges flattens changes into "field: old -> new" lines.
func SummarizeChanges(changes []FieldChange) []string {
	lines := make([]string, len(changes))
	for i, c := range changes {
		lines[i] = fmt.Sprintf("%s: %s -> %s", c.Field, CanonicalValue(c.Old), CanonicalValue(c.New))
	}
	return lines
}
