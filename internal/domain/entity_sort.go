package domain

import "strings"

// SortDirection represents ordering direction for sortable fields.
type SortDirection string

const (
	SortDirectionAsc  SortDirection = "asc"
	SortDirectionDesc SortDirection = "desc"
)

// EntitySort captures ordering preferences for entity listings. Field is
// either a reserved key (id, created_at, updated_at) or a field name.
type EntitySort struct {
	Field     string
	Direction SortDirection
}

// DefaultSort orders newest first.
var DefaultSort = EntitySort{Field: KeyCreatedAt, Direction: SortDirectionDesc}

// ParseOrdering reads a Django style ordering parameter: "name" ascending,
// "-created_at" descending. Empty input yields DefaultSort.
func ParseOrdering(raw string) EntitySort {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultSort
	}
	if strings.HasPrefix(raw, "-") {
		return EntitySort{Field: strings.TrimPrefix(raw, "-"), Direction: SortDirectionDesc}
	}
	return EntitySort{Field: raw, Direction: SortDirectionAsc}
}

// String renders the sort back to ordering form.
func (s EntitySort) String() string {
	if s.Direction == SortDirectionDesc {
		return "-" + s.Field
	}
	return s.Field
}
