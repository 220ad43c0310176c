package httpx

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
)

// controlParams are query parameters that never act as field filters.
var controlParams = map[string]bool{
	"page":      true,
	"page_size": true,
	"search":    true,
	"ordering":  true,
	"is_active": true,
	"format":    true,
	"limit":     true,
	"offset":    true,
}

// KindParam reads the {kind} path value.
func KindParam(r *http.Request) (domain.Kind, error) {
	kind, err := domain.ParseKind(r.PathValue("kind"))
	if err != nil {
		return "", apperr.NewNotFoundError("kind", r.PathValue("kind"))
	}
	return kind, nil
}

// IDParam reads the {id} path value.
func IDParam(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.NewNotFoundError("entity", raw)
	}
	return id, nil
}

// projectParams are boolean filters only projects accept.
var projectParams = map[string]bool{
	"overdue":              true,
	"upcoming_inspections": true,
}

// ListFilter reads search, is_active, ordering and field filters of kind
// from the query string. Choice and text fields match exactly
// (?status=in_progress); multi-choice fields match any of a comma separated
// list (?project_type=M,E). Keys that are neither control parameters nor
// fields of kind are rejected.
func ListFilter(r *http.Request, kind domain.Kind) (domain.EntityFilter, domain.EntitySort, error) {
	schema, ok := domain.SchemaFor(kind)
	if !ok {
		return domain.EntityFilter{}, domain.EntitySort{}, apperr.NewNotFoundError("kind", string(kind))
	}
	query := r.URL.Query()
	filter := domain.EntityFilter{TextSearch: strings.TrimSpace(query.Get("search"))}

	if raw := strings.TrimSpace(query.Get("is_active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, domain.EntitySort{}, apperr.NewValidationError("is_active", fmt.Sprintf("%q is not a valid boolean", raw))
		}
		filter.IsActive = &active
	}

	for _, key := range slices.Sorted(maps.Keys(query)) {
		if controlParams[key] {
			continue
		}
		value := strings.TrimSpace(query.Get(key))

		if kind == domain.KindProject && projectParams[key] {
			if value == "" {
				continue
			}
			on, err := strconv.ParseBool(value)
			if err != nil {
				return filter, domain.EntitySort{}, apperr.NewValidationError(key, fmt.Sprintf("%q is not a valid boolean", value))
			}
			switch key {
			case "overdue":
				filter.Overdue = on
			case "upcoming_inspections":
				filter.UpcomingInspections = on
			}
			continue
		}

		def, ok := schema.Field(key)
		if !ok {
			return filter, domain.EntitySort{}, apperr.NewValidationError(key, fmt.Sprintf("Unknown filter '%s'", key))
		}
		if value == "" {
			continue
		}
		if def.Type == domain.FieldTypeMultiChoice {
			var wanted []string
			for _, part := range strings.Split(value, ",") {
				if part = strings.TrimSpace(part); part != "" {
					wanted = append(wanted, part)
				}
			}
			if len(wanted) == 0 {
				continue
			}
			if filter.AnyOf == nil {
				filter.AnyOf = map[string][]string{}
			}
			filter.AnyOf[key] = wanted
			continue
		}
		if filter.FieldFilters == nil {
			filter.FieldFilters = map[string]string{}
		}
		filter.FieldFilters[key] = value
	}

	return filter, domain.ParseOrdering(query.Get("ordering")), nil
}
