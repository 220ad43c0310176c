package domain

import (
	"slices"
	"strings"
	"time"
)

// DateLayout is how date fields are stored.
const DateLayout = "2006-01-02"

// InspectionWindowDays is how far ahead the upcoming inspections filter looks.
const InspectionWindowDays = 7

// OpenProjectStatuses are the statuses a project can be overdue in.
var OpenProjectStatuses = []string{"not_started", "in_progress", "on_hold"}

// InspectionProjectStatuses are the statuses that expect inspections.
var InspectionProjectStatuses = []string{"in_progress"}

// EntityFilter represents filtering options for listing entities.
type EntityFilter struct {
	// TextSearch matches case-insensitively against the kind's search fields.
	TextSearch string
	IsActive   *bool
	// FieldFilters match exact values, e.g. status=in_progress.
	FieldFilters map[string]string
	// AnyOf matches multi-choice fields holding at least one of the values,
	// e.g. project_type=M,E.
	AnyOf map[string][]string

	// Overdue keeps open projects whose due date has passed.
	Overdue bool
	// UpcomingInspections keeps in-progress projects with a rough-in or
	// final inspection due within InspectionWindowDays.
	UpcomingInspections bool
	// AsOf anchors the date filters. Zero means now.
	AsOf time.Time
}

// Today is the date the relative filters are evaluated on.
func (f EntityFilter) Today() string {
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return asOf.UTC().Format(DateLayout)
}

// InspectionHorizon is the last date counted as an upcoming inspection.
func (f EntityFilter) InspectionHorizon() string {
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return asOf.UTC().AddDate(0, 0, InspectionWindowDays).Format(DateLayout)
}

// IsOverdue reports whether a project is open and past its due date.
func (f EntityFilter) IsOverdue(e Entity) bool {
	due, _ := e.Fields["due_date"].(string)
	status, _ := e.Fields["status"].(string)
	return due != "" && due < f.Today() && slices.Contains(OpenProjectStatuses, status)
}

// HasUpcomingInspection reports whether a project in progress has an
// inspection date on or before the horizon.
func (f EntityFilter) HasUpcomingInspection(e Entity) bool {
	status, _ := e.Fields["status"].(string)
	if !slices.Contains(InspectionProjectStatuses, status) {
		return false
	}
	horizon := f.InspectionHorizon()
	for _, field := range []string{"rough_in_date", "final_inspection_date"} {
		if date, _ := e.Fields[field].(string); date != "" && date <= horizon {
			return true
		}
	}
	return false
}

// HasAnyOf reports whether the multi-choice field holds one of want,
// ignoring case.
func HasAnyOf(value any, want []string) bool {
	var held []string
	switch typed := value.(type) {
	case []string:
		held = typed
	case []any:
		for _, item := range typed {
			if s, ok := item.(string); ok {
				held = append(held, s)
			}
		}
	case string:
		held = []string{typed}
	}
	for _, h := range held {
		for _, w := range want {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

// SearchFields are the fields matched by a text search for each kind.
func SearchFields(kind Kind) []string {
	switch kind {
	case KindProject:
		return []string{"job_number", "project_name", "address", "current_sub_status"}
	default:
		return []string{"name", "company_name", "contact_email", "contact_person", "phone"}
	}
}

// Page is a slice of a listing plus the total row count.
type Page struct {
	Count      int      `json:"count"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	TotalPages int      `json:"total_pages"`
	Results    []Entity `json:"results"`
}

// NewPage computes the paging metadata for a result slice.
func NewPage(results []Entity, total, page, pageSize int) Page {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	if results == nil {
		results = []Entity{}
	}
	return Page{Count: total, Page: page, PageSize: pageSize, TotalPages: totalPages, Results: results}
}
