package domain

import (
	"fmt"
	"strings"
)

// ExportFormat enumerates the supported export encodings.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatXLSX ExportFormat = "xlsx"
	ExportFormatJSON ExportFormat = "json"
)

// ParseExportFormat defaults to JSON, matching the dashboard's export button.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return ExportFormatJSON, nil
	case "csv":
		return ExportFormatCSV, nil
	case "xlsx", "excel":
		return ExportFormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// MimeType returns the Content-Type of the encoding.
func (f ExportFormat) MimeType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// BulkRowError describes one rejected row of a bulk create.
type BulkRowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// BulkCreateResult summarizes a bulk create.
type BulkCreateResult struct {
	Created  int            `json:"created"`
	Failed   int            `json:"failed"`
	Entities []Entity       `json:"entities"`
	Errors   []BulkRowError `json:"errors"`
}
