// Package ingestion turns uploaded CSV, XLSX or JSON payloads into entities.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/repository"
	"github.com/rpattn/fieldsync/pkg/validator"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"01-02-06",
	}
)

// Creator persists one validated entity. *service.EntityService satisfies it.
type Creator interface {
	Create(ctx context.Context, kind domain.Kind, input map[string]any) (domain.Entity, error)
}

// Service creates entities in bulk.
type Service struct {
	creator   Creator
	validator *validator.FieldValidator
	logs      repository.ImportLogRepository
	logger    *zerolog.Logger
}

// NewService creates a new ingestion service.
func NewService(creator Creator, logger *zerolog.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		creator:   creator,
		validator: validator.NewFieldValidator(),
		logger:    logger,
	}
}

// WithImportLog makes the service record every rejected row in logs.
func (s *Service) WithImportLog(logs repository.ImportLogRepository) *Service {
	s.logs = logs
	return s
}

// PreviewRow captures one parsed row and its validation feedback.
type PreviewRow struct {
	RowNumber int            `json:"row"`
	Values    map[string]any `json:"values"`
	Errors    []string       `json:"errors,omitempty"`
}

// PreviewResult reports how a file would be ingested without writing.
type PreviewResult struct {
	TotalRows      int          `json:"total_rows"`
	InvalidRows    int          `json:"invalid_rows"`
	Columns        []string     `json:"columns"`
	IgnoredColumns []string     `json:"ignored_columns"`
	Rows           []PreviewRow `json:"rows"`
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	headerRowIndex int
}

// BulkCreate creates each row independently. A rejected row is reported in
// the result with its 1-based index and does not stop the others.
func (s *Service) BulkCreate(ctx context.Context, kind domain.Kind, rows []map[string]any) domain.BulkCreateResult {
	return s.bulkCreate(ctx, kind, "", rows)
}

func (s *Service) bulkCreate(ctx context.Context, kind domain.Kind, fileName string, rows []map[string]any) domain.BulkCreateResult {
	result := domain.BulkCreateResult{Entities: []domain.Entity{}, Errors: []domain.BulkRowError{}}

	for idx, row := range rows {
		created, err := s.creator.Create(ctx, kind, row)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, rowError(idx+1, err))
			continue
		}
		result.Created++
		result.Entities = append(result.Entities, created)
	}

	s.recordFailures(ctx, kind, fileName, result.Errors)
	s.logger.Info().
		Str("kind", string(kind)).
		Str("file", fileName).
		Int("created", result.Created).
		Int("failed", result.Failed).
		Msg("bulk create finished")
	return result
}

// Ingest parses an uploaded file and bulk creates its rows. Row numbers in
// the result refer to data rows, header excluded.
func (s *Service) Ingest(ctx context.Context, kind domain.Kind, fileName string, data io.Reader) (domain.BulkCreateResult, error) {
	rows, err := s.Parse(kind, fileName, data)
	if err != nil {
		return domain.BulkCreateResult{}, err
	}
	return s.bulkCreate(ctx, kind, fileName, rows), nil
}

// Logs lists the rows rejected by earlier bulk creates of kind.
func (s *Service) Logs(ctx context.Context, kind domain.Kind, fileName string, limit, offset int) ([]domain.ImportLogEntry, error) {
	if s.logs == nil {
		return []domain.ImportLogEntry{}, nil
	}
	return s.logs.List(ctx, kind, fileName, limit, offset)
}

// recordFailures writes rejected rows to the import log. Failures to record
// are logged and otherwise ignored.
func (s *Service) recordFailures(ctx context.Context, kind domain.Kind, fileName string, failures []domain.BulkRowError) {
	if s.logs == nil {
		return
	}
	now := time.Now().UTC()
	for _, failure := range failures {
		entry := domain.ImportLogEntry{
			Kind:      kind,
			FileName:  fileName,
			RowNumber: failure.Row,
			Field:     failure.Field,
			Message:   failure.Message,
			CreatedAt: now,
		}
		if err := s.logs.Record(ctx, entry); err != nil {
			s.logger.Warn().Err(err).Int("row", failure.Row).Msg("failed to record import log")
		}
	}
}

// Preview validates the first limit rows of a file without persisting them.
func (s *Service) Preview(kind domain.Kind, fileName string, data io.Reader, limit int) (PreviewResult, error) {
	result := PreviewResult{Columns: []string{}, IgnoredColumns: []string{}, Rows: []PreviewRow{}}

	schema, ok := domain.SchemaFor(kind)
	if !ok {
		return result, apperr.NewNotFoundError("kind", string(kind))
	}
	payload, err := readPayload(data)
	if err != nil {
		return result, err
	}
	table, err := parseTable(fileName, payload)
	if err != nil {
		return result, err
	}

	columns := mapColumns(schema, table.headers)
	for idx, name := range columns {
		if name == "" {
			result.IgnoredColumns = append(result.IgnoredColumns, table.rawHeaders[idx])
			continue
		}
		result.Columns = append(result.Columns, name)
	}

	if limit <= 0 {
		limit = 10
	}
	result.TotalRows = len(table.rows)
	for rowIdx, row := range table.rows {
		values, rowErrors := rowValues(schema, columns, row)
		if len(rowErrors) == 0 {
			check := s.validator.Validate(schema, values, validator.ModeFull)
			for _, verr := range check.Errors {
				rowErrors = append(rowErrors, verr.Message)
			}
		}
		if len(rowErrors) > 0 {
			result.InvalidRows++
		}
		if rowIdx < limit {
			result.Rows = append(result.Rows, PreviewRow{
				RowNumber: table.headerRowIndex + rowIdx + 2,
				Values:    values,
				Errors:    rowErrors,
			})
		}
	}
	return result, nil
}

// Parse decodes a file into one field map per row. The format is chosen by
// extension: .csv, .xlsx or .json (an array of objects).
func (s *Service) Parse(kind domain.Kind, fileName string, data io.Reader) ([]map[string]any, error) {
	schema, ok := domain.SchemaFor(kind)
	if !ok {
		return nil, apperr.NewNotFoundError("kind", string(kind))
	}
	payload, err := readPayload(data)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(filepath.Ext(fileName)) == ".json" {
		return parseJSON(payload)
	}

	table, err := parseTable(fileName, payload)
	if err != nil {
		return nil, err
	}
	columns := mapColumns(schema, table.headers)

	rows := make([]map[string]any, 0, len(table.rows))
	for _, row := range table.rows {
		values, _ := rowValues(schema, columns, row)
		rows = append(rows, values)
	}
	return rows, nil
}

func readPayload(data io.Reader) ([]byte, error) {
	if data == nil {
		return nil, apperr.NewValidationError("file", "No file was submitted.")
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, apperr.NewValidationError("file", "The submitted file is empty.")
	}
	return payload, nil
}

func rowError(row int, err error) domain.BulkRowError {
	out := domain.BulkRowError{Row: row, Message: err.Error()}
	var validationErr *apperr.ValidationError
	var conflictErr *apperr.ConflictError
	switch {
	case errors.As(err, &validationErr):
		out.Field = validationErr.Field
	case errors.As(err, &conflictErr):
		out.Field = conflictErr.Field
	}
	return out
}

func parseJSON(payload []byte) ([]map[string]any, error) {
	var rows []map[string]any
	decoder := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(payload, byteOrderMark)))
	decoder.UseNumber()
	if err := decoder.Decode(&rows); err != nil {
		return nil, apperr.NewValidationError("file", fmt.Sprintf("Invalid JSON: %v", err))
	}
	for _, row := range rows {
		for key, value := range row {
			if n, ok := value.(json.Number); ok {
				if i, err := n.Int64(); err == nil {
					row[key] = i
				} else if f, err := n.Float64(); err == nil {
					row[key] = f
				}
			}
		}
	}
	return rows, nil
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, apperr.NewValidationError("file", fmt.Sprintf("failed to read csv: %v", err))
	}
	return normalizeTable(records)
}

func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, apperr.NewValidationError("file", fmt.Sprintf("failed to open xlsx: %v", err))
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, apperr.NewValidationError("file", "excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty row as the header.
func normalizeTable(records [][]string) (tableData, error) {
	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			headerIndex = idx
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return tableData{}, apperr.NewValidationError("file", "no rows found in file")
	}

	headers := sanitizeHeaders(headerRow)
	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return tableData{
		headers:        headers,
		rawHeaders:     rawHeaders,
		rows:           filterEmptyRows(dataRows),
		headerRowIndex: headerIndex,
	}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		if len(cleanRow(row)) > 0 {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// mapColumns resolves each sanitized header to a schema field, matching the
// field name or its label ("Contact Email", "Client"). Unmatched columns map
// to "".
func mapColumns(schema domain.EntitySchema, headers []string) []string {
	byKey := make(map[string]string, len(schema.Fields)*2)
	for _, def := range schema.Fields {
		if def.ReadOnly {
			continue
		}
		byKey[def.Name] = def.Name
		label := sanitizeHeaders([]string{def.DisplayLabel()})[0]
		if _, taken := byKey[label]; !taken {
			byKey[label] = def.Name
		}
	}

	columns := make([]string, len(headers))
	for idx, header := range headers {
		columns[idx] = byKey[header]
	}
	return columns
}

// rowValues converts the cells of one row. Blank cells are omitted so schema
// defaults apply.
func rowValues(schema domain.EntitySchema, columns []string, row []string) (map[string]any, []string) {
	values := make(map[string]any)
	var rowErrors []string
	for colIdx, name := range columns {
		if name == "" || colIdx >= len(row) {
			continue
		}
		raw := strings.TrimSpace(row[colIdx])
		if raw == "" {
			continue
		}
		def, _ := schema.Field(name)
		coerced, err := coerceValue(def.Type, raw)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("%s: %v", def.DisplayLabel(), err))
			values[name] = raw
			continue
		}
		values[name] = coerced
	}
	return values, rowErrors
}

func coerceValue(fieldType domain.FieldType, raw string) (any, error) {
	switch fieldType {
	case domain.FieldTypeInteger, domain.FieldTypeReference:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.FieldTypeBoolean:
		value := strings.ToLower(raw)
		switch value {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case domain.FieldTypeDate:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to date", raw)
		}
		return ts.Format("2006-01-02"), nil
	case domain.FieldTypeMultiChoice:
		parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	default:
		return raw, nil
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
