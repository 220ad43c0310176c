// Package export streams entity listings as CSV, XLSX or JSON files.
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/repository"
)

const defaultPageSize = 500

// Service writes every entity matching a filter to an export file.
type Service struct {
	entities repository.EntityRepository
	pageSize int
	logger   *zerolog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPageSize sets how many rows are read from the repository per batch.
func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates an export service reading from entities.
func NewService(entities repository.EntityRepository, opts ...Option) *Service {
	s := &Service{
		entities: entities,
		pageSize: defaultPageSize,
		logger:   logging.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request selects what to export.
type Request struct {
	Kind   domain.Kind
	Format domain.ExportFormat
	Filter domain.EntityFilter
	Sort   domain.EntitySort
}

// Summary reports what was written. KindTotal counts every entity of the
// kind, filtered or not.
type Summary struct {
	Rows      int
	KindTotal int64
	Bytes     int64
}

// rowWriter receives the header once and then one row per entity.
type rowWriter interface {
	header(columns []string) error
	row(entity domain.Entity, columns []string) error
	close() error
}

// Export writes the selected entities to w in the requested format. Columns
// are id, every schema field in declaration order, created_at and updated_at.
func (s *Service) Export(ctx context.Context, req Request, w io.Writer) (Summary, error) {
	schema, ok := domain.SchemaFor(req.Kind)
	if !ok {
		return Summary{}, apperr.NewNotFoundError("kind", string(req.Kind))
	}
	if req.Sort.Field == "" {
		req.Sort = domain.EntitySort{Field: domain.KeyID, Direction: domain.SortDirectionAsc}
	}
	kindTotal, err := s.entities.Count(ctx, req.Kind)
	if err != nil {
		return Summary{}, fmt.Errorf("count entities: %w", err)
	}

	buffered := bufio.NewWriterSize(w, 64<<10)
	counter := &countingWriter{writer: buffered}
	out, err := newRowWriter(req.Format, counter)
	if err != nil {
		return Summary{}, err
	}

	columns := exportColumns(schema)
	if err := out.header(columns); err != nil {
		return Summary{}, fmt.Errorf("write header: %w", err)
	}

	rowsExported := 0
	offset := 0
	for {
		if ctx.Err() != nil {
			return Summary{}, ctx.Err()
		}
		entities, _, err := s.entities.List(ctx, req.Kind, &req.Filter, req.Sort, s.pageSize, offset)
		if err != nil {
			return Summary{}, fmt.Errorf("list entities: %w", err)
		}
		for _, entity := range entities {
			if err := out.row(entity, columns); err != nil {
				return Summary{}, fmt.Errorf("write entity row: %w", err)
			}
			rowsExported++
		}
		if len(entities) < s.pageSize {
			break
		}
		offset += s.pageSize
	}

	if err := out.close(); err != nil {
		return Summary{}, fmt.Errorf("finish %s export: %w", req.Format, err)
	}
	if err := buffered.Flush(); err != nil {
		return Summary{}, fmt.Errorf("flush export: %w", err)
	}

	s.logger.Info().
		Str("kind", string(req.Kind)).
		Str("format", string(req.Format)).
		Int("rows", rowsExported).
		Int64("kind_total", kindTotal).
		Int64("bytes", counter.count).
		Msg("export written")
	return Summary{Rows: rowsExported, KindTotal: kindTotal, Bytes: counter.count}, nil
}

// FileName builds the download name, e.g. "clients-20250301-120000.csv".
func (s *Service) FileName(kind domain.Kind, format domain.ExportFormat) string {
	base := sanitizeFileComponent(string(kind))
	return fmt.Sprintf("%s-%s.%s", base, s.now().Format("20060102-150405"), format)
}

func exportColumns(schema domain.EntitySchema) []string {
	columns := make([]string, 0, len(schema.Fields)+3)
	columns = append(columns, domain.KeyID)
	columns = append(columns, schema.FieldNames()...)
	return append(columns, domain.KeyCreatedAt, domain.KeyUpdatedAt)
}

func columnValue(entity domain.Entity, column string) any {
	switch column {
	case domain.KeyID:
		return entity.ID
	case domain.KeyCreatedAt:
		return entity.CreatedAt
	case domain.KeyUpdatedAt:
		return entity.UpdatedAt
	default:
		return entity.Fields[column]
	}
}

func newRowWriter(format domain.ExportFormat, w io.Writer) (rowWriter, error) {
	switch format {
	case domain.ExportFormatCSV:
		return &csvRowWriter{writer: csv.NewWriter(w)}, nil
	case domain.ExportFormatXLSX:
		return newXLSXRowWriter(w)
	case domain.ExportFormatJSON:
		return &jsonRowWriter{writer: w}, nil
	default:
		return nil, apperr.NewValidationError("format", fmt.Sprintf("unsupported export format %q", format))
	}
}

type csvRowWriter struct {
	writer *csv.Writer
	record []string
}

func (c *csvRowWriter) header(columns []string) error {
	c.record = make([]string, len(columns))
	return c.writer.Write(columns)
}

func (c *csvRowWriter) row(entity domain.Entity, columns []string) error {
	for i, column := range columns {
		c.record[i] = formatValue(columnValue(entity, column))
	}
	return c.writer.Write(c.record)
}

func (c *csvRowWriter) close() error {
	c.writer.Flush()
	return c.writer.Error()
}

type xlsxRowWriter struct {
	file   *excelize.File
	stream *excelize.StreamWriter
	target io.Writer
	next   int
}

func newXLSXRowWriter(w io.Writer) (*xlsxRowWriter, error) {
	f := excelize.NewFile()
	stream, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open xlsx stream: %w", err)
	}
	return &xlsxRowWriter{file: f, stream: stream, target: w, next: 1}, nil
}

func (x *xlsxRowWriter) write(values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, x.next)
	if err != nil {
		return err
	}
	x.next++
	return x.stream.SetRow(cell, values)
}

func (x *xlsxRowWriter) header(columns []string) error {
	values := make([]any, len(columns))
	for i, column := range columns {
		values[i] = column
	}
	return x.write(values)
}

func (x *xlsxRowWriter) row(entity domain.Entity, columns []string) error {
	values := make([]any, len(columns))
	for i, column := range columns {
		switch v := columnValue(entity, column).(type) {
		case int64, bool:
			values[i] = v
		default:
			values[i] = formatValue(v)
		}
	}
	return x.write(values)
}

func (x *xlsxRowWriter) close() error {
	defer func() { _ = x.file.Close() }()
	if err := x.stream.Flush(); err != nil {
		return err
	}
	_, err := x.file.WriteTo(x.target)
	return err
}

// jsonRowWriter emits a JSON array of entity representations.
type jsonRowWriter struct {
	writer io.Writer
	rows   int
}

func (j *jsonRowWriter) header([]string) error {
	_, err := io.WriteString(j.writer, "[")
	return err
}

func (j *jsonRowWriter) row(entity domain.Entity, _ []string) error {
	encoded, err := json.Marshal(entity.Representation())
	if err != nil {
		return err
	}
	if j.rows > 0 {
		if _, err := io.WriteString(j.writer, ","); err != nil {
			return err
		}
	}
	j.rows++
	_, err = j.writer.Write(encoded)
	return err
}

func (j *jsonRowWriter) close() error {
	_, err := io.WriteString(j.writer, "]\n")
	return err
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case json.Number:
		return v.String()
	case []byte:
		return string(v)
	case map[string]any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return domain.FormatValue(v)
	}
}
