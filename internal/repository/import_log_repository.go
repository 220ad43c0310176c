package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rpattn/fieldsync/internal/domain"
)

type importLogRepository struct {
	db querier
}

func (r *importLogRepository) Record(ctx context.Context, entry domain.ImportLogEntry) error {
	if r.db == nil {
		return fmt.Errorf("import log repository not initialized")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO import_logs (id, kind, file_name, row_number, field, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID,
		string(entry.Kind),
		entry.FileName,
		entry.RowNumber,
		entry.Field,
		entry.Message,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record import log: %w", err)
	}
	return nil
}

func (r *importLogRepository) List(ctx context.Context, kind domain.Kind, fileName string, limit int, offset int) ([]domain.ImportLogEntry, error) {
	if r.db == nil {
		return nil, fmt.Errorf("import log repository not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(
		ctx,
		`SELECT id, kind, file_name, row_number, field, message, created_at
		 FROM import_logs
		 WHERE kind = $1
		   AND ($2 = '' OR file_name = $2)
		 ORDER BY created_at DESC, row_number DESC
		 LIMIT $3 OFFSET $4`,
		string(kind),
		fileName,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	logs := []domain.ImportLogEntry{}
	for rows.Next() {
		var (
			entry   domain.ImportLogEntry
			rawKind string
		)
		if scanErr := rows.Scan(
			&entry.ID,
			&rawKind,
			&entry.FileName,
			&entry.RowNumber,
			&entry.Field,
			&entry.Message,
			&entry.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", scanErr)
		}
		entry.Kind = domain.Kind(rawKind)
		logs = append(logs, entry)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate import logs: %w", rowsErr)
	}
	return logs, nil
}
