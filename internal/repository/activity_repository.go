package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/fieldsync/internal/domain"
)

const activityColumns = "id, kind, entity_id, entity_name, action, actor, changes, version, created_at"

type activityRepository struct {
	db querier
}

func (r *activityRepository) Record(ctx context.Context, entry domain.ActivityEntry) error {
	changesJSON, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal activity changes: %w", err)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO entity_activities (`+activityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, string(entry.Kind), entry.EntityID, entry.EntityName, string(entry.Action),
		entry.Actor, changesJSON, entry.Version, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}

func (r *activityRepository) ListByEntity(ctx context.Context, kind domain.Kind, entityID int64, limit int, offset int) ([]domain.ActivityEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+activityColumns+` FROM entity_activities
		 WHERE kind = $1 AND entity_id = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		string(kind), entityID, limitOrAll(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity activity: %w", err)
	}
	return collectActivities(rows)
}

func (r *activityRepository) List(ctx context.Context, limit int, offset int) ([]domain.ActivityEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+activityColumns+` FROM entity_activities ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limitOrAll(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return collectActivities(rows)
}

// limitOrAll maps a non-positive limit to NULL, which Postgres treats as no
// limit.
func limitOrAll(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func collectActivities(rows pgx.Rows) ([]domain.ActivityEntry, error) {
	defer rows.Close()

	entries := []domain.ActivityEntry{}
	for rows.Next() {
		var (
			entry       domain.ActivityEntry
			kind        string
			action      string
			entityName  *string
			actor       *string
			changesJSON []byte
			createdAt   time.Time
		)
		if err := rows.Scan(&entry.ID, &kind, &entry.EntityID, &entityName, &action, &actor, &changesJSON, &entry.Version, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		entry.Kind = domain.Kind(kind)
		entry.Action = domain.ActivityAction(action)
		entry.CreatedAt = createdAt.UTC()
		if entityName != nil {
			entry.EntityName = *entityName
		}
		if actor != nil {
			entry.Actor = *actor
		}
		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &entry.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode activity changes: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
