package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/db"
	"github.com/rpattn/fieldsync/internal/domain"
)

const entityColumns = "id, kind, fields, version, created_at, updated_at"

// entityRepository implements EntityRepository on Postgres. Fields live in a
// JSONB column.
type entityRepository struct {
	db querier
}

// querier is what the Postgres repositories need from a pool or a
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore returns a Store backed by conn. WithTx runs inside a
// conn transaction.
func NewPostgresStore(conn *db.Connection) Store {
	store := postgresStore(conn.Pool)
	store.tx = func(ctx context.Context, fn func(Store) error) error {
		return conn.WithTx(ctx, func(tx pgx.Tx) error {
			return fn(postgresStore(tx))
		})
	}
	return store
}

func postgresStore(q querier) Store {
	return Store{
		Entities:   &entityRepository{db: q},
		Activities: &activityRepository{db: q},
		ImportLogs: &importLogRepository{db: q},
	}
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// Create creates a new entity
func (r *entityRepository) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	fieldsJSON, err := entity.GetFieldsAsJSONB()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to marshal fields: %w", err)
	}
	version := entity.Version
	if version == 0 {
		version = 1
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO entities (kind, fields, version) VALUES ($1, $2, $3) RETURNING `+entityColumns,
		string(entity.Kind), fieldsJSON, version,
	)
	created, err := scanEntity(row)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to create entity: %w", err)
	}
	return created, nil
}

// GetByID retrieves an entity by ID
func (r *entityRepository) GetByID(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1 AND kind = $2`,
		id, string(kind),
	)
	entity, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Entity{}, apperr.NewNotFoundError(kind.Singular(), strconv.FormatInt(id, 10))
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// GetByIDs retrieves multiple entities by their IDs.
func (r *entityRepository) GetByIDs(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Entity, error) {
	if len(ids) == 0 {
		return []domain.Entity{}, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = $1 AND id = ANY($2)`,
		string(kind), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get entities by IDs: %w", err)
	}
	return collectEntities(rows)
}

// List retrieves a page of entities of kind
func (r *entityRepository) List(
	ctx context.Context,
	kind domain.Kind,
	filter *domain.EntityFilter,
	order domain.EntitySort,
	limit int,
	offset int,
) ([]domain.Entity, int, error) {
	where, args := buildFilterClause(kind, filter)
	query := fmt.Sprintf(
		`SELECT %s, COUNT(*) OVER() AS total_count FROM entities WHERE %s ORDER BY %s, id %s`,
		entityColumns, where, orderExpression(order), sortDirection(order),
	)
	if limit > 0 {
		args = append(args, limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := []domain.Entity{}
	totalCount := 0
	for rows.Next() {
		var (
			id         int64
			kindValue  string
			fieldsJSON []byte
			version    int64
			createdAt  time.Time
			updatedAt  time.Time
			total      int64
		)
		if err := rows.Scan(&id, &kindValue, &fieldsJSON, &version, &createdAt, &updatedAt, &total); err != nil {
			return nil, 0, fmt.Errorf("failed to scan entity: %w", err)
		}
		entity, err := buildEntity(id, kindValue, fieldsJSON, version, createdAt, updatedAt)
		if err != nil {
			return nil, 0, err
		}
		entities = append(entities, entity)
		totalCount = int(total)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list entities: %w", err)
	}

	if len(entities) == 0 && offset > 0 {
		count, err := r.countMatching(ctx, kind, filter)
		if err != nil {
			return nil, 0, err
		}
		totalCount = count
	}
	return entities, totalCount, nil
}

func (r *entityRepository) countMatching(ctx context.Context, kind domain.Kind, filter *domain.EntityFilter) (int, error) {
	where, args := buildFilterClause(kind, filter)
	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM entities WHERE "+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return count, nil
}

// FindByField filters entities by JSONB containment of {field: value}
func (r *entityRepository) FindByField(ctx context.Context, kind domain.Kind, field string, value any) ([]domain.Entity, error) {
	filterJSON, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal filter: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE kind = $1 AND fields @> $2 ORDER BY id`,
		string(kind), filterJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to filter entities by field: %w", err)
	}
	return collectEntities(rows)
}

// Update updates an entity
func (r *entityRepository) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	fieldsJSON, err := entity.GetFieldsAsJSONB()
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to marshal fields: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`UPDATE entities SET fields = $3, version = $4, updated_at = now()
		 WHERE id = $1 AND kind = $2 AND version = $5 RETURNING `+entityColumns,
		entity.ID, string(entity.Kind), fieldsJSON, entity.Version, entity.Version-1,
	)
	updated, err := scanEntity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is gone or another write moved its version on.
		if _, getErr := r.GetByID(ctx, entity.Kind, entity.ID); getErr != nil {
			return domain.Entity{}, getErr
		}
		return domain.Entity{}, ErrVersionConflict
	}
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to update entity: %w", err)
	}
	return updated, nil
}

// Delete deletes an entity
func (r *entityRepository) Delete(ctx context.Context, kind domain.Kind, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM entities WHERE id = $1 AND kind = $2`, id, string(kind))
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NewNotFoundError(kind.Singular(), strconv.FormatInt(id, 10))
	}
	return nil
}

// Count returns the number of entities of kind
func (r *entityRepository) Count(ctx context.Context, kind domain.Kind) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM entities WHERE kind = $1`, string(kind)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get entity count: %w", err)
	}
	return count, nil
}

// buildFilterClause renders filter as a WHERE clause with positional args.
// Field names come from the kind schema and are quoted as literals.
func buildFilterClause(kind domain.Kind, filter *domain.EntityFilter) (string, []any) {
	clauses := []string{"kind = $1"}
	args := []any{string(kind)}
	if filter == nil {
		return clauses[0], args
	}

	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		clauses = append(clauses, fmt.Sprintf("COALESCE((fields->>'is_active')::boolean, true) = $%d", len(args)))
	}
	for _, field := range slices.Sorted(maps.Keys(filter.FieldFilters)) {
		args = append(args, filter.FieldFilters[field])
		clauses = append(clauses, fmt.Sprintf("lower(fields->>%s) = lower($%d)", quoteLiteral(field), len(args)))
	}
	for _, field := range slices.Sorted(maps.Keys(filter.AnyOf)) {
		want := make([]string, len(filter.AnyOf[field]))
		for i, v := range filter.AnyOf[field] {
			want[i] = strings.ToLower(v)
		}
		args = append(args, want)
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements_text(CASE WHEN jsonb_typeof(fields->%s) = 'array' THEN fields->%s ELSE '[]'::jsonb END) AS v WHERE lower(v) = ANY($%d))",
			quoteLiteral(field), quoteLiteral(field), len(args)))
	}
	if filter.Overdue {
		args = append(args, filter.Today(), domain.OpenProjectStatuses)
		clauses = append(clauses, fmt.Sprintf(
			"(fields->>'due_date' <> '' AND fields->>'due_date' < $%d AND fields->>'status' = ANY($%d))",
			len(args)-1, len(args)))
	}
	if filter.UpcomingInspections {
		args = append(args, filter.InspectionHorizon(), domain.InspectionProjectStatuses)
		clauses = append(clauses, fmt.Sprintf(
			"(((fields->>'rough_in_date' <> '' AND fields->>'rough_in_date' <= $%[1]d) OR (fields->>'final_inspection_date' <> '' AND fields->>'final_inspection_date' <= $%[1]d)) AND fields->>'status' = ANY($%[2]d))",
			len(args)-1, len(args)))
	}
	if search := strings.TrimSpace(filter.TextSearch); search != "" {
		args = append(args, "%"+search+"%")
		var ors []string
		for _, field := range domain.SearchFields(kind) {
			ors = append(ors, fmt.Sprintf("fields->>%s ILIKE $%d", quoteLiteral(field), len(args)))
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(clauses, " AND "), args
}

func orderExpression(order domain.EntitySort) string {
	if order.Field == "" {
		order = domain.DefaultSort
	}
	var expr string
	switch order.Field {
	case domain.KeyID, domain.KeyCreatedAt, domain.KeyUpdatedAt:
		expr = order.Field
	default:
		expr = fmt.Sprintf("lower(fields->>%s)", quoteLiteral(order.Field))
		if schemaField, ok := lookupField(order.Field); ok && schemaField.Type == domain.FieldTypeInteger {
			expr = fmt.Sprintf("(fields->>%s)::bigint", quoteLiteral(order.Field))
		}
	}
	return expr + " " + sortDirection(order)
}

func lookupField(name string) (domain.FieldDefinition, bool) {
	for _, kind := range domain.Kinds() {
		schema, _ := domain.SchemaFor(kind)
		if def, ok := schema.Field(name); ok {
			return def, true
		}
	}
	return domain.FieldDefinition{}, false
}

func sortDirection(order domain.EntitySort) string {
	if order.Field == "" {
		order = domain.DefaultSort
	}
	if order.Direction == domain.SortDirectionDesc {
		return "DESC"
	}
	return "ASC"
}

func scanEntity(row pgx.Row) (domain.Entity, error) {
	var (
		id         int64
		kind       string
		fieldsJSON []byte
		version    int64
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := row.Scan(&id, &kind, &fieldsJSON, &version, &createdAt, &updatedAt); err != nil {
		return domain.Entity{}, err
	}
	return buildEntity(id, kind, fieldsJSON, version, createdAt, updatedAt)
}

func collectEntities(rows pgx.Rows) ([]domain.Entity, error) {
	defer rows.Close()

	entities := []domain.Entity{}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

func buildEntity(
	id int64,
	kind string,
	fieldsJSON json.RawMessage,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) (domain.Entity, error) {
	fields, err := domain.FromJSONBFields(fieldsJSON)
	if err != nil {
		return domain.Entity{}, fmt.Errorf("failed to decode fields for entity %d: %w", id, err)
	}

	return domain.Entity{
		ID:        id,
		Kind:      domain.Kind(kind),
		Fields:    fields,
		Version:   version,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}
