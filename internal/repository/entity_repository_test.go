package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
)

func seedClients(t *testing.T, repo EntityRepository, names ...string) []domain.Entity {
	t.Helper()
	out := make([]domain.Entity, 0, len(names))
	for _, name := range names {
		created, err := repo.Create(context.Background(), domain.NewEntity(domain.KindClient, map[string]any{
			"name":          name,
			"contact_email": strings.ToLower(name) + "@example.com",
			"is_active":     true,
		}))
		require.NoError(t, err)
		out = append(out, created)
	}
	return out
}

func TestMemoryEntityRepository_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntityRepository()

	created := seedClients(t, repo, "Acme")[0]
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, int64(1), created.Version)

	fetched, err := repo.GetByID(ctx, domain.KindClient, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", fetched.Fields["name"])

	_, err = repo.GetByID(ctx, domain.KindProject, created.ID)
	assert.True(t, apperr.IsNotFound(err), "an id of another kind is not found")

	fetched.Fields["name"] = "Acme Corp"
	fetched.Version++
	updated, err := repo.Update(ctx, fetched)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", updated.Fields["name"])
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	require.NoError(t, repo.Delete(ctx, domain.KindClient, created.ID))
	_, err = repo.GetByID(ctx, domain.KindClient, created.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(repo.Delete(ctx, domain.KindClient, created.ID)))
}

func TestMemoryEntityRepository_UpdateRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntityRepository()
	created := seedClients(t, repo, "Acme")[0]

	first := created.Clone()
	first.Fields["name"] = "Acme Corp"
	first.Version = created.Version + 1
	_, err := repo.Update(ctx, first)
	require.NoError(t, err)

	stale := created.Clone()
	stale.Fields["phone"] = "555-0100"
	stale.Version = created.Version + 1
	_, err = repo.Update(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.GetByID(ctx, domain.KindClient, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", stored.Fields["name"])
	assert.Nil(t, stored.Fields["phone"])
	assert.Equal(t, int64(2), stored.Version)

	missing := created.Clone()
	missing.ID = 99
	_, err = repo.Update(ctx, missing)
	assert.True(t, apperr.IsNotFound(err), "a missing row is reported before the version check")
}

func TestMemoryEntityRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntityRepository()
	created := seedClients(t, repo, "Acme")[0]

	created.Fields["name"] = "mutated"
	fetched, err := repo.GetByID(ctx, domain.KindClient, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", fetched.Fields["name"])
}

func TestMemoryEntityRepository_ListFilterSortPage(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntityRepository()
	seeded := seedClients(t, repo, "Charlie", "alpha", "Bravo", "Delta")

	inactive := seeded[3]
	inactive.Fields["is_active"] = false
	inactive.Version++
	_, err := repo.Update(ctx, inactive)
	require.NoError(t, err)

	page, total, err := repo.List(ctx, domain.KindClient, nil, domain.ParseOrdering("name"), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, page, 2)
	assert.Equal(t, "alpha", page[0].Fields["name"])
	assert.Equal(t, "Bravo", page[1].Fields["name"])

	page, _, err = repo.List(ctx, domain.KindClient, nil, domain.ParseOrdering("-name"), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Bravo", page[0].Fields["name"])

	active := true
	page, total, err = repo.List(ctx, domain.KindClient, &domain.EntityFilter{IsActive: &active}, domain.DefaultSort, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "Bravo", page[0].Fields["name"], "default ordering is newest first")

	page, total, err = repo.List(ctx, domain.KindClient, &domain.EntityFilter{TextSearch: "ALP"}, domain.DefaultSort, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "alpha", page[0].Fields["name"])

	page, total, err = repo.List(ctx, domain.KindClient, nil, domain.DefaultSort, 10, 40)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, page)
}

func TestMemoryEntityRepository_FindByField(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntityRepository()
	seedClients(t, repo, "Acme", "Globex")

	found, err := repo.FindByField(ctx, domain.KindClient, "contact_email", "globex@example.com")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Globex", found[0].Fields["name"])

	found, err = repo.FindByField(ctx, domain.KindArchitect, "contact_email", "globex@example.com")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemoryActivityRepository_NewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryActivityRepository()
	entity := domain.Entity{ID: 7, Kind: domain.KindClient}

	require.NoError(t, repo.Record(ctx, domain.NewActivityEntry(entity, domain.ActivityCreated, "sam", nil)))
	require.NoError(t, repo.Record(ctx, domain.NewActivityEntry(entity, domain.ActivityUpdated, "sam", nil)))
	other := domain.Entity{ID: 8, Kind: domain.KindClient}
	require.NoError(t, repo.Record(ctx, domain.NewActivityEntry(other, domain.ActivityCreated, "", nil)))

	entries, err := repo.ListByEntity(ctx, domain.KindClient, 7, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActivityUpdated, entries[0].Action)

	all, err := repo.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.ActivityUpdated, all[0].Action)
}

func TestMemoryImportLogRepository_FiltersByKindAndFile(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryImportLogRepository()

	require.NoError(t, repo.Record(ctx, domain.ImportLogEntry{Kind: domain.KindClient, FileName: "a.csv", RowNumber: 1, Message: "Name is required"}))
	require.NoError(t, repo.Record(ctx, domain.ImportLogEntry{Kind: domain.KindClient, FileName: "a.csv", RowNumber: 3, Message: "Enter a valid email address."}))
	require.NoError(t, repo.Record(ctx, domain.ImportLogEntry{Kind: domain.KindClient, FileName: "b.csv", RowNumber: 2, Message: "Name is required"}))
	require.NoError(t, repo.Record(ctx, domain.ImportLogEntry{Kind: domain.KindProject, FileName: "a.csv", RowNumber: 1, Message: "Address is required"}))

	entries, err := repo.List(ctx, domain.KindClient, "a.csv", 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].RowNumber)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)

	all, err := repo.List(ctx, domain.KindClient, "", 1, 1)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a.csv", all[0].FileName)
	assert.Equal(t, 3, all[0].RowNumber)
}

func TestBuildFilterClause(t *testing.T) {
	active := false
	where, args := buildFilterClause(domain.KindProject, &domain.EntityFilter{
		IsActive:   &active,
		TextSearch: "tower",
	})
	assert.Contains(t, where, "kind = $1")
	assert.Contains(t, where, "COALESCE((fields->>'is_active')::boolean, true) = $2")
	assert.Contains(t, where, "fields->>'job_number' ILIKE $3")
	assert.Equal(t, []any{"projects", false, "%tower%"}, args)

	assert.Equal(t, "(fields->>'year')::bigint ASC", orderExpression(domain.ParseOrdering("year")))
	assert.Equal(t, "created_at DESC", orderExpression(domain.EntitySort{}))
	assert.Equal(t, "lower(fields->>'it''s')", strings.TrimSuffix(orderExpression(domain.ParseOrdering("it's")), " ASC"))
}

func TestBuildFilterClause_ProjectRules(t *testing.T) {
	asOf := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	where, args := buildFilterClause(domain.KindProject, &domain.EntityFilter{
		AnyOf:               map[string][]string{"project_type": {"M", "Ti"}},
		Overdue:             true,
		UpcomingInspections: true,
		AsOf:                asOf,
	})
	assert.Contains(t, where, "jsonb_array_elements_text(CASE WHEN jsonb_typeof(fields->'project_type') = 'array'")
	assert.Contains(t, where, "lower(v) = ANY($2)")
	assert.Contains(t, where, "fields->>'due_date' < $3 AND fields->>'status' = ANY($4)")
	assert.Contains(t, where, "fields->>'final_inspection_date' <= $5")
	assert.Equal(t, []any{
		"projects",
		[]string{"m", "ti"},
		"2025-03-10", domain.OpenProjectStatuses,
		"2025-03-17", domain.InspectionProjectStatuses,
	}, args)
}

func TestMemoryEntityRepository_ProjectRuleFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryEntityRepository()
	seed := []map[string]any{
		{"job_number": "1", "status": "in_progress", "due_date": "2025-03-01", "project_type": []any{"M", "E"}},
		{"job_number": "2", "status": "completed", "due_date": "2025-03-01", "project_type": []any{"P"}},
		{"job_number": "3", "status": "in_progress", "due_date": "2025-04-01", "rough_in_date": "2025-03-14", "project_type": []any{"TI"}},
		{"job_number": "4", "status": "not_started", "final_inspection_date": "2025-03-12"},
		{"job_number": "5", "status": "in_progress", "final_inspection_date": "2025-05-01"},
	}
	for _, fields := range seed {
		_, err := repo.Create(ctx, domain.NewEntity(domain.KindProject, fields))
		require.NoError(t, err)
	}
	asOf := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	jobs := func(filter domain.EntityFilter) []string {
		t.Helper()
		filter.AsOf = asOf
		page, _, err := repo.List(ctx, domain.KindProject, &filter, domain.ParseOrdering("job_number"), 0, 0)
		require.NoError(t, err)
		out := make([]string, len(page))
		for i, e := range page {
			out[i] = e.Fields["job_number"].(string)
		}
		return out
	}

	assert.Equal(t, []string{"1"}, jobs(domain.EntityFilter{Overdue: true}))
	assert.Equal(t, []string{"3"}, jobs(domain.EntityFilter{UpcomingInspections: true}))
	assert.Equal(t, []string{"1", "3"}, jobs(domain.EntityFilter{AnyOf: map[string][]string{"project_type": {"e", "ti"}}}))
	assert.Empty(t, jobs(domain.EntityFilter{AnyOf: map[string][]string{"project_type": {"FP"}}}))
}

func TestStoreWithTx(t *testing.T) {
	ctx := context.Background()
	memory := NewMemoryStore()
	var ran bool
	require.NoError(t, memory.WithTx(ctx, func(tx Store) error {
		ran = true
		assert.Same(t, memory.Entities, tx.Entities)
		return nil
	}))
	assert.True(t, ran, "a store without transactions runs fn directly")

	inner := NewMemoryStore()
	var began int
	wrapped := memory
	wrapped.tx = func(ctx context.Context, fn func(Store) error) error {
		began++
		return fn(inner)
	}
	err := wrapped.WithTx(ctx, func(tx Store) error {
		assert.Same(t, inner.Entities, tx.Entities)
		return ErrVersionConflict
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 1, began)
}
