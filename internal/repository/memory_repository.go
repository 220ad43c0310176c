package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
)

type memoryEntityRepository struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]domain.Entity
}

// NewMemoryEntityRepository creates an entity repository kept in process
// memory.
func NewMemoryEntityRepository() EntityRepository {
	return &memoryEntityRepository{rows: map[int64]domain.Entity{}}
}

// NewMemoryStore returns a Store backed entirely by memory.
func NewMemoryStore() Store {
	return Store{
		Entities:   NewMemoryEntityRepository(),
		Activities: NewMemoryActivityRepository(),
		ImportLogs: NewMemoryImportLogRepository(),
	}
}

func (r *memoryEntityRepository) Create(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	if _, err := domain.ParseKind(string(entity.Kind)); err != nil {
		return domain.Entity{}, fmt.Errorf("failed to create entity: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	now := time.Now().UTC()
	stored := entity.Clone()
	stored.ID = r.nextID
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.rows[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *memoryEntityRepository) GetByID(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entity, ok := r.rows[id]
	if !ok || entity.Kind != kind {
		return domain.Entity{}, apperr.NewNotFoundError(kind.Singular(), strconv.FormatInt(id, 10))
	}
	return entity.Clone(), nil
}

func (r *memoryEntityRepository) GetByIDs(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entities := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		if entity, ok := r.rows[id]; ok && entity.Kind == kind {
			entities = append(entities, entity.Clone())
		}
	}
	return entities, nil
}

func (r *memoryEntityRepository) List(
	ctx context.Context,
	kind domain.Kind,
	filter *domain.EntityFilter,
	order domain.EntitySort,
	limit int,
	offset int,
) ([]domain.Entity, int, error) {
	r.mu.RLock()
	matched := make([]domain.Entity, 0, len(r.rows))
	for _, entity := range r.rows {
		if entity.Kind == kind && matchesFilter(entity, filter) {
			matched = append(matched, entity.Clone())
		}
	}
	r.mu.RUnlock()

	sortEntities(matched, order)

	total := len(matched)
	if offset >= total {
		return []domain.Entity{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

func (r *memoryEntityRepository) FindByField(ctx context.Context, kind domain.Kind, field string, value any) ([]domain.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Entity
	for _, entity := range r.rows {
		if entity.Kind != kind {
			continue
		}
		if current, ok := entity.Fields[field]; ok && domain.ValuesEqual(current, value) {
			out = append(out, entity.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryEntityRepository) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rows[entity.ID]
	if !ok || existing.Kind != entity.Kind {
		return domain.Entity{}, apperr.NewNotFoundError(entity.Kind.Singular(), strconv.FormatInt(entity.ID, 10))
	}
	if existing.Version != entity.Version-1 {
		return domain.Entity{}, ErrVersionConflict
	}
	stored := entity.Clone()
	stored.CreatedAt = existing.CreatedAt
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	r.rows[stored.ID] = stored
	return stored.Clone(), nil
}

func (r *memoryEntityRepository) Delete(ctx context.Context, kind domain.Kind, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.rows[id]
	if !ok || existing.Kind != kind {
		return apperr.NewNotFoundError(kind.Singular(), strconv.FormatInt(id, 10))
	}
	delete(r.rows, id)
	return nil
}

func (r *memoryEntityRepository) Count(ctx context.Context, kind domain.Kind) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, entity := range r.rows {
		if entity.Kind == kind {
			n++
		}
	}
	return n, nil
}

func matchesFilter(entity domain.Entity, filter *domain.EntityFilter) bool {
	if filter == nil {
		return true
	}
	if filter.IsActive != nil && entity.IsActive() != *filter.IsActive {
		return false
	}
	for field, want := range filter.FieldFilters {
		if !strings.EqualFold(domain.FormatValue(entity.Fields[field]), want) {
			return false
		}
	}
	for field, want := range filter.AnyOf {
		if !domain.HasAnyOf(entity.Fields[field], want) {
			return false
		}
	}
	if filter.Overdue && !filter.IsOverdue(entity) {
		return false
	}
	if filter.UpcomingInspections && !filter.HasUpcomingInspection(entity) {
		return false
	}
	search := strings.ToLower(strings.TrimSpace(filter.TextSearch))
	if search == "" {
		return true
	}
	for _, field := range domain.SearchFields(entity.Kind) {
		if strings.Contains(strings.ToLower(domain.FormatValue(entity.Fields[field])), search) {
			return true
		}
	}
	return false
}

func sortEntities(entities []domain.Entity, order domain.EntitySort) {
	if order.Field == "" {
		order = domain.DefaultSort
	}
	sort.SliceStable(entities, func(i, j int) bool {
		c := compareBy(entities[i], entities[j], order.Field)
		if c == 0 {
			c = compareInt(entities[i].ID, entities[j].ID)
		}
		if order.Direction == domain.SortDirectionDesc {
			return c > 0
		}
		return c < 0
	})
}

func compareBy(a, b domain.Entity, field string) int {
	switch field {
	case domain.KeyID:
		return compareInt(a.ID, b.ID)
	case domain.KeyCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case domain.KeyUpdatedAt:
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
	av, bv := a.Fields[field], b.Fields[field]
	if an, aok := numeric(av); aok {
		if bn, bok := numeric(bv); bok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(strings.ToLower(domain.FormatValue(av)), strings.ToLower(domain.FormatValue(bv)))
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func numeric(v any) (float64, bool) {
	switch typed := v.(type) {
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float64:
		return typed, true
	}
	return 0, false
}

type memoryActivityRepository struct {
	mu      sync.RWMutex
	entries []domain.ActivityEntry
}

// NewMemoryActivityRepository creates an in-memory activity log.
func NewMemoryActivityRepository() ActivityRepository {
	return &memoryActivityRepository{}
}

func (r *memoryActivityRepository) Record(ctx context.Context, entry domain.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryActivityRepository) ListByEntity(ctx context.Context, kind domain.Kind, entityID int64, limit int, offset int) ([]domain.ActivityEntry, error) {
	return r.list(func(e domain.ActivityEntry) bool {
		return e.Kind == kind && e.EntityID == entityID
	}, limit, offset), nil
}

func (r *memoryActivityRepository) List(ctx context.Context, limit int, offset int) ([]domain.ActivityEntry, error) {
	return r.list(func(domain.ActivityEntry) bool { return true }, limit, offset), nil
}

// list returns matching entries newest first.
func (r *memoryActivityRepository) list(keep func(domain.ActivityEntry) bool, limit, offset int) []domain.ActivityEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.ActivityEntry{}
	skipped := 0
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if !keep(entry) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

type memoryImportLogRepository struct {
	mu      sync.RWMutex
	entries []domain.ImportLogEntry
}

// NewMemoryImportLogRepository creates an in-memory import log.
func NewMemoryImportLogRepository() ImportLogRepository {
	return &memoryImportLogRepository{}
}

func (r *memoryImportLogRepository) Record(ctx context.Context, entry domain.ImportLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memoryImportLogRepository) List(ctx context.Context, kind domain.Kind, fileName string, limit int, offset int) ([]domain.ImportLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.ImportLogEntry{}
	skipped := 0
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := r.entries[i]
		if entry.Kind != kind || (fileName != "" && entry.FileName != fileName) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
