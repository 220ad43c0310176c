package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/auth"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/repository"
)

func newTestService(t *testing.T) *EntityService {
	t.Helper()
	logger := zerolog.Nop()
	svc := NewEntityService(repository.NewMemoryStore(), &logger)
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	return svc
}

func createClient(t *testing.T, svc *EntityService, name, email string) domain.Entity {
	t.Helper()
	client, err := svc.Create(context.Background(), domain.KindClient, map[string]any{
		"name":          name,
		"contact_email": email,
	})
	require.NoError(t, err)
	return client
}

func TestCreate_AppliesDefaultsAndRecordsActivity(t *testing.T) {
	svc := newTestService(t)
	ctx := auth.ContextWithActor(context.Background(), "dana")

	client, err := svc.Create(ctx, domain.KindClient, map[string]any{
		"name":          "  Acme  ",
		"contact_email": "Billing@Acme.COM",
		"id":            99,
	})
	require.NoError(t, err)
	assert.NotEqual(t, int64(99), client.ID, "reserved keys are ignored")
	assert.Equal(t, "Acme", client.Fields["name"])
	assert.Equal(t, "billing@acme.com", client.Fields["contact_email"])
	assert.Equal(t, true, client.Fields["is_active"])

	entries, err := svc.Activities(ctx, domain.KindClient, client.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActivityCreated, entries[0].Action)
	assert.Equal(t, "dana", entries[0].Actor)
	assert.Equal(t, "Acme", entries[0].EntityName)
}

func TestCreate_RejectsDuplicateUniqueField(t *testing.T) {
	svc := newTestService(t)
	createClient(t, svc, "Acme", "ops@acme.com")

	_, err := svc.Create(context.Background(), domain.KindClient, map[string]any{
		"name":          "Acme Two",
		"contact_email": "OPS@acme.com",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, "client with this contact email already exists.", err.Error())
}

func TestCreate_ProjectChecksReferences(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.KindProject, map[string]any{
		"job_number":   "25-001",
		"project_name": "Warehouse",
		"address":      "1 Main St",
		"client_id":    42,
	})
	require.Error(t, err)
	assert.True(t, apperr.IsInvalidInput(err))
	assert.Contains(t, err.Error(), "client does not exist")

	client := createClient(t, svc, "Acme", "")
	project, err := svc.Create(ctx, domain.KindProject, map[string]any{
		"job_number":   "25-001",
		"project_name": "Warehouse",
		"address":      "1 Main St",
		"client_id":    client.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "not_started", project.Fields["status"])
	assert.Equal(t, "2025-03-01T12:00:00Z", project.Fields["last_status_change"])
}

func TestUpdate_PartialChangesOneField(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	client := createClient(t, svc, "Acme", "ops@acme.com")

	updated, err := svc.Update(ctx, domain.KindClient, client.ID, map[string]any{"name": "Acme Corp"}, true)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", updated.Fields["name"])
	assert.Equal(t, "ops@acme.com", updated.Fields["contact_email"])
	assert.Equal(t, client.Version+1, updated.Version)

	entries, err := svc.Activities(ctx, domain.KindClient, client.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActivityUpdated, entries[0].Action)
	require.Len(t, entries[0].Changes, 1)
	assert.Equal(t, "name", entries[0].Changes[0].Field)
	assert.Equal(t, "Acme", entries[0].Changes[0].Old)
	assert.Equal(t, "Acme Corp", entries[0].Changes[0].New)
}

func TestUpdate_RejectsEmptyRequiredField(t *testing.T) {
	svc := newTestService(t)
	client := createClient(t, svc, "Acme", "")

	_, err := svc.Update(context.Background(), domain.KindClient, client.ID, map[string]any{"name": ""}, true)
	require.Error(t, err)
	assert.Equal(t, "Name is required", err.Error())

	stored, err := svc.Get(context.Background(), domain.KindClient, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", stored.Fields["name"])
}

func TestUpdate_NoChangesKeepsVersion(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	client := createClient(t, svc, "Acme", "")

	same, err := svc.Update(ctx, domain.KindClient, client.ID, map[string]any{"name": "Acme"}, true)
	require.NoError(t, err)
	assert.Equal(t, client.Version, same.Version)

	entries, err := svc.Activities(ctx, domain.KindClient, client.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUpdate_UniqueFieldMayKeepOwnValue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	client := createClient(t, svc, "Acme", "ops@acme.com")
	other := createClient(t, svc, "Globex", "hq@globex.com")

	_, err := svc.Update(ctx, domain.KindClient, client.ID, map[string]any{"contact_email": "ops@acme.com", "phone": "555"}, true)
	require.NoError(t, err)

	_, err = svc.Update(ctx, domain.KindClient, other.ID, map[string]any{"contact_email": "ops@acme.com"}, true)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpdate_StatusChangeStampsProject(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	client := createClient(t, svc, "Acme", "")
	project, err := svc.Create(ctx, domain.KindProject, map[string]any{
		"job_number":   "25-002",
		"project_name": "Clinic",
		"address":      "2 Main St",
		"client_id":    client.ID,
	})
	require.NoError(t, err)

	later := time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return later }

	updated, err := svc.Update(ctx, domain.KindProject, project.ID, map[string]any{"due_date_note": "tbd"}, true)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T12:00:00Z", updated.Fields["last_status_change"])

	updated, err = svc.Update(ctx, domain.KindProject, project.ID, map[string]any{"status": "in_progress"}, true)
	require.NoError(t, err)
	assert.Equal(t, "2025-04-02T09:30:00Z", updated.Fields["last_status_change"])

	_, err = svc.Update(ctx, domain.KindProject, project.ID, map[string]any{"last_status_change": "x"}, true)
	assert.True(t, apperr.IsInvalidInput(err))
}

func TestUpdate_FullReplaceClearsOmittedFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	client, err := svc.Create(ctx, domain.KindClient, map[string]any{"name": "Acme", "phone": "555"})
	require.NoError(t, err)

	replaced, err := svc.Update(ctx, domain.KindClient, client.ID, map[string]any{"name": "Acme"}, false)
	require.NoError(t, err)
	_, hasPhone := replaced.Fields["phone"]
	assert.False(t, hasPhone)
	assert.Equal(t, true, replaced.Fields["is_active"])
}

func TestDelete_ArchivesClientsAndRemovesProjects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	client := createClient(t, svc, "Acme", "")
	project, err := svc.Create(ctx, domain.KindProject, map[string]any{
		"job_number":   "25-003",
		"project_name": "School",
		"address":      "3 Main St",
		"client_id":    client.ID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, domain.KindClient, client.ID))
	archived, err := svc.Get(ctx, domain.KindClient, client.ID)
	require.NoError(t, err)
	assert.False(t, archived.IsActive())
	assert.Equal(t, "2025-03-01T12:00:00Z", archived.Fields["archived_at"])

	require.NoError(t, svc.Delete(ctx, domain.KindProject, project.ID))
	_, err = svc.Get(ctx, domain.KindProject, project.ID)
	assert.True(t, apperr.IsNotFound(err))

	feed, err := svc.RecentActivity(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, feed, 2)
	assert.Equal(t, domain.ActivityDeleted, feed[0].Action)
	assert.Equal(t, "School", feed[0].EntityName)
	assert.Equal(t, domain.ActivityArchived, feed[1].Action)
}

func TestList_PagesAndValidatesQuery(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, name := range []string{"Acme", "Globex", "Initech"} {
		createClient(t, svc, name, "")
	}

	page, err := svc.List(ctx, domain.KindClient, ListQuery{
		Sort:     domain.ParseOrdering("name"),
		Page:     2,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Initech", page.Results[0].Fields["name"])

	_, err = svc.List(ctx, domain.KindClient, ListQuery{Sort: domain.ParseOrdering("-shoe_size")})
	assert.True(t, apperr.IsInvalidInput(err))

	_, err = svc.List(ctx, domain.KindClient, ListQuery{Filter: domain.EntityFilter{FieldFilters: map[string]string{"shoe_size": "9"}}})
	assert.True(t, apperr.IsInvalidInput(err))
}

// lockstepRepository holds the first two reads of one entity until both have
// happened, so two writers start from the same version.
type lockstepRepository struct {
	repository.EntityRepository

	mu      sync.Mutex
	id      int64
	reads   int
	release chan struct{}
}

func newLockstepRepository(inner repository.EntityRepository) *lockstepRepository {
	return &lockstepRepository{EntityRepository: inner, release: make(chan struct{})}
}

func (r *lockstepRepository) hold(id int64) {
	r.mu.Lock()
	r.id = id
	r.mu.Unlock()
}

func (r *lockstepRepository) GetByID(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, error) {
	entity, err := r.EntityRepository.GetByID(ctx, kind, id)

	r.mu.Lock()
	if r.id == 0 || id != r.id || r.reads >= 2 {
		r.mu.Unlock()
		return entity, err
	}
	r.reads++
	if r.reads == 2 {
		close(r.release)
	}
	r.mu.Unlock()

	select {
	case <-r.release:
	case <-ctx.Done():
		return domain.Entity{}, ctx.Err()
	}
	return entity, err
}

// conflictingRepository reports every update as stale.
type conflictingRepository struct {
	repository.EntityRepository
	updates int
}

func (r *conflictingRepository) Update(ctx context.Context, entity domain.Entity) (domain.Entity, error) {
	r.updates++
	return domain.Entity{}, repository.ErrVersionConflict
}

type failingActivities struct {
	repository.ActivityRepository
}

func (failingActivities) Record(ctx context.Context, entry domain.ActivityEntry) error {
	return errors.New("activity log unavailable")
}

func TestUpdate_ConcurrentPatchesOfDifferentFieldsBothPersist(t *testing.T) {
	logger := zerolog.Nop()
	store := repository.NewMemoryStore()
	gate := newLockstepRepository(store.Entities)
	store.Entities = gate
	svc := NewEntityService(store, &logger)

	client := createClient(t, svc, "Acme", "billing@acme.com")
	gate.hold(client.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inputs := []map[string]any{{"name": "Acme Corp"}, {"phone": "555-0100"}}
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i, input := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Update(ctx, domain.KindClient, client.ID, input, true)
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := svc.Get(ctx, domain.KindClient, client.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", stored.Fields["name"])
	assert.Equal(t, "555-0100", stored.Fields["phone"])
	assert.Equal(t, int64(3), stored.Version)

	entries, err := svc.Activities(ctx, domain.KindClient, client.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestUpdate_GivesUpWithConflictWhenEntityKeepsChanging(t *testing.T) {
	logger := zerolog.Nop()
	store := repository.NewMemoryStore()
	conflicting := &conflictingRepository{EntityRepository: store.Entities}
	store.Entities = conflicting
	svc := NewEntityService(store, &logger)
	client := createClient(t, svc, "Acme", "billing@acme.com")

	_, err := svc.Update(context.Background(), domain.KindClient, client.ID, map[string]any{"name": "Acme Corp"}, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, maxWriteAttempts, conflicting.updates)

	err = svc.Delete(context.Background(), domain.KindClient, client.ID)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestUpdate_FailsWhenActivityCannotBeRecorded(t *testing.T) {
	logger := zerolog.Nop()
	store := repository.NewMemoryStore()
	svc := NewEntityService(store, &logger)
	client := createClient(t, svc, "Acme", "billing@acme.com")

	store.Activities = failingActivities{ActivityRepository: store.Activities}
	svc = NewEntityService(store, &logger)
	_, err := svc.Update(context.Background(), domain.KindClient, client.ID, map[string]any{"name": "Acme Corp"}, true)
	assert.ErrorContains(t, err, "activity log unavailable")
}
