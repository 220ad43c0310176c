package entityloader

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/repository"
)

type countingRepo struct {
	repository.EntityRepository
	mu    sync.Mutex
	calls map[domain.Kind]int
}

func (c *countingRepo) GetByIDs(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Entity, error) {
	c.mu.Lock()
	c.calls[kind]++
	c.mu.Unlock()
	return c.EntityRepository.GetByIDs(ctx, kind, ids)
}

func TestResolveNamesBatchesByKind(t *testing.T) {
	ctx := context.Background()
	repo := &countingRepo{EntityRepository: repository.NewMemoryEntityRepository(), calls: map[domain.Kind]int{}}

	acme, err := repo.Create(ctx, domain.NewEntity(domain.KindClient, map[string]any{"name": "Acme Corp"}))
	require.NoError(t, err)
	globex, err := repo.Create(ctx, domain.NewEntity(domain.KindClient, map[string]any{"name": "Globex"}))
	require.NoError(t, err)
	project, err := repo.Create(ctx, domain.NewEntity(domain.KindProject, map[string]any{"project_name": "Warehouse"}))
	require.NoError(t, err)

	entries := []domain.ActivityEntry{
		{Kind: domain.KindClient, EntityID: acme.ID, EntityName: "Acme"},
		{Kind: domain.KindProject, EntityID: project.ID},
		{Kind: domain.KindClient, EntityID: globex.ID},
		{Kind: domain.KindClient, EntityID: 999, EntityName: "Deleted Co"},
	}

	loader := NewEntityLoader(repo)
	require.NoError(t, loader.ResolveNames(ctx, entries))

	assert.Equal(t, "Acme Corp", entries[0].EntityName)
	assert.Equal(t, "Warehouse", entries[1].EntityName)
	assert.Equal(t, "Globex", entries[2].EntityName)
	assert.Equal(t, "Deleted Co", entries[3].EntityName)
	assert.Equal(t, 1, repo.calls[domain.KindClient])
	assert.Equal(t, 1, repo.calls[domain.KindProject])
}

func TestLoadMissingEntity(t *testing.T) {
	loader := NewEntityLoader(repository.NewMemoryEntityRepository())
	_, ok, err := loader.Load(context.Background(), domain.KindClient, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseKey(t *testing.T) {
	kind, id, err := parseKey(Key(domain.KindArchitect, 12).String())
	require.NoError(t, err)
	assert.Equal(t, domain.KindArchitect, kind)
	assert.Equal(t, int64(12), id)

	_, _, err = parseKey("architects")
	assert.Error(t, err)
}
