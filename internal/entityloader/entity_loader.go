// Package entityloader batches entity lookups made while rendering one
// request, such as resolving the names shown in an activity feed.
package entityloader

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/repository"
)

type EntityLoader struct {
	Loader *dataloader.Loader
}

// Key builds the loader key of an entity, "kind:id".
func Key(kind domain.Kind, id int64) dataloader.Key {
	return dataloader.StringKey(fmt.Sprintf("%s:%d", kind, id))
}

func parseKey(key string) (domain.Kind, int64, error) {
	rawKind, rawID, ok := strings.Cut(key, ":")
	if !ok {
		return "", 0, fmt.Errorf("invalid entity key %q", key)
	}
	kind, err := domain.ParseKind(rawKind)
	if err != nil {
		return "", 0, err
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid entity id in key %q: %w", key, err)
	}
	return kind, id, nil
}

func NewEntityLoader(repo repository.EntityRepository) *EntityLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		byKind := make(map[domain.Kind][]int64)
		positions := make(map[string]int, len(keys))

		for i, k := range keys {
			kind, id, err := parseKey(k.String())
			if err != nil {
				results[i] = &dataloader.Result{Error: err}
				continue
			}
			byKind[kind] = append(byKind[kind], id)
			positions[k.String()] = i
		}

		for kind, ids := range byKind {
			entities, err := repo.GetByIDs(ctx, kind, ids)
			if err != nil {
				for _, id := range ids {
					results[positions[Key(kind, id).String()]] = &dataloader.Result{Error: err}
				}
				continue
			}
			for _, e := range entities {
				if pos, ok := positions[Key(kind, e.ID).String()]; ok {
					results[pos] = &dataloader.Result{Data: e}
				}
			}
		}

		// Missing entities resolve to nil rather than an error.
		for i := range results {
			if results[i] == nil {
				results[i] = &dataloader.Result{Data: nil}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &EntityLoader{Loader: loader}
}

// Load returns the entity, or false when it no longer exists.
func (l *EntityLoader) Load(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, bool, error) {
	data, err := l.Loader.Load(ctx, Key(kind, id))()
	if err != nil {
		return domain.Entity{}, false, err
	}
	entity, ok := data.(domain.Entity)
	return entity, ok, nil
}

// ResolveNames replaces the recorded entity name of each entry with the
// current display name of the entity. Entries for deleted entities keep the
// name recorded at write time.
func (l *EntityLoader) ResolveNames(ctx context.Context, entries []domain.ActivityEntry) error {
	if len(entries) == 0 {
		return nil
	}
	keys := make(dataloader.Keys, len(entries))
	for i, entry := range entries {
		keys[i] = Key(entry.Kind, entry.EntityID)
	}
	values, errs := l.Loader.LoadMany(ctx, keys)()
	for i := range entries {
		if i < len(errs) && errs[i] != nil {
			return errs[i]
		}
		if entity, ok := values[i].(domain.Entity); ok {
			entries[i].EntityName = entity.DisplayName()
		}
	}
	return nil
}
