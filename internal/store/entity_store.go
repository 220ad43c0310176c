// Package store keeps a client-side mirror of one REST resource collection.
package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/restclient"
)

// Backend is the subset of restclient.Resource the store needs.
type Backend interface {
	Kind() domain.Kind
	List(ctx context.Context, params restclient.ListParams) (domain.Page, error)
	Get(ctx context.Context, id int64) (domain.Entity, error)
	Create(ctx context.Context, fields map[string]any) (domain.Entity, error)
	Patch(ctx context.Context, id int64, fields map[string]any) (domain.Entity, error)
	Delete(ctx context.Context, id int64) error
}

// EntityStore caches the current page of one kind and keeps it in step with
// writes made through it.
type EntityStore struct {
	backend Backend
	logger  *zerolog.Logger
	group   singleflight.Group

	mu       sync.RWMutex
	params   restclient.ListParams
	entities []domain.Entity
	page     domain.Page
	lastErr  string
}

// New creates a store over backend.
func New(backend Backend, logger *zerolog.Logger) *EntityStore {
	if logger == nil {
		logger = logging.Default()
	}
	l := logger.With().Str("kind", string(backend.Kind())).Logger()
	return &EntityStore{backend: backend, logger: &l}
}

// Kind returns the kind the store mirrors.
func (s *EntityStore) Kind() domain.Kind {
	return s.backend.Kind()
}

// Fetch loads the page described by params and makes it current.
func (s *EntityStore) Fetch(ctx context.Context, params restclient.ListParams) (domain.Page, error) {
	s.mu.Lock()
	s.params = params
	s.mu.Unlock()
	return s.Refresh(ctx)
}

// Refresh reloads the current page. Concurrent refreshes of the same query
// share one request.
func (s *EntityStore) Refresh(ctx context.Context) (domain.Page, error) {
	s.mu.RLock()
	params := s.params
	s.mu.RUnlock()

	key := params.Values().Encode()
	v, shared, err := s.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		return s.backend.List(ctx, params)
	})
	if err != nil {
		s.setError(err, "Failed to fetch "+string(s.Kind()))
		return domain.Page{}, err
	}
	page := v.(domain.Page)
	s.logger.Debug().Int("count", page.Count).Bool("shared", shared).Msg("refreshed entities")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = page
	s.entities = cloneAll(page.Results)
	s.lastErr = ""
	return s.pageLocked(), nil
}

// coalesce runs fn once for concurrent callers of the same key. fn gets a
// context that keeps the first caller's values but not its cancellation, so
// one caller giving up does not fail the others. Each caller stops waiting
// when its own ctx is done.
func (s *EntityStore) coalesce(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Entities returns a copy of the cached entities.
func (s *EntityStore) Entities() []domain.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAll(s.entities)
}

// Page returns the cached page with its metadata.
func (s *EntityStore) Page() domain.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pageLocked()
}

// Count is the total number of entities matching the current query.
func (s *EntityStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page.Count
}

// Error returns the message of the last failed operation, or "".
func (s *EntityStore) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Cached returns the cached entity with id.
func (s *EntityStore) Cached(id int64) (domain.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.entities[i].Clone(), true
	}
	return domain.Entity{}, false
}

// GetByID returns the cached entity or fetches it from the backend.
func (s *EntityStore) GetByID(ctx context.Context, id int64) (domain.Entity, error) {
	if entity, ok := s.Cached(id); ok {
		return entity, nil
	}
	v, _, err := s.coalesce(ctx, "get:"+strconv.FormatInt(id, 10), func(ctx context.Context) (any, error) {
		return s.backend.Get(ctx, id)
	})
	if err != nil {
		s.setError(err, fmt.Sprintf("Failed to fetch %s", s.Kind().Singular()))
		return domain.Entity{}, err
	}
	return v.(domain.Entity).Clone(), nil
}

// Create creates an entity and puts it at the head of the cached page.
func (s *EntityStore) Create(ctx context.Context, fields map[string]any) (domain.Entity, error) {
	created, err := s.backend.Create(ctx, fields)
	if err != nil {
		s.setError(err, fmt.Sprintf("Failed to create %s", s.Kind().Singular()))
		return domain.Entity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append([]domain.Entity{created.Clone()}, s.entities...)
	s.page.Count++
	s.lastErr = ""
	return created, nil
}

// Update applies a partial update and replaces the cached copy with the
// server's.
func (s *EntityStore) Update(ctx context.Context, id int64, fields map[string]any) (domain.Entity, error) {
	updated, err := s.backend.Patch(ctx, id, fields)
	if err != nil {
		s.setError(err, fmt.Sprintf("Failed to update %s", s.Kind().Singular()))
		return domain.Entity{}, err
	}
	s.replace(updated)
	return updated, nil
}

// Delete deletes an entity and drops it from the cache.
func (s *EntityStore) Delete(ctx context.Context, id int64) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		s.setError(err, fmt.Sprintf("Failed to delete %s", s.Kind().Singular()))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.entities = append(s.entities[:i], s.entities[i+1:]...)
		if s.page.Count > 0 {
			s.page.Count--
		}
	}
	s.lastErr = ""
	return nil
}

// UpdateField applies {field: value} to the cached entity, PATCHes it and
// merges the server response. If the PATCH fails only that field is put
// back to the value it had before, and only if nothing else changed it in
// the meantime. The signature matches reconcile.UpdateFunc[int64].
func (s *EntityStore) UpdateField(ctx context.Context, id int64, field string, value any) (map[string]any, error) {
	s.mu.Lock()
	var (
		previous any
		existed  bool
		cached   bool
	)
	if i := s.indexLocked(id); i >= 0 {
		cached = true
		previous, existed = s.entities[i].Field(field)
		s.entities[i] = s.entities[i].WithField(field, value)
	}
	s.mu.Unlock()

	updated, err := s.backend.Patch(ctx, id, map[string]any{field: value})
	if err != nil {
		if cached {
			s.revertField(id, field, value, previous, existed)
		}
		s.setError(err, fmt.Sprintf("Failed to update %s", s.Kind().Singular()))
		return nil, err
	}

	s.replace(updated)
	return updated.Representation(), nil
}

func (s *EntityStore) revertField(id int64, field string, optimistic, previous any, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return
	}
	current, _ := s.entities[i].Field(field)
	if !domain.ValuesEqual(current, optimistic) {
		return
	}
	if existed {
		s.entities[i] = s.entities[i].WithField(field, previous)
	} else {
		s.entities[i] = s.entities[i].WithoutField(field)
	}
	s.logger.Debug().Int64("id", id).Str("field", field).Msg("reverted optimistic field")
}

func (s *EntityStore) replace(entity domain.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(entity.ID); i >= 0 {
		s.entities[i] = entity.Clone()
	}
	s.lastErr = ""
}

func (s *EntityStore) setError(err error, fallback string) {
	msg, ok := apperr.UserMessage(err)
	if !ok {
		msg = fallback
	}
	s.logger.Warn().Err(err).Msg(fallback)

	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *EntityStore) indexLocked(id int64) int {
	for i, e := range s.entities {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *EntityStore) pageLocked() domain.Page {
	page := s.page
	page.Results = cloneAll(s.entities)
	return page
}

func cloneAll(entities []domain.Entity) []domain.Entity {
	out := make([]domain.Entity, len(entities))
	for i, e := range entities {
		out[i] = e.Clone()
	}
	return out
}
