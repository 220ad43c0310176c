package repository

import (
	"context"
	"errors"

	"github.com/rpattn/fieldsync/internal/domain"
)

// ErrVersionConflict is returned by Update when the stored entity is no
// longer at the version the caller read.
var ErrVersionConflict = errors.New("entity version changed since it was read")

// EntityRepository defines the interface for entity operations. Every method
// is scoped by kind; an id of another kind is reported as not found.
type EntityRepository interface {
	Create(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	GetByID(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, error)
	GetByIDs(ctx context.Context, kind domain.Kind, ids []int64) ([]domain.Entity, error)
	List(ctx context.Context, kind domain.Kind, filter *domain.EntityFilter, sort domain.EntitySort, limit int, offset int) ([]domain.Entity, int, error)
	// FindByField returns entities of kind whose field equals value. Used for
	// uniqueness checks.
	FindByField(ctx context.Context, kind domain.Kind, field string, value any) ([]domain.Entity, error)
	// Update stores entity only if the stored row is still at
	// entity.Version-1. A newer row yields ErrVersionConflict.
	Update(ctx context.Context, entity domain.Entity) (domain.Entity, error)
	Delete(ctx context.Context, kind domain.Kind, id int64) error
	Count(ctx context.Context, kind domain.Kind) (int64, error)
}

// ActivityRepository stores the activity log.
type ActivityRepository interface {
	Record(ctx context.Context, entry domain.ActivityEntry) error
	ListByEntity(ctx context.Context, kind domain.Kind, entityID int64, limit int, offset int) ([]domain.ActivityEntry, error)
	List(ctx context.Context, limit int, offset int) ([]domain.ActivityEntry, error)
}

// ImportLogRepository keeps the rows rejected by bulk creates.
type ImportLogRepository interface {
	Record(ctx context.Context, entry domain.ImportLogEntry) error
	// List returns the entries of kind, newest first. An empty fileName
	// matches every file.
	List(ctx context.Context, kind domain.Kind, fileName string, limit int, offset int) ([]domain.ImportLogEntry, error)
}

// Store bundles the repositories a backend needs.
type Store struct {
	Entities   EntityRepository
	Activities ActivityRepository
	ImportLogs ImportLogRepository

	tx func(ctx context.Context, fn func(Store) error) error
}

// WithTx runs fn with repositories that share one transaction; fn's error
// rolls back every write it made. Stores without transactions, and stores
// already inside one, run fn directly.
func (s Store) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.tx == nil {
		return fn(s)
	}
	return s.tx(ctx, fn)
}
