// Package service holds the write rules of the resource backend: field
// validation, uniqueness and reference checks, server-derived fields and the
// activity log.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/auth"
	"github.com/rpattn/fieldsync/internal/domain"
	"github.com/rpattn/fieldsync/internal/logging"
	"github.com/rpattn/fieldsync/internal/repository"
	"github.com/rpattn/fieldsync/pkg/validator"
)

// Paging limits for list endpoints.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// maxWriteAttempts bounds how often a read-modify-write is replayed after
// losing a race with another write to the same entity.
const maxWriteAttempts = 5

// ListQuery describes one page of a listing.
type ListQuery struct {
	Filter   domain.EntityFilter
	Sort     domain.EntitySort
	Page     int
	PageSize int
}

// EntityService implements create/read/update/delete for every kind.
type EntityService struct {
	store      repository.Store
	entities   repository.EntityRepository
	activities repository.ActivityRepository
	validator  *validator.FieldValidator
	logger     *zerolog.Logger
	now        func() time.Time
}

// NewEntityService creates a service over store.
func NewEntityService(store repository.Store, logger *zerolog.Logger) *EntityService {
	if logger == nil {
		logger = logging.Default()
	}
	return &EntityService{
		store:      store,
		entities:   store.Entities,
		activities: store.Activities,
		validator:  validator.NewFieldValidator(),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Entities exposes the underlying repository for read-only helpers such as
// the export and the entity loader.
func (s *EntityService) Entities() repository.EntityRepository {
	return s.entities
}

func schemaFor(kind domain.Kind) (domain.EntitySchema, error) {
	schema, ok := domain.SchemaFor(kind)
	if !ok {
		return domain.EntitySchema{}, apperr.NewNotFoundError("kind", string(kind))
	}
	return schema, nil
}

// Get returns one entity.
func (s *EntityService) Get(ctx context.Context, kind domain.Kind, id int64) (domain.Entity, error) {
	if _, err := schemaFor(kind); err != nil {
		return domain.Entity{}, err
	}
	return s.entities.GetByID(ctx, kind, id)
}

// List returns one page of entities.
func (s *EntityService) List(ctx context.Context, kind domain.Kind, q ListQuery) (domain.Page, error) {
	schema, err := schemaFor(kind)
	if err != nil {
		return domain.Page{}, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize > MaxPageSize {
		q.PageSize = MaxPageSize
	}
	if err := checkSortField(schema, q.Sort); err != nil {
		return domain.Page{}, err
	}
	for field := range q.Filter.FieldFilters {
		if _, ok := schema.Field(field); !ok {
			return domain.Page{}, apperr.NewValidationError(field, fmt.Sprintf("Unknown filter '%s'", field))
		}
	}

	results, total, err := s.entities.List(ctx, kind, &q.Filter, q.Sort, q.PageSize, (q.Page-1)*q.PageSize)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.NewPage(results, total, q.Page, q.PageSize), nil
}

func checkSortField(schema domain.EntitySchema, sort domain.EntitySort) error {
	switch sort.Field {
	case "", domain.KeyID, domain.KeyCreatedAt, domain.KeyUpdatedAt:
		return nil
	}
	if _, ok := schema.Field(sort.Field); !ok {
		return apperr.NewValidationError("ordering", fmt.Sprintf("Cannot order by '%s'", sort.Field))
	}
	return nil
}

// Create validates input and stores a new entity.
func (s *EntityService) Create(ctx context.Context, kind domain.Kind, input map[string]any) (domain.Entity, error) {
	schema, err := schemaFor(kind)
	if err != nil {
		return domain.Entity{}, err
	}

	result := s.validator.Validate(schema, domain.StripReserved(input), validator.ModeFull)
	if !result.IsValid {
		return domain.Entity{}, result.Err()
	}
	fields := result.Fields
	if err := s.checkReferences(ctx, schema, fields); err != nil {
		return domain.Entity{}, err
	}
	if err := s.checkUnique(ctx, schema, fields, 0); err != nil {
		return domain.Entity{}, err
	}
	if kind == domain.KindProject {
		fields["last_status_change"] = s.now().Format(time.RFC3339)
	}

	var created domain.Entity
	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		created, err = tx.Entities.Create(ctx, domain.NewEntity(kind, fields))
		if err != nil {
			return err
		}
		return s.record(ctx, tx, created, domain.ActivityCreated, domain.DiffFields(nil, created.Fields))
	})
	if err != nil {
		return domain.Entity{}, err
	}
	s.logger.Info().Str("kind", string(kind)).Int64("id", created.ID).Msg("entity created")
	return created, nil
}

// Update applies input to an entity. With partial set only the given fields
// change (PATCH); otherwise input replaces every editable field (PUT).
//
// The write is guarded by the version read, so concurrent updates of
// different fields are replayed on top of each other instead of one
// silently dropping the other.
func (s *EntityService) Update(ctx context.Context, kind domain.Kind, id int64, input map[string]any, partial bool) (domain.Entity, error) {
	schema, err := schemaFor(kind)
	if err != nil {
		return domain.Entity{}, err
	}

	var updated domain.Entity
	err = s.writeEntity(ctx, kind, id, func(tx repository.Store) error {
		var err error
		updated, err = s.applyUpdate(ctx, tx, schema, id, input, partial)
		return err
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return updated, nil
}

func (s *EntityService) applyUpdate(ctx context.Context, tx repository.Store, schema domain.EntitySchema, id int64, input map[string]any, partial bool) (domain.Entity, error) {
	kind := schema.Kind
	existing, err := tx.Entities.GetByID(ctx, kind, id)
	if err != nil {
		return domain.Entity{}, err
	}

	mode := validator.ModeFull
	if partial {
		mode = validator.ModePartial
	}
	result := s.validator.Validate(schema, domain.StripReserved(input), mode)
	if !result.IsValid {
		return domain.Entity{}, result.Err()
	}

	next := domain.CopyFields(existing.Fields)
	if !partial {
		for _, def := range schema.Fields {
			if !def.ReadOnly {
				delete(next, def.Name)
			}
		}
	}
	for k, v := range result.Fields {
		next[k] = v
	}

	if err := s.checkReferences(ctx, schema, result.Fields); err != nil {
		return domain.Entity{}, err
	}
	if err := s.checkUnique(ctx, schema, result.Fields, id); err != nil {
		return domain.Entity{}, err
	}
	if kind == domain.KindProject && !domain.ValuesEqual(existing.Fields["status"], next["status"]) {
		next["last_status_change"] = s.now().Format(time.RFC3339)
	}

	changes := domain.DiffFields(existing.Fields, next)
	if len(changes) == 0 {
		return existing, nil
	}

	candidate := existing
	candidate.Fields = next
	candidate.Version = existing.Version + 1
	candidate.UpdatedAt = s.now()
	updated, err := tx.Entities.Update(ctx, candidate)
	if err != nil {
		return domain.Entity{}, err
	}
	if err := s.record(ctx, tx, updated, domain.ActivityUpdated, changes); err != nil {
		return domain.Entity{}, err
	}
	s.logger.Debug().Str("kind", string(kind)).Int64("id", id).Int("changes", len(changes)).Msg("entity updated")
	return updated, nil
}

// writeEntity runs fn in a transaction and replays it while the entity
// keeps moving to a newer version underneath.
func (s *EntityService) writeEntity(ctx context.Context, kind domain.Kind, id int64, fn func(tx repository.Store) error) error {
	for attempt := 1; ; attempt++ {
		err := s.store.WithTx(ctx, fn)
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		if attempt >= maxWriteAttempts {
			s.logger.Warn().Str("kind", string(kind)).Int64("id", id).Int("attempts", attempt).Msg("entity kept changing during write")
			return apperr.NewConflictError("version",
				fmt.Sprintf("%s was modified by another request. Reload and try again.", kind.Singular()))
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.logger.Debug().Str("kind", string(kind)).Int64("id", id).Int("attempt", attempt).Msg("entity version conflict, retrying")
	}
}

// Delete archives clients and architects and removes projects.
func (s *EntityService) Delete(ctx context.Context, kind domain.Kind, id int64) error {
	if _, err := schemaFor(kind); err != nil {
		return err
	}
	return s.writeEntity(ctx, kind, id, func(tx repository.Store) error {
		existing, err := tx.Entities.GetByID(ctx, kind, id)
		if err != nil {
			return err
		}

		if kind == domain.KindProject {
			if err := tx.Entities.Delete(ctx, kind, id); err != nil {
				return err
			}
			return s.record(ctx, tx, existing, domain.ActivityDeleted, nil)
		}

		if !existing.IsActive() {
			return nil
		}
		next := domain.CopyFields(existing.Fields)
		next["is_active"] = false
		next["archived_at"] = s.now().Format(time.RFC3339)
		changes := domain.DiffFields(existing.Fields, next)

		candidate := existing
		candidate.Fields = next
		candidate.Version = existing.Version + 1
		candidate.UpdatedAt = s.now()
		archived, err := tx.Entities.Update(ctx, candidate)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, archived, domain.ActivityArchived, changes)
	})
}

// Activities lists the activity of one entity, newest first.
func (s *EntityService) Activities(ctx context.Context, kind domain.Kind, id int64, limit, offset int) ([]domain.ActivityEntry, error) {
	if _, err := schemaFor(kind); err != nil {
		return nil, err
	}
	return s.activities.ListByEntity(ctx, kind, id, limit, offset)
}

// RecentActivity lists the global activity feed, newest first.
func (s *EntityService) RecentActivity(ctx context.Context, limit, offset int) ([]domain.ActivityEntry, error) {
	return s.activities.List(ctx, limit, offset)
}

// checkReferences verifies that reference fields point at existing entities.
func (s *EntityService) checkReferences(ctx context.Context, schema domain.EntitySchema, fields map[string]any) error {
	for _, def := range schema.Fields {
		if def.Type != domain.FieldTypeReference {
			continue
		}
		id, ok := fields[def.Name].(int64)
		if !ok {
			continue
		}
		if _, err := s.entities.GetByID(ctx, def.ReferenceKind, id); err != nil {
			if apperr.IsNotFound(err) {
				return apperr.NewValidationError(def.Name,
					fmt.Sprintf("Invalid pk \"%d\" - %s does not exist.", id, def.ReferenceKind.Singular()))
			}
			return err
		}
	}
	return nil
}

// checkUnique rejects values of unique fields already used by another
// entity of the same kind.
func (s *EntityService) checkUnique(ctx context.Context, schema domain.EntitySchema, fields map[string]any, selfID int64) error {
	for _, name := range schema.UniqueFields() {
		value, ok := fields[name]
		if !ok || value == nil || value == "" {
			continue
		}
		matches, err := s.entities.FindByField(ctx, schema.Kind, name, value)
		if err != nil {
			return fmt.Errorf("failed to check uniqueness of %s: %w", name, err)
		}
		for _, m := range matches {
			if m.ID != selfID {
				def, _ := schema.Field(name)
				return apperr.NewConflictError(name, fmt.Sprintf("%s with this %s already exists.",
					schema.Kind.Singular(), strings.ToLower(def.DisplayLabel())))
			}
		}
	}
	return nil
}

// record appends the activity entry of a write. It runs in the write's
// transaction, so a failure here rolls the write back.
func (s *EntityService) record(ctx context.Context, tx repository.Store, entity domain.Entity, action domain.ActivityAction, changes []domain.FieldChange) error {
	entry := domain.NewActivityEntry(entity, action, auth.Actor(ctx), changes)
	entry.EntityName = entity.DisplayName()
	entry.CreatedAt = s.now()
	if err := tx.Activities.Record(ctx, entry); err != nil {
		logging.FromContext(ctx).Error().Err(err).
			Str("kind", string(entity.Kind)).
			Int64("id", entity.ID).
			Msg("failed to record activity")
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}
