package reconcile

import (
	"context"
	"sort"

	"github.com/rpattn/fieldsync/internal/domain"
)

// UpdateFunc sends {field: value} for entity id to the backend and returns
// the server's representation of the entity.
type UpdateFunc[ID comparable] func(ctx context.Context, id ID, field string, value any) (map[string]any, error)

// Snapshot is the authoritative state of an entity at selection time.
type Snapshot[ID comparable] struct {
	ID     ID
	Fields map[string]any
}

// Status is the transient save banner.
type Status struct {
	Shown   bool   `json:"shown"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// State is a read-only copy of the engine's observable state.
type State[ID comparable] struct {
	Selected bool
	EntityID ID
	// Entity is the authoritative value overlaid with optimistic values of
	// fields being saved.
	Entity map[string]any
	// FormData is Entity overlaid with the draft of the editing field.
	FormData     map[string]any
	EditingField string
	SavingFields []string
	Status       Status
}

// IsSaving reports whether field has a save in flight.
func (s State[ID]) IsSaving(field string) bool {
	for _, f := range s.SavingFields {
		if f == field {
			return true
		}
	}
	return false
}

// SaveResult reports how a save ended. Err is nil on success.
type SaveResult struct {
	Field string
	Value any
	// Entity is the merged authoritative value after a successful save.
	Entity    map[string]any
	Err       *SaveFailedError
	Discarded bool
}

// OK reports a confirmed save.
func (r SaveResult) OK() bool {
	return r.Err == nil && !r.Discarded
}

// overlay layers each map over the previous one into a fresh map.
func overlay(layers ...map[string]any) map[string]any {
	size := 0
	for _, l := range layers {
		size += len(l)
	}
	out := make(map[string]any, size)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return domain.CopyFields(out)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
