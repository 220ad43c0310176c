package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityAction names the kind of write an activity entry records.
type ActivityAction string

const (
	ActivityCreated  ActivityAction = "created"
	ActivityUpdated  ActivityAction = "updated"
	ActivityArchived ActivityAction = "archived"
	ActivityDeleted  ActivityAction = "deleted"
)

// ActivityEntry captures a single write against an entity.
type ActivityEntry struct {
	ID         uuid.UUID      `json:"id"`
	Kind       Kind           `json:"kind"`
	EntityID   int64          `json:"entity_id"`
	EntityName string         `json:"entity_name,omitempty"`
	Action     ActivityAction `json:"action"`
	Actor      string         `json:"actor,omitempty"`
	Changes    []FieldChange  `json:"changes,omitempty"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewActivityEntry stamps a new entry for entity.
func NewActivityEntry(entity Entity, action ActivityAction, actor string, changes []FieldChange) ActivityEntry {
	return ActivityEntry{
		ID:        uuid.New(),
		Kind:      entity.Kind,
		EntityID:  entity.ID,
		Action:    action,
		Actor:     actor,
		Changes:   changes,
		Version:   entity.Version,
		CreatedAt: time.Now().UTC(),
	}
}
