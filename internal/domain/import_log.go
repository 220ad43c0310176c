package domain

import (
	"time"

	"github.com/google/uuid"
)

// ImportLogEntry records one row rejected by a bulk create.
type ImportLogEntry struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	FileName  string    `json:"file_name,omitempty"`
	RowNumber int       `json:"row"`
	Field     string    `json:"field,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
