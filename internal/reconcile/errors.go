package reconcile

import (
	"errors"
	"fmt"
)

// Precondition errors returned by the engine. None of them involve the
// network.
var (
	ErrNoSelection  = errors.New("no entity selected")
	ErrNotEditing   = errors.New("field is not being edited")
	ErrSaveInFlight = errors.New("a save of this field is already in flight")
	ErrInvalidField = errors.New("field name is required")
)

// DefaultFailureMessage is shown when the server gave no usable message.
const DefaultFailureMessage = "Failed to save"

// SuccessMessage is the status text after a confirmed save.
const SuccessMessage = "Saved"

// FailureKind classifies why a save did not land.
type FailureKind int

const (
	// ValidationRejected means the server answered with a non-2xx response.
	ValidationRejected FailureKind = iota + 1
	// NetworkFailure covers transport errors and the save timeout.
	NetworkFailure
	// StaleEntity means the response arrived after the panel moved on.
	StaleEntity
)

func (k FailureKind) String() string {
	switch k {
	case ValidationRejected:
		return "validation_rejected"
	case NetworkFailure:
		return "network_failure"
	case StaleEntity:
		return "stale_entity"
	default:
		return "unknown"
	}
}

// SaveFailedError describes a save that did not update the authoritative
// value.
type SaveFailedError struct {
	Kind    FailureKind
	Field   string
	Message string
	Err     error
}

func (e *SaveFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("save %s (%s): %s: %v", e.Field, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("save %s (%s): %s", e.Field, e.Kind, e.Message)
}

func (e *SaveFailedError) Unwrap() error {
	return e.Err
}
