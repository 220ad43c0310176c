// Package apperr provides the error types shared by the backend, the REST
// client and the reconciliation engine. Typed errors carry enough detail to be
// mapped onto HTTP status codes on the server and back onto user-facing
// messages on the client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrNotFound indicates that a requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that provided input was invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a uniqueness or state conflict.
	ErrConflict = errors.New("conflict")

	// ErrNetwork indicates that a request could not complete.
	ErrNetwork = errors.New("network failure")

	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")
)

// NotFoundError represents an error when a resource is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Resource, e.ID)
}

// Is implements errors.Is support.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError represents a rejected field value. Message is meant for end
// users and is returned verbatim as the response detail.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Is implements errors.Is support.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports a duplicate value for a unique field.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Is implements errors.Is support.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict || target == ErrInvalidInput
}

// NewConflictError creates a new ConflictError.
func NewConflictError(field, message string) *ConflictError {
	return &ConflictError{Field: field, Message: message}
}

// APIError represents a non-2xx response from the REST backend.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
	Fields     map[string]string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("API error from %s (status %d): %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Is implements errors.Is support.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return target == ErrInvalidInput
	case http.StatusConflict:
		return target == ErrConflict
	}
	return false
}

// NetworkError wraps a transport level failure.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap implements errors.Unwrap.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support.
func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput checks if an error is a validation error.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsNetwork checks if an error is a transport failure.
func IsNetwork(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// UserMessage extracts a message suitable for display. It returns false when
// the error carries no server-provided text.
func UserMessage(err error) (string, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message, true
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) && validationErr.Message != "" {
		return validationErr.Message, true
	}
	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) && conflictErr.Message != "" {
		return conflictErr.Message, true
	}
	return "", false
}

// HTTPStatus maps an error onto the status code the REST layer responds with.
func HTTPStatus(err error) int {
	var apiErr *APIError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &apiErr):
		return apiErr.StatusCode
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
