// Package httpx holds the JSON request and response helpers shared by the
// REST handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/logging"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Detail string            `json:"detail"`
	Errors map[string]string `json:"errors,omitempty"`
}

// WriteJSON encodes payload with status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}

// WriteError renders err as {"detail": ..., "errors": {field: ...}} with the
// status from apperr.HTTPStatus. Unexpected errors are logged and reported
// without internals.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	body := ErrorBody{}

	var validationErr *apperr.ValidationError
	var conflictErr *apperr.ConflictError
	switch {
	case errors.As(err, &validationErr):
		body.Detail = validationErr.Message
		if validationErr.Field != "" {
			body.Errors = map[string]string{validationErr.Field: validationErr.Message}
		}
	case errors.As(err, &conflictErr):
		body.Detail = conflictErr.Message
		body.Errors = map[string]string{conflictErr.Field: conflictErr.Message}
	case apperr.IsNotFound(err):
		body.Detail = "Not found."
	case status >= http.StatusInternalServerError:
		logging.FromContext(r.Context()).Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		body.Detail = "A server error occurred."
	default:
		body.Detail = err.Error()
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads a JSON request body into dst. Numbers decode as
// json.Number so integers survive intact.
func DecodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.NewValidationError("", "Request body is empty.")
		}
		return apperr.NewValidationError("", fmt.Sprintf("JSON parse error - %v", err))
	}
	return nil
}

// DecodeFields reads a JSON object body and converts json.Number values to
// int64 or float64.
func DecodeFields(r *http.Request) (map[string]any, error) {
	var fields map[string]any
	if err := DecodeJSON(r, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, apperr.NewValidationError("", "Expected a JSON object.")
	}
	for key, value := range fields {
		fields[key] = NormalizeNumber(value)
	}
	return fields, nil
}

// NormalizeNumber turns a json.Number into int64 when integral, float64
// otherwise. Other values pass through.
func NormalizeNumber(value any) any {
	n, ok := value.(json.Number)
	if !ok {
		return value
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

// IntParam parses a non-negative integer query parameter, returning def when
// absent.
func IntParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0, apperr.NewValidationError(name, fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return parsed, nil
}
