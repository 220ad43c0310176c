package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/fieldsync/internal/apperr"
	"github.com/rpattn/fieldsync/internal/domain"
)

// Mode selects between full (create/replace) and partial (PATCH) validation.
type Mode int

const (
	// ModeFull requires every required field and applies defaults.
	ModeFull Mode = iota
	// ModePartial validates only the fields present in the input.
	ModePartial
)

const dateLayout = "2006-01-02"

// FieldValidator checks and normalises field values against a kind schema.
type FieldValidator struct{}

// NewFieldValidator creates a new field validator
func NewFieldValidator() *FieldValidator {
	return &FieldValidator{}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation. Fields holds the
// normalised values when the input is valid.
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
	Fields  map[string]any    `json:"-"`
}

// Err converts the first validation error into an *apperr.ValidationError.
func (r ValidationResult) Err() error {
	if r.IsValid || len(r.Errors) == 0 {
		return nil
	}
	first := r.Errors[0]
	return apperr.NewValidationError(first.Field, first.Message)
}

// Validate checks input against schema. Values are normalised (strings
// trimmed, emails lower-cased, integers and dates coerced, multi-select
// values deduplicated). Errors are reported in schema declaration order so the
// first one is stable.
func (fv *FieldValidator) Validate(schema domain.EntitySchema, input map[string]any, mode Mode) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []ValidationError{}, Fields: map[string]any{}}

	for name, value := range input {
		if _, ok := schema.Field(name); !ok {
			result.addError(name, fmt.Sprintf("Unknown field '%s'", name), value)
		}
	}

	for _, def := range schema.Fields {
		value, present := input[def.Name]
		if !present {
			if mode == ModeFull {
				if def.Required {
					result.addError(def.Name, requiredMessage(def), nil)
				} else if def.Default != nil {
					result.Fields[def.Name] = def.Default
				}
			}
			continue
		}
		if def.ReadOnly {
			result.addError(def.Name, fmt.Sprintf("%s is read-only", def.DisplayLabel()), value)
			continue
		}

		normalised, err := fv.normalise(def, value)
		if err != nil {
			result.addError(def.Name, err.Error(), value)
			continue
		}
		if def.Required && isEmpty(normalised) {
			result.addError(def.Name, requiredMessage(def), value)
			continue
		}
		result.Fields[def.Name] = normalised
	}

	if !result.IsValid {
		result.Fields = nil
	}
	return result
}

func (r *ValidationResult) addError(field, message string, value any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Value: value})
}

func requiredMessage(def domain.FieldDefinition) string {
	return fmt.Sprintf("%s is required", def.DisplayLabel())
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	}
	return false
}

func (fv *FieldValidator) normalise(def domain.FieldDefinition, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	label := def.DisplayLabel()

	switch def.Type {
	case domain.FieldTypeString, domain.FieldTypeText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", label)
		}
		s = strings.TrimSpace(s)
		if def.MaxLength > 0 && len([]rune(s)) > def.MaxLength {
			return nil, fmt.Errorf("Ensure %s has no more than %d characters", label, def.MaxLength)
		}
		return s, nil
	case domain.FieldTypeEmail:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", label)
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return s, nil
		}
		addr, err := mail.ParseAddress(s)
		if err != nil || addr.Address != s {
			return nil, errors.New("Enter a valid email address")
		}
		return s, nil
	case domain.FieldTypeURL:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", label)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return s, nil
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, errors.New("Enter a valid URL")
		}
		return s, nil
	case domain.FieldTypeInteger, domain.FieldTypeReference:
		n, err := toInteger(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", label)
		}
		if def.Type == domain.FieldTypeReference && n <= 0 {
			return nil, fmt.Errorf("%s must reference an existing %s", label, def.ReferenceKind.Singular())
		}
		return n, nil
	case domain.FieldTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%s must be a boolean", label)
			}
			return b, nil
		}
		return nil, fmt.Errorf("%s must be a boolean", label)
	case domain.FieldTypeDate:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a date string", label)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if t, err := time.Parse(dateLayout, s); err == nil {
			return t.Format(dateLayout), nil
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.Format(dateLayout), nil
		}
		return nil, fmt.Errorf("%s must be a date in YYYY-MM-DD format", label)
	case domain.FieldTypeChoice:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string", label)
		}
		s = strings.TrimSpace(s)
		if !contains(def.Choices, s) {
			return nil, fmt.Errorf("\"%s\" is not a valid choice for %s", s, label)
		}
		return s, nil
	case domain.FieldTypeMultiChoice:
		items, err := toStrings(value)
		if err != nil {
			return nil, fmt.Errorf("%s must be a list of strings", label)
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			item = strings.TrimSpace(item)
			if item == "" || contains(out, item) {
				continue
			}
			if len(def.Choices) > 0 && !contains(def.Choices, item) {
				return nil, fmt.Errorf("\"%s\" is not a valid choice for %s", item, label)
			}
			out = append(out, item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown field type: %s", def.Type)
	}
}

func toInteger(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", value)
	}
}

// toStrings accepts []string, []any of strings, or a comma separated string.
func toStrings(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("element %d is %T", i, item)
			}
			out[i] = s
		}
		return out, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return []string{}, nil
		}
		return strings.Split(v, ","), nil
	default:
		return nil, fmt.Errorf("unexpected %T", value)
	}
}

func contains(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}
