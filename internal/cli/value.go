package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/fieldsync/internal/domain"
)

// parseFieldValue converts a command line argument to the JSON type the
// field expects. Values that do not parse are sent as typed so the server
// reports the validation error.
func parseFieldValue(kind domain.Kind, field, raw string) (any, error) {
	schema, ok := domain.SchemaFor(kind)
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	def, ok := schema.Field(field)
	if !ok {
		return nil, fmt.Errorf("%s has no field %q (fields: %s)", kind.Singular(), field, strings.Join(schema.FieldNames(), ", "))
	}
	if raw == "null" {
		return nil, nil
	}

	switch def.Type {
	case domain.FieldTypeInteger, domain.FieldTypeReference:
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			return n, nil
		}
	case domain.FieldTypeBoolean:
		if b, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			return b, nil
		}
	case domain.FieldTypeMultiChoice:
		values := []any{}
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				values = append(values, part)
			}
		}
		return values, nil
	}
	return raw, nil
}
