package validator

import (
	"fmt"
	"strings"

	"github.com/rpattn/fieldsync/internal/domain"
)

var knownTypes = map[domain.FieldType]struct{}{
	domain.FieldTypeString:      {},
	domain.FieldTypeText:        {},
	domain.FieldTypeEmail:       {},
	domain.FieldTypeURL:         {},
	domain.FieldTypeInteger:     {},
	domain.FieldTypeBoolean:     {},
	domain.FieldTypeDate:        {},
	domain.FieldTypeChoice:      {},
	domain.FieldTypeMultiChoice: {},
	domain.FieldTypeReference:   {},
}

// ValidateFields ensures schema field definitions are internally consistent.
// It returns the names of REFERENCE fields in declaration order.
func ValidateFields(fields []domain.FieldDefinition) ([]string, error) {
	seen := make(map[string]struct{}, len(fields))
	var references []string

	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return nil, fmt.Errorf("field definition without a name")
		}
		switch name {
		case domain.KeyID, domain.KeyVersion, domain.KeyCreatedAt, domain.KeyUpdatedAt:
			return nil, fmt.Errorf("field %s shadows a reserved key", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("field %s is declared twice", name)
		}
		seen[name] = struct{}{}

		if _, ok := knownTypes[field.Type]; !ok {
			return nil, fmt.Errorf("field %s has unknown type %q", name, field.Type)
		}
		if field.ReferenceKind != "" && field.Type != domain.FieldTypeReference {
			return nil, fmt.Errorf("field %s cannot declare a reference kind because type %s does not support references", name, field.Type)
		}
		if field.Type == domain.FieldTypeReference {
			if _, err := domain.ParseKind(string(field.ReferenceKind)); err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			references = append(references, name)
		}
		isChoice := field.Type == domain.FieldTypeChoice || field.Type == domain.FieldTypeMultiChoice
		if isChoice && len(field.Choices) == 0 {
			return nil, fmt.Errorf("field %s of type %s needs at least one choice", name, field.Type)
		}
		if !isChoice && len(field.Choices) > 0 {
			return nil, fmt.Errorf("field %s declares choices but has type %s", name, field.Type)
		}
		if field.ReadOnly && field.Required {
			return nil, fmt.Errorf("field %s cannot be both read-only and required", name)
		}
		if field.MaxLength < 0 {
			return nil, fmt.Errorf("field %s has negative max length", name)
		}
	}

	return references, nil
}

// ValidateSchemas checks every registered kind schema.
func ValidateSchemas() error {
	for _, kind := range domain.Kinds() {
		schema, ok := domain.SchemaFor(kind)
		if !ok {
			return fmt.Errorf("no schema registered for %s", kind)
		}
		if _, err := ValidateFields(schema.Fields); err != nil {
			return fmt.Errorf("%s schema: %w", kind, err)
		}
	}
	return nil
}
