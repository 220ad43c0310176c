package domain

import (
	"strings"
)

// FieldType represents the type of a field in an entity schema
type FieldType string

const (
	FieldTypeString      FieldType = "string"
	FieldTypeText        FieldType = "text"
	FieldTypeEmail       FieldType = "email"
	FieldTypeURL         FieldType = "url"
	FieldTypeInteger     FieldType = "integer"
	FieldTypeBoolean     FieldType = "boolean"
	FieldTypeDate        FieldType = "date"
	FieldTypeChoice      FieldType = "choice"
	FieldTypeMultiChoice FieldType = "multi_choice"
	// FieldTypeReference holds the id of another entity. ReferenceKind names
	// the kind it points to.
	FieldTypeReference FieldType = "reference"
)

// FieldDefinition represents a field definition in a schema
type FieldDefinition struct {
	Name          string    `json:"name"`
	Label         string    `json:"label"`
	Type          FieldType `json:"type"`
	Required      bool      `json:"required"`
	Unique        bool      `json:"unique,omitempty"`
	ReadOnly      bool      `json:"read_only,omitempty"`
	MaxLength     int       `json:"max_length,omitempty"`
	Choices       []string  `json:"choices,omitempty"`
	Default       any       `json:"default,omitempty"`
	ReferenceKind Kind      `json:"reference_kind,omitempty"`
}

// DisplayLabel returns Label, or a title-cased Name when no label is set.
func (f FieldDefinition) DisplayLabel() string {
	if f.Label != "" {
		return f.Label
	}
	words := strings.Split(f.Name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// EntitySchema lists the editable fields of a kind.
type EntitySchema struct {
	Kind   Kind              `json:"kind"`
	Fields []FieldDefinition `json:"fields"`
}

// Field looks up a definition by name.
func (s EntitySchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// FieldNames returns field names in declaration order.
func (s EntitySchema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// UniqueFields returns the names of fields with a uniqueness constraint.
func (s EntitySchema) UniqueFields() []string {
	var names []string
	for _, f := range s.Fields {
		if f.Unique {
			names = append(names, f.Name)
		}
	}
	return names
}

// Defaults returns the default values of fields that declare one.
func (s EntitySchema) Defaults() map[string]any {
	out := map[string]any{}
	for _, f := range s.Fields {
		if f.Default != nil {
			out[f.Name] = f.Default
		}
	}
	return out
}

// ProjectStatuses are the allowed project status values.
var ProjectStatuses = []string{"not_started", "in_progress", "on_hold", "completed", "cancelled"}

// ProjectTypes are the allowed project type codes.
var ProjectTypes = []string{"M", "E", "P", "EM", "FP", "TI", "VI"}

var schemas = map[Kind]EntitySchema{
	KindClient: {
		Kind: KindClient,
		Fields: []FieldDefinition{
			{Name: "name", Type: FieldTypeString, Required: true, MaxLength: 200},
			{Name: "contact_email", Label: "Contact Email", Type: FieldTypeEmail, Unique: true},
			{Name: "phone", Type: FieldTypeString, MaxLength: 20},
			{Name: "address", Type: FieldTypeText},
			{Name: "company_name", Type: FieldTypeString, MaxLength: 200},
			{Name: "contact_person", Type: FieldTypeString, MaxLength: 200},
			{Name: "billing_address", Type: FieldTypeText},
			{Name: "notes", Type: FieldTypeText},
			{Name: "is_active", Label: "Active", Type: FieldTypeBoolean, Default: true},
			{Name: "archived_at", Type: FieldTypeString, ReadOnly: true},
		},
	},
	KindArchitect: {
		Kind: KindArchitect,
		Fields: []FieldDefinition{
			{Name: "name", Type: FieldTypeString, Required: true, MaxLength: 200},
			{Name: "contact_email", Label: "Contact Email", Type: FieldTypeEmail},
			{Name: "phone", Type: FieldTypeString, MaxLength: 20},
			{Name: "address", Type: FieldTypeText},
			{Name: "company_name", Type: FieldTypeString, MaxLength: 200},
			{Name: "license_number", Type: FieldTypeString, MaxLength: 100},
			{Name: "professional_affiliations", Type: FieldTypeText},
			{Name: "website", Type: FieldTypeURL},
			{Name: "notes", Type: FieldTypeText},
			{Name: "is_active", Label: "Active", Type: FieldTypeBoolean, Default: true},
			{Name: "archived_at", Type: FieldTypeString, ReadOnly: true},
		},
	},
	KindProject: {
		Kind: KindProject,
		Fields: []FieldDefinition{
			{Name: "year", Type: FieldTypeInteger},
			{Name: "job_number", Type: FieldTypeString, Required: true, Unique: true, MaxLength: 50},
			{Name: "project_name", Type: FieldTypeString, Required: true, MaxLength: 255},
			{Name: "project_type", Type: FieldTypeMultiChoice, Choices: ProjectTypes},
			{Name: "status", Type: FieldTypeChoice, Choices: ProjectStatuses, Default: "not_started"},
			{Name: "current_sub_status", Type: FieldTypeString, MaxLength: 200},
			{Name: "current_open_items", Type: FieldTypeText},
			{Name: "current_action_items", Type: FieldTypeText},
			{Name: "client_id", Label: "Client", Type: FieldTypeReference, Required: true, ReferenceKind: KindClient},
			{Name: "architect_id", Label: "Architect", Type: FieldTypeReference, ReferenceKind: KindArchitect},
			{Name: "due_date", Type: FieldTypeDate},
			{Name: "due_date_note", Type: FieldTypeText},
			{Name: "rough_in_date", Type: FieldTypeDate},
			{Name: "rough_in_note", Type: FieldTypeText},
			{Name: "final_inspection_date", Type: FieldTypeDate},
			{Name: "final_inspection_note", Type: FieldTypeText},
			{Name: "address", Type: FieldTypeText, Required: true},
			{Name: "legal_address", Type: FieldTypeText},
			{Name: "billing_info", Type: FieldTypeText},
			{Name: "last_status_change", Type: FieldTypeString, ReadOnly: true},
		},
	},
}

// SchemaFor returns the schema of kind.
func SchemaFor(kind Kind) (EntitySchema, bool) {
	s, ok := schemas[kind]
	return s, ok
}
