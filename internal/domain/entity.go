package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind identifies a resource collection (clients, projects, architects).
type Kind string

const (
	KindClient    Kind = "clients"
	KindProject   Kind = "projects"
	KindArchitect Kind = "architects"
)

// Kinds lists every supported kind in display order.
func Kinds() []Kind {
	return []Kind{KindClient, KindProject, KindArchitect}
}

// ParseKind accepts the plural resource name as well as the singular form.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(raw), "/")) {
	case "clients", "client":
		return KindClient, nil
	case "projects", "project":
		return KindProject, nil
	case "architects", "architect":
		return KindArchitect, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", raw)
	}
}

// Singular returns the singular resource name, used in messages.
func (k Kind) Singular() string {
	return strings.TrimSuffix(string(k), "s")
}

// Reserved keys are owned by the server and never stored in Fields.
const (
	KeyID        = "id"
	KeyVersion   = "version"
	KeyCreatedAt = "created_at"
	KeyUpdatedAt = "updated_at"
)

// Entity is a client, project or architect record: a stable id plus a map of
// field name to value.
type Entity struct {
	ID        int64          `json:"id"`
	Kind      Kind           `json:"-"`
	Fields    map[string]any `json:"-"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewEntity creates a new entity with immutable pattern
func NewEntity(kind Kind, fields map[string]any) Entity {
	now := time.Now().UTC()
	return Entity{
		Kind:      kind,
		Fields:    CopyFields(fields),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Field returns the value stored under name.
func (e Entity) Field(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// WithField returns a new entity with an added/updated field
func (e Entity) WithField(name string, value any) Entity {
	fields := CopyFields(e.Fields)
	fields[name] = value
	e.Fields = fields
	e.UpdatedAt = time.Now().UTC()
	return e
}

// WithFields returns a new entity with the given fields merged over the
// current ones.
func (e Entity) WithFields(patch map[string]any) Entity {
	fields := CopyFields(e.Fields)
	for k, v := range patch {
		fields[k] = copyValue(v)
	}
	e.Fields = fields
	e.UpdatedAt = time.Now().UTC()
	return e
}

// WithoutField returns a new entity without the specified field
func (e Entity) WithoutField(name string) Entity {
	fields := CopyFields(e.Fields)
	delete(fields, name)
	e.Fields = fields
	e.UpdatedAt = time.Now().UTC()
	return e
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	e.Fields = CopyFields(e.Fields)
	return e
}

// DisplayName is the human label used in activity feeds.
func (e Entity) DisplayName() string {
	for _, key := range []string{"name", "project_name", "job_number"} {
		if s, ok := e.Fields[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return fmt.Sprintf("%s #%d", e.Kind.Singular(), e.ID)
}

// IsActive reports the is_active flag; entities without the flag are active.
func (e Entity) IsActive() bool {
	if v, ok := e.Fields["is_active"].(bool); ok {
		return v
	}
	return true
}

// Representation flattens the entity into the wire format: server keys and
// fields side by side.
func (e Entity) Representation() map[string]any {
	out := CopyFields(e.Fields)
	out[KeyID] = e.ID
	out[KeyVersion] = e.Version
	out[KeyCreatedAt] = e.CreatedAt.Format(time.RFC3339)
	out[KeyUpdatedAt] = e.UpdatedAt.Format(time.RFC3339)
	return out
}

// MarshalJSON emits the flat representation.
func (e Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Representation())
}

// UnmarshalJSON reads the flat representation. Unknown keys become fields.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	entity, err := EntityFromRepresentation(e.Kind, raw)
	if err != nil {
		return err
	}
	*e = entity
	return nil
}

// EntityFromRepresentation builds an entity from a decoded JSON object.
func EntityFromRepresentation(kind Kind, raw map[string]any) (Entity, error) {
	entity := Entity{Kind: kind, Fields: map[string]any{}}
	for key, value := range raw {
		switch key {
		case KeyID:
			id, err := toInt64(value)
			if err != nil {
				return Entity{}, fmt.Errorf("invalid id: %w", err)
			}
			entity.ID = id
		case KeyVersion:
			v, err := toInt64(value)
			if err != nil {
				return Entity{}, fmt.Errorf("invalid version: %w", err)
			}
			entity.Version = v
		case KeyCreatedAt, KeyUpdatedAt:
			s, _ := value.(string)
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				continue
			}
			if key == KeyCreatedAt {
				entity.CreatedAt = ts
			} else {
				entity.UpdatedAt = ts
			}
		default:
			entity.Fields[key] = value
		}
	}
	return entity, nil
}

// StripReserved removes server owned keys from a patch.
func StripReserved(patch map[string]any) map[string]any {
	out := make(map[string]any, len(patch))
	for k, v := range patch {
		switch k {
		case KeyID, KeyVersion, KeyCreatedAt, KeyUpdatedAt:
			continue
		}
		out[k] = v
	}
	return out
}

// FieldNames returns the sorted field names of e.
func (e Entity) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// GetFieldsAsJSONB marshals the field map for a JSONB column.
func (e *Entity) GetFieldsAsJSONB() (json.RawMessage, error) {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	return json.Marshal(e.Fields)
}

// FromJSONBFields creates a field map from JSONB data
func FromJSONBFields(fieldsJSON json.RawMessage) (map[string]any, error) {
	fields := map[string]any{}
	if len(fieldsJSON) == 0 {
		return fields, nil
	}
	err := json.Unmarshal(fieldsJSON, &fields)
	return fields, err
}

// CopyFields copies a field map. Slice values (multi-select fields) are
// copied too so callers can't alias each other's state.
func CopyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []any:
		return append([]any(nil), typed...)
	case map[string]any:
		return CopyFields(typed)
	default:
		return v
	}
}

func toInt64(v any) (int64, error) {
	switch typed := v.(type) {
	case int:
		return int64(typed), nil
	case int64:
		return typed, nil
	case float64:
		return int64(typed), nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}
