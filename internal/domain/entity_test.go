package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityJSONRoundTripIsFlat(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	entity := Entity{
		ID:        7,
		Kind:      KindClient,
		Fields:    map[string]any{"name": "Acme", "is_active": true},
		Version:   3,
		CreatedAt: created,
		UpdatedAt: created,
	}

	data, err := json.Marshal(entity)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "Acme", raw["name"])
	assert.Equal(t, float64(7), raw["id"])

	decoded := Entity{Kind: KindClient}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(7), decoded.ID)
	assert.Equal(t, int64(3), decoded.Version)
	assert.True(t, created.Equal(decoded.CreatedAt))
	assert.Equal(t, "Acme", decoded.Fields["name"])
	assert.NotContains(t, decoded.Fields, "id")
}

func TestWithFieldsDoesNotAlias(t *testing.T) {
	base := NewEntity(KindProject, map[string]any{"project_type": []string{"M"}})
	next := base.WithFields(map[string]any{"project_name": "Tower"})

	next.Fields["project_type"].([]string)[0] = "E"
	assert.Equal(t, "M", base.Fields["project_type"].([]string)[0])
	assert.NotContains(t, base.Fields, "project_name")
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("Client")
	require.NoError(t, err)
	assert.Equal(t, KindClient, kind)

	_, err = ParseKind("invoices")
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Acme", Entity{Kind: KindClient, Fields: map[string]any{"name": "Acme"}}.DisplayName())
	assert.Equal(t, "Tower", Entity{Kind: KindProject, Fields: map[string]any{"project_name": "Tower"}}.DisplayName())
	assert.Equal(t, "architect #4", Entity{ID: 4, Kind: KindArchitect}.DisplayName())
}

func TestParseOrdering(t *testing.T) {
	assert.Equal(t, DefaultSort, ParseOrdering(""))
	assert.Equal(t, EntitySort{Field: "name", Direction: SortDirectionAsc}, ParseOrdering("name"))
	assert.Equal(t, "-updated_at", ParseOrdering("-updated_at").String())
}
