package processor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammothbox/mammothbox/internal/schema"
)

// decodeBatch must preserve json.Number all the way into the analyzer - a
// plain json.Unmarshal into map[string]interface{} would turn every number
// into a float64, which detectJSONType doesn't recognize and would
// misclassify as TypeString.
func TestDecodeBatchPreservesNumericTypesForArray(t *testing.T) {
	raw := json.RawMessage(`[{"id":1,"name":"A","age":30,"active":true},{"id":2,"name":"B","age":25,"active":false}]`)

	batch, err := decodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	d := schema.NewDecider(schema.DefaultDeciderConfig())
	decision := d.Decide(batch)

	assert.Equal(t, schema.TypeInteger, decision.Fields["id"].DominantType)
	assert.Equal(t, schema.TypeInteger, decision.Fields["age"].DominantType)
	assert.Equal(t, schema.TypeBoolean, decision.Fields["active"].DominantType)
	assert.Equal(t, schema.StorageSQL, decision.StorageChoice)
}

func TestDecodeBatchPreservesNumericTypesForSingleObject(t *testing.T) {
	raw := json.RawMessage(`{"id":1,"age":30.5}`)

	batch, err := decodeBatch(raw)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	d := schema.NewDecider(schema.DefaultDeciderConfig())
	decision := d.Decide(batch)

	assert.Equal(t, schema.TypeInteger, decision.Fields["id"].DominantType)
	assert.Equal(t, schema.TypeFloat, decision.Fields["age"].DominantType)
}

func TestDecodeBatchEmptyPayload(t *testing.T) {
	batch, err := decodeBatch(nil)
	require.NoError(t, err)
	assert.Nil(t, batch)
}
