package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docs(t *testing.T, raws ...string) []map[string]interface{} {
	t.Helper()
	out := make([]map[string]interface{}, 0, len(raws))
	for _, r := range raws {
		d, err := DecodeDocument([]byte(r))
		require.NoError(t, err)
		out = append(out, d)
	}
	return out
}

// S1 from spec.md §8: stable JSON -> SQL proposal.
func TestDecideS1StableJSONRecommendsSQL(t *testing.T) {
	d := NewDecider(DefaultDeciderConfig())
	decision := d.Decide(docs(t,
		`{"id":1,"name":"A","age":30,"active":true}`,
		`{"id":2,"name":"B","age":25,"active":false}`,
		`{"id":3,"name":"C","age":35,"active":true}`,
		`{"id":4,"name":"D","age":40,"active":true}`,
	))

	assert.Equal(t, StorageSQL, decision.StorageChoice)
	assert.GreaterOrEqual(t, decision.Confidence, 0.85)
}

// S2 from spec.md §8: array-of-objects forces a JSONB veto.
func TestDecideS2ArrayOfObjectsForcesJSONB(t *testing.T) {
	d := NewDecider(DefaultDeciderConfig())
	decision := d.Decide(docs(t, `{"user":"A","orders":[{"id":1},{"id":2}]}`))

	assert.Equal(t, StorageJSONB, decision.StorageChoice)
	assert.GreaterOrEqual(t, decision.Confidence, 0.95)
	found := false
	for _, r := range decision.Reasons {
		if r == "✗ Contains arrays of objects (requires child tables)" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDecideTooManyTopLevelKeysForcesJSONB(t *testing.T) {
	cfg := DefaultDeciderConfig()
	cfg.MaxTopLevelKeys = 2
	d := NewDecider(cfg)
	decision := d.Decide(docs(t, `{"a":1,"b":2,"c":3,"d":4}`))

	assert.Equal(t, StorageJSONB, decision.StorageChoice)
	assert.InDelta(t, 0.90, decision.Confidence, 1e-9)
}

func TestDecideResultAlwaysInValidRange(t *testing.T) {
	d := NewDecider(DefaultDeciderConfig())
	decision := d.Decide(docs(t, `{"a":1}`))
	assert.Contains(t, []StorageChoice{StorageSQL, StorageJSONB}, decision.StorageChoice)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
}

func TestGenerateCollectionNameFromHint(t *testing.T) {
	d := NewDecider(DefaultDeciderConfig())
	decision := d.Decide(docs(t, `{"a":1}`))
	name := GenerateCollectionName(decision, "My Cool Table!")
	assert.Equal(t, "my_cool_table", name)
}

func TestGenerateCollectionNameFallsBackToHash(t *testing.T) {
	d := NewDecider(DefaultDeciderConfig())
	decision := d.Decide(docs(t, `{"a":1}`))
	name := GenerateCollectionName(decision, "")
	assert.Contains(t, name, "table_")
}
