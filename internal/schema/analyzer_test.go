package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	d, err := DecodeDocument([]byte(raw))
	require.NoError(t, err)
	return d
}

func TestAnalyzerStableDocumentsHighStability(t *testing.T) {
	a := NewAnalyzer(5, 128)
	a.AnalyzeDocument(doc(t, `{"id":1,"name":"A","age":30,"active":true}`))
	a.AnalyzeDocument(doc(t, `{"id":2,"name":"B","age":25,"active":false}`))
	a.AnalyzeDocument(doc(t, `{"id":3,"name":"C","age":35,"active":true}`))

	summary := a.Summary()
	assert.Equal(t, 3, summary.DocumentsAnalyzed)
	assert.Equal(t, 4, summary.TopLevelKeys)
	assert.InDelta(t, 1.0, summary.FieldStability, 1e-9)
	assert.InDelta(t, 1.0, summary.TypeStability, 1e-9)
	assert.False(t, summary.HasArrayOfObjects)
	assert.Equal(t, TypeInteger, summary.Fields["age"].DominantType)
	assert.Equal(t, TypeBoolean, summary.Fields["active"].DominantType)
}

func TestAnalyzerArrayOfObjectsMarksPathAndHaltsDescent(t *testing.T) {
	a := NewAnalyzer(5, 128)
	a.AnalyzeDocument(doc(t, `{"user":"A","orders":[{"id":1},{"id":2}]}`))

	summary := a.Summary()
	assert.True(t, summary.HasArrayOfObjects)
	_, hasMarker := summary.Fields["orders[]"]
	assert.True(t, hasMarker)
	_, hasNested := summary.Fields["orders.id"]
	assert.False(t, hasNested, "descent must stop at an array-of-objects marker")
}

func TestStructureHashDeterministicOnFieldSetAndDominantType(t *testing.T) {
	a1 := NewAnalyzer(5, 128)
	a1.AnalyzeDocument(doc(t, `{"id":1,"name":"alpha"}`))
	a1.AnalyzeDocument(doc(t, `{"id":2,"name":"beta"}`))

	a2 := NewAnalyzer(5, 128)
	a2.AnalyzeDocument(doc(t, `{"id":99,"name":"completely different text"}`))
	a2.AnalyzeDocument(doc(t, `{"id":2,"name":"zzz"}`))

	assert.Equal(t, a1.Summary().StructureHash, a2.Summary().StructureHash,
		"same field set and dominant types must hash identically regardless of values")
}

func TestStructureHashDiffersOnDominantTypeChange(t *testing.T) {
	a1 := NewAnalyzer(5, 128)
	a1.AnalyzeDocument(doc(t, `{"id":1}`))

	a2 := NewAnalyzer(5, 128)
	a2.AnalyzeDocument(doc(t, `{"id":"not-a-number"}`))

	assert.NotEqual(t, a1.Summary().StructureHash, a2.Summary().StructureHash)
}

func TestMaxDepthRespected(t *testing.T) {
	a := NewAnalyzer(2, 128)
	a.AnalyzeDocument(doc(t, `{"a":{"b":{"c":{"d":1}}}}`))
	summary := a.Summary()
	assert.LessOrEqual(t, summary.MaxDepth, 2)
}

func TestNonObjectDocumentContributesNothing(t *testing.T) {
	a := NewAnalyzer(5, 128)
	a.AnalyzeDocument(nil)
	summary := a.Summary()
	assert.Equal(t, 1, summary.DocumentsAnalyzed)
	assert.Equal(t, 0, summary.TotalFields)
}
