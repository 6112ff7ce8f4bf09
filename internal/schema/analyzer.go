package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PaesslerAG/jsonpath"
)

// flattenEntry is one (value, type, depth) triple produced by flatten.
type flattenEntry struct {
	value interface{}
	typ   JsonType
	depth int
}

// detectJSONType classifies a value decoded via json.Number-aware
// unmarshalling. json.Number lets us tell "integer" from "float" the way
// the source distinguishes Python int from float, which a plain float64
// decode would lose (1 and 1.0 would be indistinguishable).
func detectJSONType(value interface{}) JsonType {
	switch v := value.(type) {
	case nil:
		return TypeNull
	case bool:
		return TypeBoolean
	case json.Number:
		if strings.ContainsAny(string(v), ".eE") {
			return TypeFloat
		}
		return TypeInteger
	case string:
		return TypeString
	case []interface{}:
		return TypeArray
	case map[string]interface{}:
		return TypeObject
	default:
		return TypeString
	}
}

// flattenJSON flattens a nested JSON object into a map of dotted paths to
// (value, type, depth). Objects are descended up to maxDepth. Arrays of
// primitives are recorded as type "array" but not descended; arrays whose
// first element is an object additionally emit a "path[]" marker entry
// and descent stops there (array-of-objects is a hard veto signal, not
// something the decider needs projected further).
func flattenJSON(obj map[string]interface{}, maxDepth int, parentPath string, currentDepth int) map[string]flattenEntry {
	result := make(map[string]flattenEntry)

	for key, value := range obj {
		path := key
		if parentPath != "" {
			path = parentPath + "." + key
		}
		depth := currentDepth + 1
		t := detectJSONType(value)

		result[path] = flattenEntry{value: value, typ: t, depth: depth}

		switch t {
		case TypeObject:
			if depth < maxDepth {
				nested := flattenJSON(value.(map[string]interface{}), maxDepth, path, depth)
				for k, v := range nested {
					result[k] = v
				}
			}
		case TypeArray:
			arr := value.([]interface{})
			if depth < maxDepth && len(arr) > 0 {
				if _, ok := arr[0].(map[string]interface{}); ok {
					result[path+"[]"] = flattenEntry{value: value, typ: TypeArray, depth: depth}
				}
			}
		}
	}

	return result
}

// Analyzer analyzes a collection of JSON documents to extract schema
// information, field statistics, and structural patterns. Grounded on
// original_source/src/ingest/schema_analyzer.py's JsonSchemaAnalyzer.
type Analyzer struct {
	maxDepth        int
	maxSampleSize   int
	fieldStats      map[string]*FieldStats
	docsAnalyzed    int
	maxObservedDepth int
	topLevelKeys    map[string]struct{}
}

func NewAnalyzer(maxDepth, maxSampleSize int) *Analyzer {
	return &Analyzer{
		maxDepth:      maxDepth,
		maxSampleSize: maxSampleSize,
		fieldStats:    make(map[string]*FieldStats),
		topLevelKeys:  make(map[string]struct{}),
	}
}

// AnalyzeDocument analyzes a single JSON document. Non-object documents
// contribute no field statistics, mirroring flatten_json's no-op on
// non-dict input.
func (a *Analyzer) AnalyzeDocument(doc map[string]interface{}) {
	if a.docsAnalyzed >= a.maxSampleSize {
		return
	}
	a.docsAnalyzed++

	for k := range doc {
		a.topLevelKeys[k] = struct{}{}
	}

	flattened := flattenJSON(doc, a.maxDepth, "", 0)
	for path, entry := range flattened {
		if entry.depth > a.maxObservedDepth {
			a.maxObservedDepth = entry.depth
		}
		stats, ok := a.fieldStats[path]
		if !ok {
			stats = newFieldStats(path)
			a.fieldStats[path] = stats
		}
		stats.addValue(entry.value, entry.typ)
	}
}

// AnalyzeBatch analyzes a batch of documents, uniformly sampling down to
// maxSampleSize if the batch is larger.
func (a *Analyzer) AnalyzeBatch(documents []map[string]interface{}) {
	docs := documents
	if len(docs) > a.maxSampleSize {
		docs = sampleUniform(docs, a.maxSampleSize)
	}
	for _, d := range docs {
		a.AnalyzeDocument(d)
	}
}

// sampleUniform deterministically takes an evenly spaced subset rather
// than a random sample: the analyzer's output feeds a structural
// fingerprint that must be reproducible given the same input batch.
func sampleUniform(docs []map[string]interface{}, n int) []map[string]interface{} {
	if n <= 0 || len(docs) <= n {
		return docs
	}
	out := make([]map[string]interface{}, 0, n)
	step := float64(len(docs)) / float64(n)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * step)
		if idx >= len(docs) {
			idx = len(docs) - 1
		}
		out = append(out, docs[idx])
	}
	return out
}

// FieldStability is the mean presence fraction over top-level fields only.
func (a *Analyzer) FieldStability() float64 {
	var topLevel []*FieldStats
	for path, stats := range a.fieldStats {
		if !strings.Contains(path, ".") && !strings.HasSuffix(path, "[]") {
			topLevel = append(topLevel, stats)
		}
	}
	if len(topLevel) == 0 {
		return 0.0
	}
	var sum float64
	for _, s := range topLevel {
		sum += s.PresenceFraction(a.docsAnalyzed)
	}
	return sum / float64(len(topLevel))
}

// TypeStability is the mean per-path type stability across every field
// (not just top-level), matching the source's get_type_stability.
func (a *Analyzer) TypeStability() float64 {
	if len(a.fieldStats) == 0 {
		return 0.0
	}
	var sum float64
	for _, s := range a.fieldStats {
		_, stability := s.DominantType()
		sum += stability
	}
	return sum / float64(len(a.fieldStats))
}

func (a *Analyzer) HasArrayOfObjects() bool {
	for path := range a.fieldStats {
		if strings.HasSuffix(path, "[]") {
			return true
		}
	}
	return false
}

// StructureHash is the SHA-256 of the canonical {path: dominant_type}
// mapping, sorted by path. Two batches with identical field sets and
// dominant types MUST produce the same hash regardless of value content.
func (a *Analyzer) StructureHash() string {
	paths := make([]string, 0, len(a.fieldStats))
	for p := range a.fieldStats {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// encoding/json already sorts map keys on marshal, but we build an
	// explicit key-ordered structure so the JSON text itself is stable
	// even if that guarantee ever changes.
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range paths {
		if i > 0 {
			b.WriteByte(',')
		}
		dominant, _ := a.fieldStats[p].DominantType()
		keyJSON, _ := json.Marshal(p)
		valJSON, _ := json.Marshal(string(dominant))
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(valJSON)
	}
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Summary is the full analysis result consumed by the decider and DDL
// generator.
type Summary struct {
	DocumentsAnalyzed int
	TotalFields       int
	TopLevelKeys      int
	MaxDepth          int
	FieldStability    float64
	TypeStability     float64
	HasArrayOfObjects bool
	StructureHash     string
	Fields            map[string]FieldSummary
}

func (a *Analyzer) Summary() Summary {
	fields := make(map[string]FieldSummary, len(a.fieldStats))
	for path, stats := range a.fieldStats {
		dominant, stability := stats.DominantType()
		var nullFraction float64
		if stats.PresenceCount > 0 {
			nullFraction = float64(stats.NullCount) / float64(stats.PresenceCount)
		}
		fields[path] = FieldSummary{
			DominantType:  dominant,
			TypeStability: stability,
			Presence:      stats.PresenceFraction(a.docsAnalyzed),
			NullFraction:  nullFraction,
			MaxLength:     stats.MaxValueLength,
			IsLikelyFK:    stats.IsLikelyForeignKey(),
		}
	}

	return Summary{
		DocumentsAnalyzed: a.docsAnalyzed,
		TotalFields:       len(a.fieldStats),
		TopLevelKeys:      len(a.topLevelKeys),
		MaxDepth:          a.maxObservedDepth,
		FieldStability:    a.FieldStability(),
		TypeStability:     a.TypeStability(),
		HasArrayOfObjects: a.HasArrayOfObjects(),
		StructureHash:     a.StructureHash(),
		Fields:            fields,
	}
}

// dottedPathToJSONPath turns a flattened field path ("order.customer_id")
// into a JSONPath expression ("$.order.customer_id") for sample extraction.
func dottedPathToJSONPath(path string) string {
	path = strings.TrimSuffix(path, "[]")
	return "$." + path
}

// sampleForeignKeyValue re-extracts one concrete value for a likely-FK
// field path from a raw document, for inclusion in the DDL generator's
// explanatory comments. Returns ok=false if the path doesn't resolve
// against this particular document (e.g. it was only present in others
// in the batch).
func sampleForeignKeyValue(doc map[string]interface{}, path string) (interface{}, bool) {
	v, err := jsonpath.Get(dottedPathToJSONPath(path), doc)
	if err != nil {
		return nil, false
	}
	return v, true
}

// ForeignKeySamples extracts one sample value per likely-FK field from the
// first document in the batch that actually has it, giving C5's DDL
// generator concrete examples to cite in its index comments.
func (a *Analyzer) ForeignKeySamples(documents []map[string]interface{}) map[string]interface{} {
	samples := make(map[string]interface{})
	for path, stats := range a.fieldStats {
		if !stats.IsLikelyForeignKey() {
			continue
		}
		for _, doc := range documents {
			if v, ok := sampleForeignKeyValue(doc, path); ok && v != nil {
				samples[path] = v
				break
			}
		}
	}
	return samples
}

// DecodeDocument parses raw JSON bytes the way the analyzer needs: numbers
// stay as json.Number so integer/float can be distinguished.
func DecodeDocument(raw []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}
