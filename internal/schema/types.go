// Package schema implements the JSON schema analyzer, SQL/JSONB decider,
// and DDL generator (components C3-C5 of the MammothBox catalog).
package schema

import "strings"

// JsonType is the set of JSON value types the analyzer distinguishes.
// Integer and float are split even though JSON has one number type,
// because the SQL column types they map to (BIGINT vs DOUBLE PRECISION)
// differ.
type JsonType string

const (
	TypeNull    JsonType = "null"
	TypeBoolean JsonType = "boolean"
	TypeInteger JsonType = "integer"
	TypeFloat   JsonType = "float"
	TypeString  JsonType = "string"
	TypeArray   JsonType = "array"
	TypeObject  JsonType = "object"
)

// FieldStats accumulates observations for a single flattened field path
// across a batch of documents.
type FieldStats struct {
	Path            string
	TypeCounts      map[JsonType]int
	PresenceCount   int
	NullCount       int
	SampleValues    []interface{}
	MaxValueLength  int
}

func newFieldStats(path string) *FieldStats {
	return &FieldStats{Path: path, TypeCounts: make(map[JsonType]int)}
}

// addValue records one observation of value at this path.
func (f *FieldStats) addValue(value interface{}, t JsonType) {
	f.PresenceCount++
	f.TypeCounts[t]++

	if value == nil {
		f.NullCount++
	}

	if len(f.SampleValues) < 10 {
		f.SampleValues = append(f.SampleValues, value)
	}

	if t == TypeString {
		if s, ok := value.(string); ok && len(s) > f.MaxValueLength {
			f.MaxValueLength = len(s)
		}
	}
}

// DominantType returns the plurality type observed at this path and its
// stability (winner count / total observations). Ties are broken by the
// first type encountered in map iteration order in the original; Go map
// iteration is randomized, so ties are broken deterministically here by
// the fixed order of orderedTypes (null, boolean, integer, float, string,
// array, object), the earlier type winning — this only affects the exact
// winner when two types are exactly equally common, which does not
// change stability.
func (f *FieldStats) DominantType() (JsonType, float64) {
	if len(f.TypeCounts) == 0 {
		return TypeNull, 1.0
	}

	var total int
	for _, c := range f.TypeCounts {
		total += c
	}

	var best JsonType
	bestCount := -1
	for _, t := range orderedTypes {
		c, ok := f.TypeCounts[t]
		if !ok {
			continue
		}
		if c > bestCount {
			best = t
			bestCount = c
		}
	}

	if total == 0 {
		return best, 0.0
	}
	return best, float64(bestCount) / float64(total)
}

var orderedTypes = []JsonType{
	TypeNull, TypeBoolean, TypeInteger, TypeFloat, TypeString, TypeArray, TypeObject,
}

func (f *FieldStats) PresenceFraction(totalDocs int) float64 {
	if totalDocs <= 0 {
		return 0.0
	}
	return float64(f.PresenceCount) / float64(totalDocs)
}

// IsLikelyForeignKey is a naming heuristic: paths ending in _id/_key, or
// containing "id" anywhere, are candidates for B-tree indexing in C5.
func (f *FieldStats) IsLikelyForeignKey() bool {
	p := strings.ToLower(f.Path)
	return strings.HasSuffix(p, "_id") || strings.HasSuffix(p, "_key") || strings.Contains(p, "id")
}

// FieldSummary is the serializable projection of a FieldStats used by
// Decision.Fields and by the DDL generator.
type FieldSummary struct {
	DominantType  JsonType `json:"dominant_type"`
	TypeStability float64  `json:"type_stability"`
	Presence      float64  `json:"presence"`
	NullFraction  float64  `json:"null_fraction"`
	MaxLength     int      `json:"max_length"`
	IsLikelyFK    bool     `json:"is_likely_fk"`
}
