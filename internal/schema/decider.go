package schema

import (
	"fmt"
	"strings"
)

// StorageChoice is the decider's verdict: commit the document family to a
// SQL table or a JSONB document collection.
type StorageChoice string

const (
	StorageSQL   StorageChoice = "sql"
	StorageJSONB StorageChoice = "jsonb"
)

// DeciderConfig mirrors the thresholds spec.md §4.4 fixes as defaults.
type DeciderConfig struct {
	SampleSize         int
	StabilityThreshold float64
	MaxTopLevelKeys    int
	MaxDepth           int
	SQLScoreThreshold  float64
}

func DefaultDeciderConfig() DeciderConfig {
	return DeciderConfig{
		SampleSize:         128,
		StabilityThreshold: 0.6,
		MaxTopLevelKeys:    20,
		MaxDepth:           2,
		SQLScoreThreshold:  0.85,
	}
}

// Decision is the full record of a decider run: choice, confidence, an
// ordered explainability trace, and the analyzer summary it was derived
// from.
type Decision struct {
	StorageChoice     StorageChoice
	Confidence        float64
	Reason            string
	Reasons           []string
	DocumentsAnalyzed int
	TopLevelKeys      int
	MaxDepth          int
	FieldStability    float64
	TypeStability     float64
	HasArrayOfObjects bool
	StructureHash     string
	Fields            map[string]FieldSummary
	// ForeignKeySamples holds one concrete sample value per likely-FK
	// field, for the DDL generator's index comments.
	ForeignKeySamples map[string]interface{}
}

// Decider scores SQL vs JSONB storage for a batch of documents.
type Decider struct {
	cfg DeciderConfig
}

func NewDecider(cfg DeciderConfig) *Decider {
	return &Decider{cfg: cfg}
}

// Decide analyzes documents and returns a storage decision. The analyzer
// is run at a deeper max-depth than the decider's own threshold
// (max(maxDepth+3, 5)) so the true nesting depth is visible even when the
// configured threshold is shallow - otherwise a document nested one level
// past the threshold would be indistinguishable from one nested ten
// levels past it.
func (d *Decider) Decide(documents []map[string]interface{}) Decision {
	analysisDepth := d.cfg.MaxDepth + 3
	if analysisDepth < 5 {
		analysisDepth = 5
	}

	analyzer := NewAnalyzer(analysisDepth, d.cfg.SampleSize)
	analyzer.AnalyzeBatch(documents)
	summary := analyzer.Summary()

	var sqlScore float64
	var reasons []string

	if summary.TopLevelKeys <= d.cfg.MaxTopLevelKeys {
		sqlScore += 0.25
		reasons = append(reasons, fmt.Sprintf("✓ Manageable number of top-level keys (%d ≤ %d)", summary.TopLevelKeys, d.cfg.MaxTopLevelKeys))
	} else {
		reasons = append(reasons, fmt.Sprintf("✗ Too many top-level keys (%d > %d)", summary.TopLevelKeys, d.cfg.MaxTopLevelKeys))
	}

	if summary.MaxDepth <= d.cfg.MaxDepth {
		sqlScore += 0.25
		reasons = append(reasons, fmt.Sprintf("✓ Shallow nesting depth (%d ≤ %d)", summary.MaxDepth, d.cfg.MaxDepth))
	} else {
		reasons = append(reasons, fmt.Sprintf("✗ Deep nesting detected (%d > %d)", summary.MaxDepth, d.cfg.MaxDepth))
	}

	if summary.FieldStability >= d.cfg.StabilityThreshold {
		sqlScore += 0.25
		reasons = append(reasons, fmt.Sprintf("✓ High field stability (%.2f ≥ %.2f)", summary.FieldStability, d.cfg.StabilityThreshold))
	} else {
		reasons = append(reasons, fmt.Sprintf("✗ Low field stability (%.2f < %.2f)", summary.FieldStability, d.cfg.StabilityThreshold))
	}

	if summary.TypeStability >= 0.9 {
		sqlScore += 0.15
		reasons = append(reasons, fmt.Sprintf("✓ Consistent field types (%.2f)", summary.TypeStability))
	} else {
		reasons = append(reasons, fmt.Sprintf("✗ Inconsistent field types (%.2f)", summary.TypeStability))
	}

	if !summary.HasArrayOfObjects {
		sqlScore += 0.10
		reasons = append(reasons, "✓ No complex nested arrays")
	} else {
		reasons = append(reasons, "✗ Contains arrays of objects (requires child tables)")
	}

	var choice StorageChoice
	var confidence float64
	var prefix string

	switch {
	case summary.HasArrayOfObjects:
		choice, confidence = StorageJSONB, 0.95
		prefix = "JSONB storage required: "
	case summary.TopLevelKeys > d.cfg.MaxTopLevelKeys:
		choice, confidence = StorageJSONB, 0.90
		prefix = "JSONB storage required: "
	case summary.MaxDepth > d.cfg.MaxDepth:
		choice, confidence = StorageJSONB, 0.90
		prefix = "JSONB storage required: "
	case sqlScore >= d.cfg.SQLScoreThreshold:
		choice, confidence = StorageSQL, sqlScore
		prefix = "SQL storage recommended: "
	default:
		choice, confidence = StorageJSONB, 1.0-sqlScore
		prefix = "JSONB storage recommended: "
	}

	return Decision{
		StorageChoice:     choice,
		Confidence:        confidence,
		Reason:            prefix + strings.Join(reasons, "; "),
		Reasons:           reasons,
		DocumentsAnalyzed: summary.DocumentsAnalyzed,
		TopLevelKeys:      summary.TopLevelKeys,
		MaxDepth:          summary.MaxDepth,
		FieldStability:    summary.FieldStability,
		TypeStability:     summary.TypeStability,
		HasArrayOfObjects: summary.HasArrayOfObjects,
		StructureHash:     summary.StructureHash,
		Fields:            summary.Fields,
		ForeignKeySamples: analyzer.ForeignKeySamples(documents),
	}
}

// GenerateCollectionName sanitizes a user-supplied hint into a table or
// collection name, falling back to a hash-derived name when the hint is
// empty or sanitizes to nothing usable.
func GenerateCollectionName(decision Decision, hint string) string {
	hashPrefix := decision.StructureHash
	if len(hashPrefix) > 8 {
		hashPrefix = hashPrefix[:8]
	}

	if hint != "" {
		name := strings.ToLower(hint)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = sanitizeToAlnumUnderscore(name)
		if name != "" && (isLetter(name[0]) || name[0] == '_') {
			return name
		}
	}

	if decision.StorageChoice == StorageSQL {
		return "table_" + hashPrefix
	}
	return "docs_" + hashPrefix
}

func sanitizeToAlnumUnderscore(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
