package schema

import (
	"fmt"
	"sort"
	"strings"
)

// reservedColumnWords mirrors original_source/src/ingest/ddl_generator.py's
// reserved list - names that collide with common SQL keywords get a
// _col suffix rather than being quoted everywhere they're used.
var reservedColumnWords = map[string]struct{}{
	"user": {}, "group": {}, "order": {}, "table": {},
	"index": {}, "key": {}, "value": {}, "default": {},
}

// DDLGenerator emits CREATE TABLE / CREATE COLLECTION DDL from a Decision.
type DDLGenerator struct {
	IncludeFallbackJSONB bool
}

func NewDDLGenerator(includeFallbackJSONB bool) *DDLGenerator {
	return &DDLGenerator{IncludeFallbackJSONB: includeFallbackJSONB}
}

func mapJSONTypeToSQL(t JsonType, maxLength int) string {
	switch t {
	case TypeNull:
		return "TEXT"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeInteger:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeString:
		return stringColumnType(maxLength)
	case TypeArray, TypeObject:
		return "JSONB"
	default:
		return "TEXT"
	}
}

func stringColumnType(maxLength int) string {
	switch {
	case maxLength == 0:
		return "TEXT"
	case maxLength <= 255:
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	case maxLength <= 1000:
		return "VARCHAR(1000)"
	default:
		return "TEXT"
	}
}

// SanitizeColumnName maps "." to "_" and "[]" to "_array", lowercases,
// replaces every other character outside [a-z0-9_] with "_", prefixes
// "col_" when the result starts with a digit, and suffixes "_col" to
// reserved keywords. It is idempotent:
// SanitizeColumnName(SanitizeColumnName(x)) == SanitizeColumnName(x).
func SanitizeColumnName(name string) string {
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "[]", "_array")
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name = b.String()

	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "col_" + name
	}

	if _, reserved := reservedColumnWords[name]; reserved {
		name = name + "_col"
	}

	return name
}

type columnDef struct {
	name string
	sql  string
}

// columnDefinitions projects only top-level fields (no dots, no "[]"
// suffix) into columns, matching the DDL generator's skip-nested rule -
// nested paths and array-of-objects markers are represented through the
// fallback JSONB column instead of their own columns.
func (g *DDLGenerator) columnDefinitions(decision Decision) ([]columnDef, []string) {
	// Iterate field paths in sorted order so generated DDL is
	// deterministic regardless of map iteration order - required by the
	// "DDL generation is deterministic" round-trip law.
	paths := make([]string, 0, len(decision.Fields))
	for p := range decision.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var columns []columnDef
	var indexes []string
	seen := make(map[string]int)

	for _, path := range paths {
		if strings.Contains(path, ".") || strings.HasSuffix(path, "[]") {
			continue
		}
		info := decision.Fields[path]

		colName := SanitizeColumnName(path)
		if n, ok := seen[colName]; ok {
			seen[colName] = n + 1
			colName = fmt.Sprintf("%s_%d", colName, len(seen))
		} else {
			seen[colName] = 1
		}

		sqlType := mapJSONTypeToSQL(info.DominantType, info.MaxLength)
		nullable := info.Presence < 0.95
		nullClause := ""
		if !nullable {
			nullClause = " NOT NULL"
		}

		columns = append(columns, columnDef{
			name: colName,
			sql:  fmt.Sprintf("    %s %s%s", colName, sqlType, nullClause),
		})

		shouldIndex := info.IsLikelyFK ||
			(info.Presence > 0.8 && info.TypeStability > 0.9 &&
				(info.DominantType == TypeInteger || info.DominantType == TypeString))

		if shouldIndex {
			if sample, ok := decision.ForeignKeySamples[path]; ok && info.IsLikelyFK {
				indexes = append(indexes, fmt.Sprintf("-- %s sample value: %v", colName, sample))
			}
			if sqlType == "JSONB" {
				indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_gin ON {table_name} USING GIN (%s);", colName, colName))
			} else {
				indexes = append(indexes, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s ON {table_name} (%s);", colName, colName))
			}
		}
	}

	return columns, indexes
}

// GenerateTableDDL emits a CREATE TABLE IF NOT EXISTS statement for SQL
// storage mode.
func (g *DDLGenerator) GenerateTableDDL(tableName string, decision Decision, includeAuditColumns bool) string {
	var columns []string
	columns = append(columns, "    id UUID PRIMARY KEY DEFAULT gen_random_uuid()")

	fieldColumns, indexTemplates := g.columnDefinitions(decision)
	for _, c := range fieldColumns {
		columns = append(columns, c.sql)
	}

	if g.IncludeFallbackJSONB {
		columns = append(columns, "    extra JSONB")
	}

	if includeAuditColumns {
		columns = append(columns, "    created_at TIMESTAMP WITHOUT TIME ZONE DEFAULT NOW()")
		columns = append(columns, "    updated_at TIMESTAMP WITHOUT TIME ZONE DEFAULT NOW()")
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (", tableName))
	lines = append(lines, strings.Join(columns, ",\n"))
	lines = append(lines, ");")

	if len(indexTemplates) > 0 {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("-- Indexes for %s", tableName))
		for _, idx := range indexTemplates {
			lines = append(lines, strings.ReplaceAll(idx, "{table_name}", tableName))
		}
	}

	if g.IncludeFallbackJSONB {
		lines = append(lines, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_extra ON %s USING GIN (extra);", tableName, tableName))
	}

	return strings.Join(lines, "\n")
}

// GenerateJSONBCollectionDDL emits a single-column JSONB document table
// for JSONB storage mode.
func (g *DDLGenerator) GenerateJSONBCollectionDDL(collectionName string, includeAuditColumns bool) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (", collectionName))
	lines = append(lines, "    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),")
	lines = append(lines, "    doc JSONB NOT NULL")

	if includeAuditColumns {
		lines = append(lines, "    ,created_at TIMESTAMP WITHOUT TIME ZONE DEFAULT NOW()")
		lines = append(lines, "    ,updated_at TIMESTAMP WITHOUT TIME ZONE DEFAULT NOW()")
	}

	lines = append(lines, ");")
	lines = append(lines, "")
	lines = append(lines, "-- GIN index for JSONB queries")
	lines = append(lines, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_doc ON %s USING GIN (doc);", collectionName, collectionName))

	return strings.Join(lines, "\n")
}

// GenerateInsertStatement emits a parameterized INSERT template for the
// table a SQL-mode decision produces.
func (g *DDLGenerator) GenerateInsertStatement(tableName string, decision Decision) string {
	paths := make([]string, 0, len(decision.Fields))
	for p := range decision.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var columns []string
	for _, path := range paths {
		if strings.Contains(path, ".") || strings.HasSuffix(path, "[]") {
			continue
		}
		columns = append(columns, SanitizeColumnName(path))
	}
	if g.IncludeFallbackJSONB {
		columns = append(columns, "extra")
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tableName, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}
