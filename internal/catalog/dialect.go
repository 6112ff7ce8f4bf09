package catalog

import "fmt"

// dialect isolates the handful of places Postgres and SQLite SQL text
// actually differs (placeholder syntax; both support
// "ON CONFLICT ... DO NOTHING" identically, so upsert_schema_by_fingerprint
// needs no per-dialect branching beyond the placeholder).
type dialect interface {
	arg(position int) string
	name() string
}

type postgresDialect struct{}

func (postgresDialect) arg(position int) string { return fmt.Sprintf("$%d", position) }
func (postgresDialect) name() string            { return "postgres" }

type sqliteDialect struct{}

func (sqliteDialect) arg(int) string   { return "?" }
func (sqliteDialect) name() string     { return "sqlite" }

// bootstrapDDL is the catalog's own schema (distinct from the
// per-document-family tables C5 generates). Timestamps are stored as
// RFC3339 TEXT and JSON-shaped columns as TEXT in both dialects so the
// same query text and scan logic works unmodified against either engine
// - vector similarity math is explicitly out of scope (spec.md §1), so
// embeddings are opaque JSON-encoded float arrays, not a native vector
// column.
const bootstrapDDL = `
CREATE TABLE IF NOT EXISTS raw_assets (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	part_id TEXT NOT NULL,
	uri TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	content_type TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	uri TEXT NOT NULL,
	sha256 TEXT,
	content_type TEXT,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	owner TEXT,
	status TEXT NOT NULL,
	cluster_id TEXT,
	tags TEXT,
	embedding TEXT,
	schema_id TEXT,
	raw_asset_id TEXT,
	parent_asset_id TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_status ON assets (status);
CREATE INDEX IF NOT EXISTS idx_assets_schema_id ON assets (schema_id);
CREATE INDEX IF NOT EXISTS idx_assets_cluster_id ON assets (cluster_id);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL UNIQUE,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	job_data TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	next_retry_at TEXT,
	dead_letter INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	asset_ids TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status);

CREATE TABLE IF NOT EXISTS schema_defs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	structure_hash TEXT NOT NULL UNIQUE,
	storage_choice TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	ddl TEXT,
	status TEXT NOT NULL,
	sample_size INTEGER NOT NULL DEFAULT 0,
	field_stability REAL NOT NULL DEFAULT 0,
	max_depth INTEGER NOT NULL DEFAULT 0,
	top_level_keys INTEGER NOT NULL DEFAULT 0,
	decision_reason TEXT,
	reviewed_by TEXT,
	reviewed_at TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schema_defs_status ON schema_defs (status);

CREATE TABLE IF NOT EXISTS clusters (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	centroid TEXT NOT NULL,
	threshold REAL NOT NULL,
	provisional INTEGER NOT NULL DEFAULT 1,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lineage (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	asset_id TEXT,
	schema_id TEXT,
	stage TEXT NOT NULL,
	detail TEXT,
	success INTEGER NOT NULL,
	error_message TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lineage_request_id ON lineage (request_id);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	embedding TEXT,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	UNIQUE(asset_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS video_frames (
	id TEXT PRIMARY KEY,
	asset_id TEXT NOT NULL,
	frame_index INTEGER NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	embedding TEXT,
	thumb_uri TEXT,
	UNIQUE(asset_id, frame_index)
);
`
