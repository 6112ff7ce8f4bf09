package catalog

import (
	"context"

	"github.com/mammothbox/mammothbox/internal/schema"
)

// TxFunc is business logic run inside a single transaction. Returning an
// error rolls the transaction back; returning nil commits it. This is the
// scoped-acquisition pattern SPEC_FULL.md §9 calls for: every exit path
// either commits, rolls back, or closes - never leaks a connection.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx is the set of operations available inside a single transaction.
// Implementations guarantee all writes made through one Tx are atomic.
type Tx interface {
	CreateRawAsset(ctx context.Context, a *RawAsset) error
	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, id string) (*Asset, error)
	UpdateAsset(ctx context.Context, a *Asset) error
	ListAssetsBySchema(ctx context.Context, schemaID string, status AssetStatus) ([]*Asset, error)
	ListAssetsByCluster(ctx context.Context, clusterID string) ([]*Asset, error)

	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobByRequestID(ctx context.Context, requestID string) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error

	// UpsertSchemaByFingerprint is C1's one compound operation: atomic
	// get-or-create keyed on the unique structure_hash index. On an
	// insert conflict (concurrent creator won the race) it re-reads and
	// returns the existing row instead of erroring.
	UpsertSchemaByFingerprint(ctx context.Context, decision schema.Decision, name string) (*SchemaDef, bool, error)
	GetSchema(ctx context.Context, id string) (*SchemaDef, error)
	UpdateSchema(ctx context.Context, s *SchemaDef) error
	ListSchemas(ctx context.Context, status *SchemaStatus) ([]*SchemaDef, error)

	CreateCluster(ctx context.Context, c *Cluster) error
	GetCluster(ctx context.Context, id string) (*Cluster, error)
	GetClusterByName(ctx context.Context, name string) (*Cluster, error)
	UpdateCluster(ctx context.Context, c *Cluster) error
	DeleteCluster(ctx context.Context, id string) error
	ListClusters(ctx context.Context, provisional *bool) ([]*Cluster, error)
	ReassignClusterMembers(ctx context.Context, fromClusterID, toClusterID string) (int, error)

	AppendLineage(ctx context.Context, l *Lineage) error
	ListLineageByRequest(ctx context.Context, requestID string) ([]*Lineage, error)

	UpsertDocumentChunks(ctx context.Context, assetID string, chunks []*DocumentChunk) error
	UpsertVideoFrames(ctx context.Context, assetID string, frames []*VideoFrame) error

	// ExecDDL runs a generated CREATE TABLE/INDEX statement (C5's output)
	// against the same connection as the rest of the transaction.
	ExecDDL(ctx context.Context, ddl string) error
}

// Store is the top-level catalog handle: a connection pool plus the
// transactional surface. Two implementations exist (Postgres, SQLite)
// behind this one interface so orchestrator/worker/admin code never
// branches on which database is in play.
type Store interface {
	// WithTx runs fn inside a single transaction, committing on nil
	// return and rolling back otherwise.
	WithTx(ctx context.Context, fn TxFunc) error

	// Convenience read-only helpers that don't need transactional
	// isolation from the caller's perspective (single-statement reads).
	GetJob(ctx context.Context, id string) (*Job, error)
	GetJobByRequestID(ctx context.Context, requestID string) (*Job, error)
	GetAsset(ctx context.Context, id string) (*Asset, error)
	GetSchema(ctx context.Context, id string) (*SchemaDef, error)
	ListSchemas(ctx context.Context, status *SchemaStatus) ([]*SchemaDef, error)
	GetCluster(ctx context.Context, id string) (*Cluster, error)
	ListClusters(ctx context.Context, provisional *bool) ([]*Cluster, error)
	BatchProgress(ctx context.Context, requestID string) (*IngestionBatch, error)

	// StaleQueuedJobs lists jobs in JobQueued created before the olderThan
	// Unix-seconds cutoff - the outbox reconciler's read path
	// (SPEC_FULL.md §4.8). It reads only the catalog; whether the queue
	// still holds a message for a job is not checked.
	StaleQueuedJobs(ctx context.Context, olderThan int64) ([]*Job, error)

	Close() error
}

// LineageSinkAttacher is implemented by Store backends that support
// dual-writing lineage records into an optional analytical sink
// (SPEC_FULL.md §4.1's ClickHouse lineage sink). Callers type-assert for
// this rather than growing the core Store interface, since the sink is
// opt-in infrastructure a backend may not support.
type LineageSinkAttacher interface {
	WithLineageSink(sink *ClickHouseSink) Store
}
