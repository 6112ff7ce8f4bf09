// Package catalog implements the relational persistence layer (C1):
// transactional CRUD and invariants over assets, raw assets, jobs, schema
// definitions, clusters, and lineage.
package catalog

import "time"

type AssetKind string

const (
	AssetKindMedia    AssetKind = "media"
	AssetKindJSON     AssetKind = "json"
	AssetKindDocument AssetKind = "document"
)

type AssetStatus string

const (
	AssetQueued     AssetStatus = "queued"
	AssetProcessing AssetStatus = "processing"
	AssetDone       AssetStatus = "done"
	AssetFailed     AssetStatus = "failed"
)

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

type JobType string

const (
	JobTypeMedia JobType = "media"
	JobTypeJSON  JobType = "json"
)

type SchemaStatus string

const (
	SchemaProvisional SchemaStatus = "provisional"
	SchemaActive      SchemaStatus = "active"
	SchemaRejected    SchemaStatus = "rejected"
)

// RawAsset is the immutable record of an uploaded byte stream.
type RawAsset struct {
	ID          string
	RequestID   string
	PartID      string
	URI         string
	SizeBytes   int64
	ContentType string
	CreatedAt   time.Time
}

// Asset is the canonical, post-processing handle to a unit of content.
type Asset struct {
	ID            string
	Kind          AssetKind
	URI           string
	SHA256        string
	ContentType   string
	SizeBytes     int64
	Owner         string
	Status        AssetStatus
	ClusterID     *string
	Tags          []string
	Embedding     []float64
	SchemaID      *string
	RawAssetID    *string
	ParentAssetID *string
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Job is a unit of background work tracked in the catalog and mirrored in
// the queue.
type Job struct {
	ID           string
	RequestID    string
	JobType      JobType
	Status       JobStatus
	JobData      []byte // opaque JSON payload
	RetryCount   int
	MaxRetries   int
	NextRetryAt  *time.Time
	DeadLetter   bool
	ErrorMessage string
	AssetIDs     []string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// SchemaDef is a storage plan for a family of JSON documents.
type SchemaDef struct {
	ID             string
	Name           string
	StructureHash  string
	StorageChoice  string // "sql" | "jsonb"
	Version        int
	DDL            string
	Status         SchemaStatus
	SampleSize     int
	FieldStability float64
	MaxDepth       int
	TopLevelKeys   int
	DecisionReason string
	ReviewedBy     string
	ReviewedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Cluster is a centroid of media embeddings.
type Cluster struct {
	ID          string
	Name        string
	Centroid    []float64
	Threshold   float64
	Provisional bool
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Lineage is an append-only audit record.
type Lineage struct {
	ID           string
	RequestID    string
	AssetID      *string
	SchemaID     *string
	Stage        string
	Detail       map[string]interface{}
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}

// DocumentChunk is a supplemented entity (SPEC_FULL.md §3): a 768-dim
// embedding unit belonging to a document-kind Asset.
type DocumentChunk struct {
	ID         string
	AssetID    string
	ChunkIndex int
	Text       string
	Embedding  []float64
	TokenCount int
	CreatedAt  time.Time
}

// VideoFrame is a supplemented entity: a per-frame sample of a media-kind
// Asset whose content type is a video format.
type VideoFrame struct {
	ID          string
	AssetID     string
	FrameIndex  int
	TimestampMs int64
	Embedding   []float64
	ThumbURI    string
}

// IngestionBatch is a derived read-model over Job/Asset state (see
// SPEC_FULL.md §3) - it is recomputed from asset statuses, never
// persisted independently.
type IngestionBatch struct {
	RequestID      string
	TotalItems     int
	CompletedItems int
	FailedItems    int
	CreatedAt      time.Time
	CompletedAt    *time.Time
}
