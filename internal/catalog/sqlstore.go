package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/schema"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run identically whether or not they're inside a caller's transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// sqlStore is the shared Postgres/SQLite implementation of Store. The two
// concrete constructors (NewPostgresStore, NewSQLiteStore) differ only in
// driver name, DSN handling, and pool-sizing defaults - every query here
// runs unmodified against either engine.
type sqlStore struct {
	db   *sql.DB
	d    dialect
	sink *ClickHouseSink
}

// WithLineageSink attaches an optional ClickHouse dual-write sink for
// lineage records. Returns the store for chaining at construction time.
func (s *sqlStore) WithLineageSink(sink *ClickHouseSink) Store {
	s.sink = sink
	return s
}

func newSQLStore(db *sql.DB, d dialect) (*sqlStore, error) {
	if _, err := db.Exec(bootstrapDDL); err != nil {
		return nil, fmt.Errorf("bootstrap catalog schema: %w", err)
	}
	return &sqlStore{db: db, d: d}, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) WithTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Storage("begin transaction", err)
	}
	stx := &sqlTx{q: tx, d: s.d, sink: s.sink}
	if err := fn(ctx, stx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Storage("commit transaction", err)
	}
	return nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (*Job, error) {
	return getJob(ctx, s.db, s.d, "id", id)
}

func (s *sqlStore) GetJobByRequestID(ctx context.Context, requestID string) (*Job, error) {
	return getJob(ctx, s.db, s.d, "request_id", requestID)
}

func (s *sqlStore) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return getAsset(ctx, s.db, s.d, id)
}

func (s *sqlStore) GetSchema(ctx context.Context, id string) (*SchemaDef, error) {
	return getSchema(ctx, s.db, s.d, "id", id)
}

func (s *sqlStore) ListSchemas(ctx context.Context, status *SchemaStatus) ([]*SchemaDef, error) {
	return listSchemas(ctx, s.db, s.d, status)
}

func (s *sqlStore) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	return getCluster(ctx, s.db, s.d, "id", id)
}

func (s *sqlStore) ListClusters(ctx context.Context, provisional *bool) ([]*Cluster, error) {
	return listClusters(ctx, s.db, s.d, provisional)
}

func (s *sqlStore) BatchProgress(ctx context.Context, requestID string) (*IngestionBatch, error) {
	job, err := s.GetJobByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	batch := &IngestionBatch{RequestID: requestID, TotalItems: len(job.AssetIDs), CreatedAt: job.CreatedAt}
	for _, id := range job.AssetIDs {
		a, err := s.GetAsset(ctx, id)
		if err != nil {
			continue
		}
		switch a.Status {
		case AssetDone:
			batch.CompletedItems++
		case AssetFailed:
			batch.FailedItems++
		}
	}
	if batch.CompletedItems+batch.FailedItems == batch.TotalItems && job.CompletedAt != nil {
		batch.CompletedAt = job.CompletedAt
	}
	return batch, nil
}

func (s *sqlStore) StaleQueuedJobs(ctx context.Context, olderThanUnixSeconds int64) ([]*Job, error) {
	cutoff := time.Unix(olderThanUnixSeconds, 0).UTC().Format(time.RFC3339Nano)
	q := fmt.Sprintf(`SELECT id FROM jobs WHERE status = %s AND created_at < %s`, s.d.arg(1), s.d.arg(2))
	rows, err := s.db.QueryContext(ctx, q, string(JobQueued), cutoff)
	if err != nil {
		return nil, errs.Storage("query stale jobs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("scan stale job id", err)
		}
		ids = append(ids, id)
	}

	var out []*Job
	for _, id := range ids {
		j, err := s.GetJob(ctx, id)
		if err == nil {
			out = append(out, j)
		}
	}
	return out, nil
}

// sqlTx implements Tx over a *sql.Tx.
type sqlTx struct {
	q    querier
	d    dialect
	sink *ClickHouseSink
}

func (t *sqlTx) CreateRawAsset(ctx context.Context, a *RawAsset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	q := fmt.Sprintf(`INSERT INTO raw_assets (id, request_id, part_id, uri, size_bytes, content_type, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7))
	_, err := t.q.ExecContext(ctx, q, a.ID, a.RequestID, a.PartID, a.URI, a.SizeBytes, a.ContentType, formatTime(a.CreatedAt))
	if err != nil {
		return errs.Storage("create raw asset", err)
	}
	return nil
}

func (t *sqlTx) CreateAsset(ctx context.Context, a *Asset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	tags, _ := json.Marshal(a.Tags)
	embedding, _ := json.Marshal(a.Embedding)
	metadata, _ := json.Marshal(a.Metadata)

	args := []interface{}{
		a.ID, string(a.Kind), a.URI, nullStr(a.SHA256), nullStr(a.ContentType), a.SizeBytes,
		nullStr(a.Owner), string(a.Status), nullStrPtr(a.ClusterID), string(tags), string(embedding),
		nullStrPtr(a.SchemaID), nullStrPtr(a.RawAssetID), nullStrPtr(a.ParentAssetID), string(metadata),
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	}
	ph := make([]string, len(args))
	for i := range ph {
		ph[i] = t.d.arg(i + 1)
	}
	q := fmt.Sprintf(`INSERT INTO assets (id, kind, uri, sha256, content_type, size_bytes, owner, status,
		cluster_id, tags, embedding, schema_id, raw_asset_id, parent_asset_id, metadata, created_at, updated_at)
		VALUES (%s)`, strings.Join(ph, ", "))

	if _, err := t.q.ExecContext(ctx, q, args...); err != nil {
		return errs.Storage("create asset", err)
	}
	return nil
}

func (t *sqlTx) GetAsset(ctx context.Context, id string) (*Asset, error) {
	return getAsset(ctx, t.q, t.d, id)
}

func (t *sqlTx) UpdateAsset(ctx context.Context, a *Asset) error {
	a.UpdatedAt = time.Now().UTC()
	tags, _ := json.Marshal(a.Tags)
	embedding, _ := json.Marshal(a.Embedding)
	metadata, _ := json.Marshal(a.Metadata)

	q := fmt.Sprintf(`UPDATE assets SET kind=%s, uri=%s, sha256=%s, content_type=%s, size_bytes=%s, owner=%s,
		status=%s, cluster_id=%s, tags=%s, embedding=%s, schema_id=%s, raw_asset_id=%s, parent_asset_id=%s,
		metadata=%s, updated_at=%s WHERE id=%s`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7), t.d.arg(8),
		t.d.arg(9), t.d.arg(10), t.d.arg(11), t.d.arg(12), t.d.arg(13), t.d.arg(14), t.d.arg(15), t.d.arg(16))

	_, err := t.q.ExecContext(ctx, q, string(a.Kind), a.URI, nullStr(a.SHA256), nullStr(a.ContentType), a.SizeBytes,
		nullStr(a.Owner), string(a.Status), nullStrPtr(a.ClusterID), string(tags), string(embedding),
		nullStrPtr(a.SchemaID), nullStrPtr(a.RawAssetID), nullStrPtr(a.ParentAssetID), string(metadata),
		formatTime(a.UpdatedAt), a.ID)
	if err != nil {
		return errs.Storage("update asset", err)
	}
	return nil
}

func (t *sqlTx) ListAssetsBySchema(ctx context.Context, schemaID string, status AssetStatus) ([]*Asset, error) {
	q := fmt.Sprintf(`SELECT id FROM assets WHERE schema_id = %s AND status = %s`, t.d.arg(1), t.d.arg(2))
	rows, err := t.q.QueryContext(ctx, q, schemaID, string(status))
	if err != nil {
		return nil, errs.Storage("list assets by schema", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("scan asset id", err)
		}
		ids = append(ids, id)
	}

	var out []*Asset
	for _, id := range ids {
		a, err := getAsset(ctx, t.q, t.d, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *sqlTx) ListAssetsByCluster(ctx context.Context, clusterID string) ([]*Asset, error) {
	q := fmt.Sprintf(`SELECT id FROM assets WHERE cluster_id = %s`, t.d.arg(1))
	rows, err := t.q.QueryContext(ctx, q, clusterID)
	if err != nil {
		return nil, errs.Storage("list assets by cluster", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("scan asset id", err)
		}
		ids = append(ids, id)
	}

	var out []*Asset
	for _, id := range ids {
		a, err := getAsset(ctx, t.q, t.d, id)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (t *sqlTx) CreateJob(ctx context.Context, j *Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.MaxRetries == 0 {
		j.MaxRetries = 3
	}
	assetIDs, _ := json.Marshal(j.AssetIDs)

	q := fmt.Sprintf(`INSERT INTO jobs (id, request_id, job_type, status, job_data, retry_count, max_retries,
		next_retry_at, dead_letter, error_message, asset_ids, created_at, started_at, completed_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7),
		t.d.arg(8), t.d.arg(9), t.d.arg(10), t.d.arg(11), t.d.arg(12), t.d.arg(13), t.d.arg(14))

	_, err := t.q.ExecContext(ctx, q, j.ID, j.RequestID, string(j.JobType), string(j.Status), string(j.JobData),
		j.RetryCount, j.MaxRetries, formatTimePtr(j.NextRetryAt), boolToInt(j.DeadLetter), nullStr(j.ErrorMessage),
		string(assetIDs), formatTime(j.CreatedAt), formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("job with this request_id already exists")
		}
		return errs.Storage("create job", err)
	}
	return nil
}

func (t *sqlTx) GetJob(ctx context.Context, id string) (*Job, error) {
	return getJob(ctx, t.q, t.d, "id", id)
}

func (t *sqlTx) GetJobByRequestID(ctx context.Context, requestID string) (*Job, error) {
	return getJob(ctx, t.q, t.d, "request_id", requestID)
}

func (t *sqlTx) UpdateJob(ctx context.Context, j *Job) error {
	assetIDs, _ := json.Marshal(j.AssetIDs)
	q := fmt.Sprintf(`UPDATE jobs SET status=%s, job_data=%s, retry_count=%s, max_retries=%s, next_retry_at=%s,
		dead_letter=%s, error_message=%s, asset_ids=%s, started_at=%s, completed_at=%s WHERE id=%s`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7), t.d.arg(8),
		t.d.arg(9), t.d.arg(10), t.d.arg(11))

	_, err := t.q.ExecContext(ctx, q, string(j.Status), string(j.JobData), j.RetryCount, j.MaxRetries,
		formatTimePtr(j.NextRetryAt), boolToInt(j.DeadLetter), nullStr(j.ErrorMessage), string(assetIDs),
		formatTimePtr(j.StartedAt), formatTimePtr(j.CompletedAt), j.ID)
	if err != nil {
		return errs.Storage("update job", err)
	}
	return nil
}

func (t *sqlTx) UpsertSchemaByFingerprint(ctx context.Context, d schema.Decision, name string) (*SchemaDef, bool, error) {
	existing, err := getSchema(ctx, t.q, t.d, "structure_hash", d.StructureHash)
	if err == nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	s := &SchemaDef{
		ID:             uuid.NewString(),
		Name:           name,
		StructureHash:  d.StructureHash,
		StorageChoice:  string(d.StorageChoice),
		Version:        1,
		Status:         SchemaProvisional,
		SampleSize:     d.DocumentsAnalyzed,
		FieldStability: d.FieldStability,
		MaxDepth:       d.MaxDepth,
		TopLevelKeys:   d.TopLevelKeys,
		DecisionReason: d.Reason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	q := fmt.Sprintf(`INSERT INTO schema_defs (id, name, structure_hash, storage_choice, version, ddl, status,
		sample_size, field_stability, max_depth, top_level_keys, decision_reason, reviewed_by, reviewed_at,
		created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (structure_hash) DO NOTHING`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7), t.d.arg(8),
		t.d.arg(9), t.d.arg(10), t.d.arg(11), t.d.arg(12), t.d.arg(13), t.d.arg(14), t.d.arg(15), t.d.arg(16))

	res, err := t.q.ExecContext(ctx, q, s.ID, s.Name, s.StructureHash, s.StorageChoice, s.Version,
		nullStr(s.DDL), string(s.Status), s.SampleSize, s.FieldStability, s.MaxDepth, s.TopLevelKeys,
		nullStr(s.DecisionReason), nullStr(s.ReviewedBy), formatTimePtr(s.ReviewedAt), formatTime(s.CreatedAt), formatTime(s.UpdatedAt))
	if err != nil {
		return nil, false, errs.Storage("insert schema def", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race: another transaction inserted the same
		// fingerprint first. Re-read and return its row instead of
		// erroring - this is the atomic get-or-create spec.md §4.1
		// requires.
		won, err := getSchema(ctx, t.q, t.d, "structure_hash", d.StructureHash)
		if err != nil {
			return nil, false, errs.Storage("re-read schema after conflict", err)
		}
		return won, false, nil
	}

	return s, true, nil
}

func (t *sqlTx) GetSchema(ctx context.Context, id string) (*SchemaDef, error) {
	return getSchema(ctx, t.q, t.d, "id", id)
}

func (t *sqlTx) UpdateSchema(ctx context.Context, s *SchemaDef) error {
	s.UpdatedAt = time.Now().UTC()
	q := fmt.Sprintf(`UPDATE schema_defs SET name=%s, ddl=%s, status=%s, decision_reason=%s, reviewed_by=%s,
		reviewed_at=%s, updated_at=%s WHERE id=%s`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7), t.d.arg(8))
	_, err := t.q.ExecContext(ctx, q, s.Name, nullStr(s.DDL), string(s.Status), nullStr(s.DecisionReason),
		nullStr(s.ReviewedBy), formatTimePtr(s.ReviewedAt), formatTime(s.UpdatedAt), s.ID)
	if err != nil {
		return errs.Storage("update schema def", err)
	}
	return nil
}

func (t *sqlTx) ListSchemas(ctx context.Context, status *SchemaStatus) ([]*SchemaDef, error) {
	return listSchemas(ctx, t.q, t.d, status)
}

func (t *sqlTx) CreateCluster(ctx context.Context, c *Cluster) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	centroid, _ := json.Marshal(c.Centroid)
	metadata, _ := json.Marshal(c.Metadata)

	q := fmt.Sprintf(`INSERT INTO clusters (id, name, centroid, threshold, provisional, metadata, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7), t.d.arg(8))
	_, err := t.q.ExecContext(ctx, q, c.ID, c.Name, string(centroid), c.Threshold, boolToInt(c.Provisional),
		string(metadata), formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("cluster name already exists")
		}
		return errs.Storage("create cluster", err)
	}
	return nil
}

func (t *sqlTx) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	return getCluster(ctx, t.q, t.d, "id", id)
}

func (t *sqlTx) GetClusterByName(ctx context.Context, name string) (*Cluster, error) {
	return getCluster(ctx, t.q, t.d, "name", name)
}

func (t *sqlTx) UpdateCluster(ctx context.Context, c *Cluster) error {
	c.UpdatedAt = time.Now().UTC()
	centroid, _ := json.Marshal(c.Centroid)
	metadata, _ := json.Marshal(c.Metadata)
	q := fmt.Sprintf(`UPDATE clusters SET name=%s, centroid=%s, threshold=%s, provisional=%s, metadata=%s,
		updated_at=%s WHERE id=%s`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7))
	_, err := t.q.ExecContext(ctx, q, c.Name, string(centroid), c.Threshold, boolToInt(c.Provisional),
		string(metadata), formatTime(c.UpdatedAt), c.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.Conflict("cluster name already exists")
		}
		return errs.Storage("update cluster", err)
	}
	return nil
}

func (t *sqlTx) DeleteCluster(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM clusters WHERE id = %s`, t.d.arg(1))
	if _, err := t.q.ExecContext(ctx, q, id); err != nil {
		return errs.Storage("delete cluster", err)
	}
	return nil
}

func (t *sqlTx) ListClusters(ctx context.Context, provisional *bool) ([]*Cluster, error) {
	return listClusters(ctx, t.q, t.d, provisional)
}

func (t *sqlTx) ReassignClusterMembers(ctx context.Context, fromClusterID, toClusterID string) (int, error) {
	q := fmt.Sprintf(`UPDATE assets SET cluster_id = %s, updated_at = %s WHERE cluster_id = %s`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3))
	res, err := t.q.ExecContext(ctx, q, toClusterID, formatTime(time.Now().UTC()), fromClusterID)
	if err != nil {
		return 0, errs.Storage("reassign cluster members", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (t *sqlTx) AppendLineage(ctx context.Context, l *Lineage) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	detail, _ := json.Marshal(l.Detail)
	q := fmt.Sprintf(`INSERT INTO lineage (id, request_id, asset_id, schema_id, stage, detail, success,
		error_message, created_at) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7), t.d.arg(8), t.d.arg(9))
	_, err := t.q.ExecContext(ctx, q, l.ID, l.RequestID, nullStrPtr(l.AssetID), nullStrPtr(l.SchemaID), l.Stage,
		string(detail), boolToInt(l.Success), nullStr(l.ErrorMessage), formatTime(l.CreatedAt))
	if err != nil {
		return errs.Storage("append lineage", err)
	}
	t.sink.Write(ctx, l)
	return nil
}

func (t *sqlTx) ListLineageByRequest(ctx context.Context, requestID string) ([]*Lineage, error) {
	q := fmt.Sprintf(`SELECT id, request_id, asset_id, schema_id, stage, detail, success, error_message, created_at
		FROM lineage WHERE request_id = %s ORDER BY created_at ASC`, t.d.arg(1))
	rows, err := t.q.QueryContext(ctx, q, requestID)
	if err != nil {
		return nil, errs.Storage("list lineage", err)
	}
	defer rows.Close()

	var out []*Lineage
	for rows.Next() {
		l := &Lineage{}
		var assetID, schemaID, detail, errMsg sql.NullString
		var success int
		var createdAt string
		if err := rows.Scan(&l.ID, &l.RequestID, &assetID, &schemaID, &l.Stage, &detail, &success, &errMsg, &createdAt); err != nil {
			return nil, errs.Storage("scan lineage row", err)
		}
		l.AssetID = nullableStrPtr(assetID)
		l.SchemaID = nullableStrPtr(schemaID)
		l.Success = success != 0
		l.ErrorMessage = errMsg.String
		l.CreatedAt = parseTime(createdAt)
		if detail.Valid {
			_ = json.Unmarshal([]byte(detail.String), &l.Detail)
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *sqlTx) UpsertDocumentChunks(ctx context.Context, assetID string, chunks []*DocumentChunk) error {
	del := fmt.Sprintf(`DELETE FROM document_chunks WHERE asset_id = %s`, t.d.arg(1))
	if _, err := t.q.ExecContext(ctx, del, assetID); err != nil {
		return errs.Storage("clear document chunks", err)
	}
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.AssetID = assetID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
		embedding, _ := json.Marshal(c.Embedding)
		q := fmt.Sprintf(`INSERT INTO document_chunks (id, asset_id, chunk_index, text, embedding, token_count, created_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s)`,
			t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6), t.d.arg(7))
		if _, err := t.q.ExecContext(ctx, q, c.ID, c.AssetID, c.ChunkIndex, c.Text, string(embedding), c.TokenCount, formatTime(c.CreatedAt)); err != nil {
			return errs.Storage("insert document chunk", err)
		}
	}
	return nil
}

func (t *sqlTx) UpsertVideoFrames(ctx context.Context, assetID string, frames []*VideoFrame) error {
	del := fmt.Sprintf(`DELETE FROM video_frames WHERE asset_id = %s`, t.d.arg(1))
	if _, err := t.q.ExecContext(ctx, del, assetID); err != nil {
		return errs.Storage("clear video frames", err)
	}
	for _, f := range frames {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		f.AssetID = assetID
		embedding, _ := json.Marshal(f.Embedding)
		q := fmt.Sprintf(`INSERT INTO video_frames (id, asset_id, frame_index, timestamp_ms, embedding, thumb_uri)
			VALUES (%s, %s, %s, %s, %s, %s)`,
			t.d.arg(1), t.d.arg(2), t.d.arg(3), t.d.arg(4), t.d.arg(5), t.d.arg(6))
		if _, err := t.q.ExecContext(ctx, q, f.ID, f.AssetID, f.FrameIndex, f.TimestampMs, string(embedding), nullStr(f.ThumbURI)); err != nil {
			return errs.Storage("insert video frame", err)
		}
	}
	return nil
}

func (t *sqlTx) ExecDDL(ctx context.Context, ddl string) error {
	for _, stmt := range splitStatements(ddl) {
		if stmt == "" {
			continue
		}
		if _, err := t.q.ExecContext(ctx, stmt); err != nil {
			return errs.Storage("exec ddl", err)
		}
	}
	return nil
}

// splitStatements breaks a multi-statement DDL blob (as emitted by
// schema.DDLGenerator) into individual statements, dropping comment-only
// lines so each Exec call carries exactly one SQL statement - portable
// across drivers that don't support multi-statement Exec.
func splitStatements(ddl string) []string {
	var stmts []string
	for _, raw := range strings.Split(ddl, ";") {
		var lines []string
		for _, line := range strings.Split(raw, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, line)
		}
		stmt := strings.TrimSpace(strings.Join(lines, "\n"))
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// --- shared read helpers, usable against *sql.DB or *sql.Tx ---

func getJob(ctx context.Context, q querier, d dialect, column, value string) (*Job, error) {
	query := fmt.Sprintf(`SELECT id, request_id, job_type, status, job_data, retry_count, max_retries,
		next_retry_at, dead_letter, error_message, asset_ids, created_at, started_at, completed_at
		FROM jobs WHERE %s = %s`, column, d.arg(1))
	row := q.QueryRowContext(ctx, query, value)

	j := &Job{}
	var jobData sql.NullString
	var nextRetryAt, startedAt, completedAt, errMsg, assetIDs sql.NullString
	var deadLetter int
	var createdAt string

	if err := row.Scan(&j.ID, &j.RequestID, &j.JobType, &j.Status, &jobData, &j.RetryCount, &j.MaxRetries,
		&nextRetryAt, &deadLetter, &errMsg, &assetIDs, &createdAt, &startedAt, &completedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("job not found")
		}
		return nil, errs.Storage("get job", err)
	}

	j.JobData = []byte(jobData.String)
	j.DeadLetter = deadLetter != 0
	j.ErrorMessage = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.NextRetryAt = parseTimePtr(nextRetryAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completedAt)
	if assetIDs.Valid {
		_ = json.Unmarshal([]byte(assetIDs.String), &j.AssetIDs)
	}
	return j, nil
}

func getAsset(ctx context.Context, q querier, d dialect, id string) (*Asset, error) {
	query := fmt.Sprintf(`SELECT id, kind, uri, sha256, content_type, size_bytes, owner, status, cluster_id,
		tags, embedding, schema_id, raw_asset_id, parent_asset_id, metadata, created_at, updated_at
		FROM assets WHERE id = %s`, d.arg(1))
	row := q.QueryRowContext(ctx, query, id)

	a := &Asset{}
	var sha, contentType, owner, clusterID, tags, embedding, schemaID, rawAssetID, parentAssetID, metadata sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&a.ID, &a.Kind, &a.URI, &sha, &contentType, &a.SizeBytes, &owner, &a.Status, &clusterID,
		&tags, &embedding, &schemaID, &rawAssetID, &parentAssetID, &metadata, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("asset not found")
		}
		return nil, errs.Storage("get asset", err)
	}

	a.SHA256 = sha.String
	a.ContentType = contentType.String
	a.Owner = owner.String
	a.ClusterID = nullableStrPtr(clusterID)
	a.SchemaID = nullableStrPtr(schemaID)
	a.RawAssetID = nullableStrPtr(rawAssetID)
	a.ParentAssetID = nullableStrPtr(parentAssetID)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	if tags.Valid {
		_ = json.Unmarshal([]byte(tags.String), &a.Tags)
	}
	if embedding.Valid {
		_ = json.Unmarshal([]byte(embedding.String), &a.Embedding)
	}
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}
	return a, nil
}

func getSchema(ctx context.Context, q querier, d dialect, column, value string) (*SchemaDef, error) {
	query := fmt.Sprintf(`SELECT id, name, structure_hash, storage_choice, version, ddl, status, sample_size,
		field_stability, max_depth, top_level_keys, decision_reason, reviewed_by, reviewed_at, created_at, updated_at
		FROM schema_defs WHERE %s = %s`, column, d.arg(1))
	row := q.QueryRowContext(ctx, query, value)

	s := &SchemaDef{}
	var ddl, reason, reviewedBy, reviewedAt sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&s.ID, &s.Name, &s.StructureHash, &s.StorageChoice, &s.Version, &ddl, &s.Status,
		&s.SampleSize, &s.FieldStability, &s.MaxDepth, &s.TopLevelKeys, &reason, &reviewedBy, &reviewedAt,
		&createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("schema not found")
		}
		return nil, errs.Storage("get schema", err)
	}

	s.DDL = ddl.String
	s.DecisionReason = reason.String
	s.ReviewedBy = reviewedBy.String
	s.ReviewedAt = parseTimePtr(reviewedAt)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

func listSchemas(ctx context.Context, q querier, d dialect, status *SchemaStatus) ([]*SchemaDef, error) {
	query := `SELECT id FROM schema_defs`
	var args []interface{}
	if status != nil {
		query += fmt.Sprintf(` WHERE status = %s`, d.arg(1))
		args = append(args, string(*status))
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("list schemas", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("scan schema id", err)
		}
		ids = append(ids, id)
	}

	var out []*SchemaDef
	for _, id := range ids {
		s, err := getSchema(ctx, q, d, "id", id)
		if err == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func getCluster(ctx context.Context, q querier, d dialect, column, value string) (*Cluster, error) {
	query := fmt.Sprintf(`SELECT id, name, centroid, threshold, provisional, metadata, created_at, updated_at
		FROM clusters WHERE %s = %s`, column, d.arg(1))
	row := q.QueryRowContext(ctx, query, value)

	c := &Cluster{}
	var centroid, metadata sql.NullString
	var provisional int
	var createdAt, updatedAt string

	if err := row.Scan(&c.ID, &c.Name, &centroid, &c.Threshold, &provisional, &metadata, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.NotFound("cluster not found")
		}
		return nil, errs.Storage("get cluster", err)
	}

	c.Provisional = provisional != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	if centroid.Valid {
		_ = json.Unmarshal([]byte(centroid.String), &c.Centroid)
	}
	if metadata.Valid {
		_ = json.Unmarshal([]byte(metadata.String), &c.Metadata)
	}
	return c, nil
}

func listClusters(ctx context.Context, q querier, d dialect, provisional *bool) ([]*Cluster, error) {
	query := `SELECT id FROM clusters`
	var args []interface{}
	if provisional != nil {
		query += fmt.Sprintf(` WHERE provisional = %s`, d.arg(1))
		args = append(args, boolToInt(*provisional))
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Storage("list clusters", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Storage("scan cluster id", err)
		}
		ids = append(ids, id)
	}

	var out []*Cluster
	for _, id := range ids {
		c, err := getCluster(ctx, q, d, "id", id)
		if err == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// --- small scalar helpers ---

func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullStrPtr(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func nullableStrPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || // sqlite
		strings.Contains(msg, "duplicate key value") || // postgres
		strings.Contains(msg, "unique constraint")
}
