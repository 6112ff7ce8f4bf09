package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/schema"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var created *Job
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		j := &Job{RequestID: "req-1", JobType: JobTypeJSON, Status: JobQueued, JobData: []byte(`{}`)}
		if err := tx.CreateJob(ctx, j); err != nil {
			return err
		}
		created = j
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := s.GetJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, JobQueued, got.Status)
	assert.Equal(t, 3, got.MaxRetries)
}

func TestCreateJobDuplicateRequestIDConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.CreateJob(ctx, &Job{RequestID: "dup", JobType: JobTypeJSON, Status: JobQueued})
		})
	}
	require.NoError(t, mk())

	err := mk()
	require.Error(t, err)
	kind, ok := errs.Of(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindConflict, kind)

	// Idempotent-retry path: caller re-reads by request_id on conflict
	// and gets back the same job created by the winner.
	existing, err := s.GetJobByRequestID(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, existing.Status)
}

func TestUpsertSchemaByFingerprintRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decision := schema.Decision{
		StorageChoice: schema.StorageSQL,
		StructureHash: "abc123",
		Reason:        "test",
	}

	var firstID string
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sd, created, err := tx.UpsertSchemaByFingerprint(ctx, decision, "widgets")
		if err != nil {
			return err
		}
		assert.True(t, created)
		firstID = sd.ID
		return nil
	})
	require.NoError(t, err)

	// Second caller with the same structure hash must resolve to the
	// same schema row instead of erroring or creating a duplicate.
	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		sd, created, err := tx.UpsertSchemaByFingerprint(ctx, decision, "widgets_v2")
		if err != nil {
			return err
		}
		assert.False(t, created)
		assert.Equal(t, firstID, sd.ID)
		assert.Equal(t, "widgets", sd.Name)
		return nil
	})
	require.NoError(t, err)

	list, err := s.ListSchemas(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestClusterMergeReassignsMembers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var from, to *Cluster
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		from = &Cluster{Name: "cluster-a", Centroid: []float64{1, 0, 0}, Threshold: 0.8, Provisional: true}
		to = &Cluster{Name: "cluster-b", Centroid: []float64{0, 1, 0}, Threshold: 0.8, Provisional: true}
		if err := tx.CreateCluster(ctx, from); err != nil {
			return err
		}
		if err := tx.CreateCluster(ctx, to); err != nil {
			return err
		}
		a := &Asset{Kind: AssetKindMedia, URI: "fs://x", Status: AssetDone, ClusterID: &from.ID}
		return tx.CreateAsset(ctx, a)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		n, err := tx.ReassignClusterMembers(ctx, from.ID, to.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return tx.DeleteCluster(ctx, from.ID)
	})
	require.NoError(t, err)

	_, err = s.GetCluster(ctx, from.ID)
	assert.Error(t, err)

	got, err := s.GetCluster(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, "cluster-b", got.Name)
}

func TestAssetLifecycleAndLineage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var assetID string
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a := &Asset{Kind: AssetKindJSON, URI: "fs://payload.json", Status: AssetQueued, Tags: []string{"batch-1"}}
		if err := tx.CreateAsset(ctx, a); err != nil {
			return err
		}
		assetID = a.ID
		return tx.AppendLineage(ctx, &Lineage{RequestID: "req-2", AssetID: &a.ID, Stage: "ingest_accept", Success: true})
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			return err
		}
		a.Status = AssetDone
		return tx.UpdateAsset(ctx, a)
	})
	require.NoError(t, err)

	got, err := s.GetAsset(ctx, assetID)
	require.NoError(t, err)
	assert.Equal(t, AssetDone, got.Status)
	assert.Equal(t, []string{"batch-1"}, got.Tags)

	var lineage []*Lineage
	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		lineage, err = tx.ListLineageByRequest(ctx, "req-2")
		return err
	})
	require.NoError(t, err)
	require.Len(t, lineage, 1)
	assert.Equal(t, "ingest_accept", lineage[0].Stage)
}

func TestBatchProgress(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a1 := &Asset{Kind: AssetKindMedia, URI: "fs://1", Status: AssetDone}
		a2 := &Asset{Kind: AssetKindMedia, URI: "fs://2", Status: AssetFailed}
		if err := tx.CreateAsset(ctx, a1); err != nil {
			return err
		}
		if err := tx.CreateAsset(ctx, a2); err != nil {
			return err
		}
		j := &Job{RequestID: "req-batch", JobType: JobTypeMedia, Status: JobDone, AssetIDs: []string{a1.ID, a2.ID}}
		return tx.CreateJob(ctx, j)
	})
	require.NoError(t, err)

	progress, err := s.BatchProgress(ctx, "req-batch")
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalItems)
	assert.Equal(t, 1, progress.CompletedItems)
	assert.Equal(t, 1, progress.FailedItems)
}

func TestDocumentChunksReplaceOnReupsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var assetID string
	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		a := &Asset{Kind: AssetKindDocument, URI: "fs://doc", Status: AssetDone}
		if err := tx.CreateAsset(ctx, a); err != nil {
			return err
		}
		assetID = a.ID
		return tx.UpsertDocumentChunks(ctx, assetID, []*DocumentChunk{
			{ChunkIndex: 0, Text: "first", Embedding: []float64{0.1, 0.2}},
			{ChunkIndex: 1, Text: "second", Embedding: []float64{0.3, 0.4}},
		})
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.UpsertDocumentChunks(ctx, assetID, []*DocumentChunk{
			{ChunkIndex: 0, Text: "replaced", Embedding: []float64{0.5}},
		})
	})
	require.NoError(t, err)
}

func TestStaleQueuedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.CreateJob(ctx, &Job{RequestID: "stale-1", JobType: JobTypeJSON, Status: JobQueued})
	})
	require.NoError(t, err)

	stale, err := s.StaleQueuedJobs(ctx, 9999999999)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	fresh, err := s.StaleQueuedJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, fresh, 0)
}
