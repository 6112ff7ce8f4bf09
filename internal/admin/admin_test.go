package admin

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/schema"
)

func newTestStore(t *testing.T) catalog.Store {
	t.Helper()
	s, err := catalog.NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProvisionalSchema(t *testing.T, store catalog.Store) *catalog.SchemaDef {
	t.Helper()
	decision := schema.Decision{StorageChoice: schema.StorageJSONB, Confidence: 0.9, StructureHash: t.Name()}
	var def *catalog.SchemaDef
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		d, _, err := tx.UpsertSchemaByFingerprint(ctx, decision, "widgets")
		if err != nil {
			return err
		}
		d.DDL = "CREATE TABLE IF NOT EXISTS widgets_jsonb (id TEXT PRIMARY KEY, doc TEXT)"
		if err := tx.UpdateSchema(ctx, d); err != nil {
			return err
		}
		def = d
		return nil
	}))
	return def
}

func TestApproveSchemaActivatesAndAdvancesAssets(t *testing.T) {
	store := newTestStore(t)
	def := seedProvisionalSchema(t, store)

	var assetID string
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		a := &catalog.Asset{Kind: catalog.AssetKindJSON, Status: catalog.AssetQueued, SchemaID: &def.ID}
		if err := tx.CreateAsset(ctx, a); err != nil {
			return err
		}
		assetID = a.ID
		return nil
	}))

	svc := New(store)
	updated, err := svc.ApproveSchema(context.Background(), def.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, catalog.SchemaActive, updated.Status)
	require.Equal(t, "alice", updated.ReviewedBy)

	asset, err := store.GetAsset(context.Background(), assetID)
	require.NoError(t, err)
	require.Equal(t, catalog.AssetProcessing, asset.Status)
}

func TestApproveSchemaRejectsNonProvisional(t *testing.T) {
	store := newTestStore(t)
	def := seedProvisionalSchema(t, store)
	svc := New(store)

	_, err := svc.ApproveSchema(context.Background(), def.ID, "alice")
	require.NoError(t, err)

	_, err = svc.ApproveSchema(context.Background(), def.ID, "bob")
	require.Error(t, err)
}

func TestRejectSchemaFailsDependentAssets(t *testing.T) {
	store := newTestStore(t)
	def := seedProvisionalSchema(t, store)

	var assetID string
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		a := &catalog.Asset{Kind: catalog.AssetKindJSON, Status: catalog.AssetQueued, SchemaID: &def.ID}
		if err := tx.CreateAsset(ctx, a); err != nil {
			return err
		}
		assetID = a.ID
		return nil
	}))

	svc := New(store)
	updated, err := svc.RejectSchema(context.Background(), def.ID, "alice", "bad shape")
	require.NoError(t, err)
	require.Equal(t, catalog.SchemaRejected, updated.Status)

	asset, err := store.GetAsset(context.Background(), assetID)
	require.NoError(t, err)
	require.Equal(t, catalog.AssetFailed, asset.Status)
}

func seedCluster(t *testing.T, store catalog.Store, name string, centroid []float64) *catalog.Cluster {
	t.Helper()
	var c *catalog.Cluster
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		cl := &catalog.Cluster{Name: name, Centroid: centroid, Threshold: 0.8, Provisional: true}
		if err := tx.CreateCluster(ctx, cl); err != nil {
			return err
		}
		c = cl
		return nil
	}))
	return c
}

func seedAssetInCluster(t *testing.T, store catalog.Store, clusterID string, embedding []float64) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		a := &catalog.Asset{Kind: catalog.AssetKindMedia, Status: catalog.AssetDone, ClusterID: &clusterID, Embedding: embedding}
		return tx.CreateAsset(ctx, a)
	}))
}

func TestMergeClustersRenormalizesCentroid(t *testing.T) {
	store := newTestStore(t)
	target := seedCluster(t, store, "target", []float64{1, 0, 0})
	source := seedCluster(t, store, "source", []float64{0, 1, 0})
	seedAssetInCluster(t, store, target.ID, []float64{1, 0, 0})
	seedAssetInCluster(t, store, source.ID, []float64{0, 1, 0})

	svc := New(store)
	merged, err := svc.MergeClusters(context.Background(), []string{source.ID}, target.ID)
	require.NoError(t, err)

	var sumSq float64
	for _, x := range merged.Centroid {
		sumSq += x * x
	}
	require.InDelta(t, 1.0, sumSq, 1e-9)

	_, err = store.GetCluster(context.Background(), source.ID)
	require.Error(t, err)
}

// TestMergeClustersAveragesMemberEmbeddings checks the merged centroid is
// the renormalized mean of every member asset's embedding, not the mean of
// the source cluster centroids.
func TestMergeClustersAveragesMemberEmbeddings(t *testing.T) {
	store := newTestStore(t)
	target := seedCluster(t, store, "target", []float64{1, 0})
	source := seedCluster(t, store, "source", []float64{0, 1})

	seedAssetInCluster(t, store, target.ID, []float64{1, 0})
	seedAssetInCluster(t, store, source.ID, []float64{1, 0})
	seedAssetInCluster(t, store, source.ID, []float64{1, 0})

	svc := New(store)
	merged, err := svc.MergeClusters(context.Background(), []string{source.ID}, target.ID)
	require.NoError(t, err)

	// Three members, all at [1,0]: the renormalized mean is [1,0]
	// regardless of either cluster's original centroid.
	require.InDelta(t, 1.0, merged.Centroid[0], 1e-9)
	require.InDelta(t, 0.0, merged.Centroid[1], 1e-9)
}

// TestMergeClustersRecordsMergeLineageStage checks the lineage row written
// on merge uses the stage name spec.md §8 S6 observes.
func TestMergeClustersRecordsMergeLineageStage(t *testing.T) {
	store := newTestStore(t)
	target := seedCluster(t, store, "target", []float64{1, 0})
	source := seedCluster(t, store, "source", []float64{0, 1})
	seedAssetInCluster(t, store, target.ID, []float64{1, 0})
	seedAssetInCluster(t, store, source.ID, []float64{0, 1})

	svc := New(store)
	_, err := svc.MergeClusters(context.Background(), []string{source.ID}, target.ID)
	require.NoError(t, err)

	var stages []string
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		rows, err := tx.ListLineageByRequest(ctx, "")
		if err != nil {
			return err
		}
		for _, l := range rows {
			stages = append(stages, l.Stage)
		}
		return nil
	}))
	require.Contains(t, stages, "admin_clusters_merged")
	require.NotContains(t, stages, "admin_merge")
}

func TestUpdateClusterThresholdRangeChecks(t *testing.T) {
	store := newTestStore(t)
	c := seedCluster(t, store, "only", []float64{1, 0})
	svc := New(store)

	_, err := svc.UpdateClusterThreshold(context.Background(), c.ID, 1.5)
	require.Error(t, err)

	updated, err := svc.UpdateClusterThreshold(context.Background(), c.ID, 0.5)
	require.NoError(t, err)
	require.Equal(t, 0.5, updated.Threshold)
}

func TestMergeCandidatesRanksBySimilarity(t *testing.T) {
	store := newTestStore(t)
	seedCluster(t, store, "a", []float64{1, 0})
	seedCluster(t, store, "b", []float64{0.9, 0.1})
	seedCluster(t, store, "c", []float64{0, 1})

	svc := New(store)
	candidates, err := svc.MergeCandidates(context.Background(), 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for i := 1; i < len(candidates); i++ {
		require.GreaterOrEqual(t, candidates[i-1].Similarity, candidates[i].Similarity)
	}
}

func TestListSchemasFuzzyFilter(t *testing.T) {
	store := newTestStore(t)
	seedProvisionalSchema(t, store)
	svc := New(store)

	all, err := svc.ListSchemas(context.Background(), nil, "")
	require.NoError(t, err)
	require.Len(t, all, 1)

	matched, err := svc.ListSchemas(context.Background(), nil, "widget")
	require.NoError(t, err)
	require.Len(t, matched, 1)
}
