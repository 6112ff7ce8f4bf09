// Copyright 2025 James Ross
// Package admin implements C10: schema and cluster review operations,
// each following a resolve-validate-act-audit shape and writing a
// lineage row under an admin_* stage. Approve, reject, rename and
// threshold rows carry before/after values; merge and confirm rows carry
// only the cluster IDs involved.
package admin

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/eventhook"
	"github.com/mammothbox/mammothbox/internal/obs"
)

// Service wraps the catalog for every admin review action.
type Service struct {
	store  catalog.Store
	events *eventhook.Publisher
}

func New(store catalog.Store) *Service {
	return &Service{store: store, events: eventhook.NewNoop()}
}

// WithEvents attaches a lineage-event publisher; optional, defaults to
// a no-op publisher.
func (s *Service) WithEvents(pub *eventhook.Publisher) *Service {
	s.events = pub
	return s
}

// ListSchemas returns schemas optionally filtered by status and fuzzy-
// matched against q (name or storage choice).
func (s *Service) ListSchemas(ctx context.Context, status *catalog.SchemaStatus, q string) ([]*catalog.SchemaDef, error) {
	all, err := s.store.ListSchemas(ctx, status)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return all, nil
	}
	out := make([]*catalog.SchemaDef, 0, len(all))
	for _, def := range all {
		if fuzzy.MatchFold(q, def.Name) || fuzzy.MatchFold(q, def.StorageChoice) {
			out = append(out, def)
		}
	}
	return out, nil
}

// ApproveSchema executes the schema's DDL (idempotent CREATE TABLE IF NOT
// EXISTS), activates it, and advances any queued dependent assets to
// processing so the worker pool picks them back up.
func (s *Service) ApproveSchema(ctx context.Context, schemaID, reviewer string) (*catalog.SchemaDef, error) {
	var result *catalog.SchemaDef
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		def, err := tx.GetSchema(ctx, schemaID)
		if err != nil {
			return err
		}
		if def.Status != catalog.SchemaProvisional {
			return errs.Precondition(fmt.Sprintf("schema %s is not provisional (status=%s)", schemaID, def.Status))
		}
		before := def.Status

		if def.DDL != "" {
			if err := tx.ExecDDL(ctx, def.DDL); err != nil {
				return errs.Storage("execute schema ddl", err)
			}
		}

		now := time.Now().UTC()
		def.Status = catalog.SchemaActive
		def.ReviewedBy = reviewer
		def.ReviewedAt = &now
		if err := tx.UpdateSchema(ctx, def); err != nil {
			return err
		}

		pending, err := tx.ListAssetsBySchema(ctx, schemaID, catalog.AssetQueued)
		if err != nil {
			return err
		}
		for _, a := range pending {
			a.Status = catalog.AssetProcessing
			if err := tx.UpdateAsset(ctx, a); err != nil {
				return err
			}
		}

		if err := tx.AppendLineage(ctx, &catalog.Lineage{
			SchemaID: &def.ID,
			Stage:    "admin_approve",
			Success:  true,
			Detail:   map[string]interface{}{"before": string(before), "after": string(def.Status), "reviewer": reviewer, "assets_advanced": len(pending)},
		}); err != nil {
			return err
		}

		result = def
		return nil
	})
	if err == nil {
		s.events.Publish(eventhook.Event{Stage: "schema_approved", SchemaID: result.ID, Detail: map[string]interface{}{"reviewer": reviewer}})
	}
	return result, err
}

// RejectSchema marks a provisional schema rejected and fails any queued
// dependent assets - there's no active table to route them to.
func (s *Service) RejectSchema(ctx context.Context, schemaID, reviewer, reason string) (*catalog.SchemaDef, error) {
	var result *catalog.SchemaDef
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		def, err := tx.GetSchema(ctx, schemaID)
		if err != nil {
			return err
		}
		if def.Status != catalog.SchemaProvisional {
			return errs.Precondition(fmt.Sprintf("schema %s is not provisional (status=%s)", schemaID, def.Status))
		}
		before := def.Status

		now := time.Now().UTC()
		def.Status = catalog.SchemaRejected
		def.ReviewedBy = reviewer
		def.ReviewedAt = &now
		if def.DecisionReason != "" {
			def.DecisionReason += "; " + reason
		} else {
			def.DecisionReason = reason
		}
		if err := tx.UpdateSchema(ctx, def); err != nil {
			return err
		}

		pending, err := tx.ListAssetsBySchema(ctx, schemaID, catalog.AssetQueued)
		if err != nil {
			return err
		}
		for _, a := range pending {
			a.Status = catalog.AssetFailed
			if err := tx.UpdateAsset(ctx, a); err != nil {
				return err
			}
		}

		if err := tx.AppendLineage(ctx, &catalog.Lineage{
			SchemaID: &def.ID,
			Stage:    "admin_reject",
			Success:  true,
			Detail:   map[string]interface{}{"before": string(before), "after": string(def.Status), "reviewer": reviewer, "reason": reason, "assets_failed": len(pending)},
		}); err != nil {
			return err
		}

		result = def
		return nil
	})
	if err == nil {
		s.events.Publish(eventhook.Event{Stage: "schema_rejected", SchemaID: result.ID, Detail: map[string]interface{}{"reviewer": reviewer, "reason": reason}})
	}
	return result, err
}

// ListClusters returns clusters optionally filtered by provisional state
// and fuzzy-matched by name.
func (s *Service) ListClusters(ctx context.Context, provisional *bool, q string) ([]*catalog.Cluster, error) {
	all, err := s.store.ListClusters(ctx, provisional)
	if err != nil {
		return nil, err
	}
	if q == "" {
		return all, nil
	}
	out := make([]*catalog.Cluster, 0, len(all))
	for _, c := range all {
		if fuzzy.MatchFold(q, c.Name) {
			out = append(out, c)
		}
	}
	return out, nil
}

// RenameCluster enforces a unique-name check before applying the rename.
func (s *Service) RenameCluster(ctx context.Context, clusterID, newName string) (*catalog.Cluster, error) {
	var result *catalog.Cluster
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		c, err := tx.GetCluster(ctx, clusterID)
		if err != nil {
			return err
		}
		if existing, err := tx.GetClusterByName(ctx, newName); err == nil && existing.ID != clusterID {
			return errs.Conflict(fmt.Sprintf("cluster name %q already in use", newName))
		}
		before := c.Name
		c.Name = newName
		if err := tx.UpdateCluster(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendLineage(ctx, &catalog.Lineage{
			Stage: "admin_rename", Success: true,
			Detail: map[string]interface{}{"cluster_id": clusterID, "before": before, "after": newName},
		}); err != nil {
			return err
		}
		result = c
		return nil
	})
	return result, err
}

// MergeClusters moves every member asset from each source cluster onto
// target, recomputes target's centroid as the mean of every member
// embedding renormalized to unit length, and deletes the source rows.
func (s *Service) MergeClusters(ctx context.Context, sourceIDs []string, targetID string) (*catalog.Cluster, error) {
	var result *catalog.Cluster
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		target, err := tx.GetCluster(ctx, targetID)
		if err != nil {
			return err
		}

		memberEmbeddings, err := embeddingsForCluster(ctx, tx, targetID)
		if err != nil {
			return err
		}

		movedTotal := 0
		for _, srcID := range sourceIDs {
			if srcID == targetID {
				continue
			}
			if _, err := tx.GetCluster(ctx, srcID); err != nil {
				return err
			}
			srcEmbeddings, err := embeddingsForCluster(ctx, tx, srcID)
			if err != nil {
				return err
			}
			memberEmbeddings = append(memberEmbeddings, srcEmbeddings...)

			moved, err := tx.ReassignClusterMembers(ctx, srcID, targetID)
			if err != nil {
				return err
			}
			movedTotal += moved
			if err := tx.DeleteCluster(ctx, srcID); err != nil {
				return err
			}
		}

		target.Centroid = normalizeCentroid(meanVector(memberEmbeddings))
		if err := tx.UpdateCluster(ctx, target); err != nil {
			return err
		}

		if err := tx.AppendLineage(ctx, &catalog.Lineage{
			Stage: "admin_clusters_merged", Success: true,
			Detail: map[string]interface{}{"sources": sourceIDs, "target": targetID, "assets_moved": movedTotal},
		}); err != nil {
			return err
		}

		result = target
		return nil
	})
	if err == nil {
		obs.ClustersMerged.Inc()
		s.events.Publish(eventhook.Event{Stage: "cluster_merged", Detail: map[string]interface{}{"sources": sourceIDs, "target": targetID}})
	}
	return result, err
}

// UpdateClusterThreshold range-checks the new similarity threshold
// before applying it.
func (s *Service) UpdateClusterThreshold(ctx context.Context, clusterID string, threshold float64) (*catalog.Cluster, error) {
	if threshold < 0 || threshold > 1 {
		return nil, errs.Validation(fmt.Sprintf("threshold %f out of range [0,1]", threshold))
	}
	var result *catalog.Cluster
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		c, err := tx.GetCluster(ctx, clusterID)
		if err != nil {
			return err
		}
		before := c.Threshold
		c.Threshold = threshold
		if err := tx.UpdateCluster(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendLineage(ctx, &catalog.Lineage{
			Stage: "admin_update_threshold", Success: true,
			Detail: map[string]interface{}{"cluster_id": clusterID, "before": before, "after": threshold},
		}); err != nil {
			return err
		}
		result = c
		return nil
	})
	return result, err
}

// ConfirmCluster flips provisional=false once an operator has reviewed it.
func (s *Service) ConfirmCluster(ctx context.Context, clusterID string) (*catalog.Cluster, error) {
	var result *catalog.Cluster
	err := s.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		c, err := tx.GetCluster(ctx, clusterID)
		if err != nil {
			return err
		}
		c.Provisional = false
		if err := tx.UpdateCluster(ctx, c); err != nil {
			return err
		}
		if err := tx.AppendLineage(ctx, &catalog.Lineage{
			Stage: "admin_confirm", Success: true,
			Detail: map[string]interface{}{"cluster_id": clusterID},
		}); err != nil {
			return err
		}
		result = c
		return nil
	})
	return result, err
}

// MergeCandidate is a pair of clusters whose centroids are similar
// enough to suggest a manual merge.
type MergeCandidate struct {
	ClusterA   string  `json:"cluster_a"`
	ClusterB   string  `json:"cluster_b"`
	Similarity float64 `json:"similarity"`
}

// MergeCandidates returns every provisional cluster pair whose cosine
// similarity is at least minSimilarity, most-similar first.
func (s *Service) MergeCandidates(ctx context.Context, minSimilarity float64) ([]MergeCandidate, error) {
	provisional := true
	clusters, err := s.store.ListClusters(ctx, &provisional)
	if err != nil {
		return nil, err
	}
	var out []MergeCandidate
	for i := 0; i < len(clusters); i++ {
		for j := i + 1; j < len(clusters); j++ {
			sim := cosineSimilarity(clusters[i].Centroid, clusters[j].Centroid)
			if sim >= minSimilarity {
				out = append(out, MergeCandidate{ClusterA: clusters[i].ID, ClusterB: clusters[j].ID, Similarity: sim})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out, nil
}

// embeddingsForCluster loads the embedding of every asset currently
// assigned to clusterID, skipping assets with no embedding.
func embeddingsForCluster(ctx context.Context, tx catalog.Tx, clusterID string) ([][]float64, error) {
	members, err := tx.ListAssetsByCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, 0, len(members))
	for _, a := range members {
		if len(a.Embedding) > 0 {
			out = append(out, a.Embedding)
		}
	}
	return out, nil
}

func meanVector(vecs [][]float64) []float64 {
	var dim int
	for _, v := range vecs {
		if len(v) > dim {
			dim = len(v)
		}
	}
	mean := make([]float64, dim)
	count := 0
	for _, v := range vecs {
		if len(v) == 0 {
			continue
		}
		count++
		for i, x := range v {
			mean[i] += x
		}
	}
	if count == 0 {
		return mean
	}
	for i := range mean {
		mean[i] /= float64(count)
	}
	return mean
}

func normalizeCentroid(v []float64) []float64 {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := math.Sqrt(sumSq)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
