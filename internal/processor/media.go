package processor

import (
	"context"

	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/jobpayload"
)

// MediaResult is one asset's outcome from the external media service:
// normalized bytes, perceptual hash, embedding, and cluster assignment.
type MediaResult struct {
	URI         string
	SHA256      string
	ContentType string
	SizeBytes   int64
	Embedding   []float64
	ClusterID   *string
	Metadata    map[string]interface{}
}

// MediaService is the out-of-scope black box (spec.md §1 Non-goals):
// normalization, perceptual hashing, and embedding generation live
// entirely outside this module.
type MediaService interface {
	Process(ctx context.Context, asset *catalog.Asset) (MediaResult, error)
}

// MediaProcessor handles job_type = media: delegate each asset to the
// external service, aggregate per-asset outcomes, and surface the first
// failure as the job error only after every asset has been attempted.
type MediaProcessor struct {
	Service MediaService
}

func NewMediaProcessor(svc MediaService) *MediaProcessor {
	return &MediaProcessor{Service: svc}
}

func (p *MediaProcessor) Process(ctx context.Context, job *catalog.Job, tx catalog.Tx) error {
	payload, err := jobpayload.Unmarshal(job.JobData)
	if err != nil {
		return errs.Validation("unmarshal job payload", err.Error())
	}

	var firstErr error
	for _, assetID := range payload.AssetIDs {
		asset, err := tx.GetAsset(ctx, assetID)
		if err != nil {
			if firstErr == nil {
				firstErr = errs.Storage("load asset", err)
			}
			continue
		}

		result, err := p.Service.Process(ctx, asset)
		if err != nil {
			asset.Status = catalog.AssetFailed
			_ = tx.UpdateAsset(ctx, asset)
			_ = tx.AppendLineage(ctx, &catalog.Lineage{
				RequestID:    job.RequestID,
				AssetID:      &asset.ID,
				Stage:        "media_processing",
				Success:      false,
				ErrorMessage: err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		asset.URI = result.URI
		asset.SHA256 = result.SHA256
		if result.ContentType != "" {
			asset.ContentType = result.ContentType
		}
		if result.SizeBytes > 0 {
			asset.SizeBytes = result.SizeBytes
		}
		asset.Embedding = result.Embedding
		asset.ClusterID = result.ClusterID
		if result.Metadata != nil {
			asset.Metadata = result.Metadata
		}
		asset.Status = catalog.AssetDone

		if err := tx.UpdateAsset(ctx, asset); err != nil {
			if firstErr == nil {
				firstErr = errs.Storage("update asset", err)
			}
			continue
		}
		_ = tx.AppendLineage(ctx, &catalog.Lineage{
			RequestID: job.RequestID,
			AssetID:   &asset.ID,
			Stage:     "media_processing",
			Success:   true,
		})
	}

	return firstErr
}
