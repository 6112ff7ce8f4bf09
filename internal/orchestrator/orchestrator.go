// Package orchestrator implements C8: the single entry point for
// ingestion. It validates uploads and JSON payloads, stores raw bytes,
// creates the catalog rows a job needs, and enqueues the resulting job
// onto the queue backend.
package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/blobstore"
	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/config"
	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/eventhook"
	"github.com/mammothbox/mammothbox/internal/jobpayload"
	"github.com/mammothbox/mammothbox/internal/obs"
	"github.com/mammothbox/mammothbox/internal/queue"
)

// FileUpload is one part of a multipart ingestion request, already opened
// for reading by the HTTP layer.
type FileUpload struct {
	Filename string
	Reader   io.Reader
}

// IngestRequest is the orchestrator's entry point input: zero-or-more
// files, an optional JSON payload, owner/comments, and an optional
// caller-supplied idempotency key.
type IngestRequest struct {
	RequestID   string
	Files       []FileUpload
	JSONPayload json.RawMessage
	Owner       string
	Comments    string
}

// IngestResult is returned for both the first-time and duplicate-request
// paths - a caller can't tell which happened except via Duplicate.
type IngestResult struct {
	JobID     string
	RequestID string
	AssetIDs  []string
	Status    catalog.JobStatus
	CreatedAt time.Time
	Duplicate bool
	Message   string
}

// Orchestrator wires the catalog, blob store, and queue backend together
// per spec.md §4.8.
type Orchestrator struct {
	store   catalog.Store
	blobs   blobstore.Store
	backend queue.Backend
	limits  config.LimitsConfig
	log     *zap.Logger
	events  *eventhook.Publisher
}

func New(store catalog.Store, blobs blobstore.Store, backend queue.Backend, limits config.LimitsConfig, log *zap.Logger) *Orchestrator {
	return &Orchestrator{store: store, blobs: blobs, backend: backend, limits: limits, log: log, events: eventhook.NewNoop()}
}

// WithEvents attaches a lineage-event publisher; by default Orchestrator
// uses a no-op publisher and this call is optional.
func (o *Orchestrator) WithEvents(pub *eventhook.Publisher) *Orchestrator {
	o.events = pub
	return o
}

// Ingest runs the full validate → store → enqueue pipeline.
func (o *Orchestrator) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if existing, err := o.store.GetJobByRequestID(ctx, requestID); err == nil {
		return duplicateResult(existing), nil
	} else if k, ok := errs.Of(err); !ok || k != errs.KindNotFound {
		return nil, errs.Storage("check existing job", err)
	}

	batch, err := validatePayload(req.JSONPayload, o.limits.MaxJSONBytes)
	if err != nil {
		return nil, err
	}

	stored, err := o.storeFiles(ctx, requestID, req.Files)
	if err != nil {
		return nil, err
	}

	result, err := o.createJobAndAssets(ctx, requestID, stored, batch, req)
	if err != nil {
		if k, ok := errs.Of(err); ok && k == errs.KindConflict {
			existing, rerr := o.store.GetJobByRequestID(ctx, requestID)
			if rerr != nil {
				return nil, errs.Storage("re-read winning job after conflict", rerr)
			}
			return duplicateResult(existing), nil
		}
		return nil, err
	}

	_, enqSpan := obs.StartEnqueueSpan(ctx, string(result.jobType), 0)
	enqErr := o.backend.Enqueue(ctx, queue.Message{
		JobID:      result.job.ID,
		JobType:    string(result.job.JobType),
		JobData:    result.job.JobData,
		MaxRetries: result.job.MaxRetries,
		CreatedAt:  result.job.CreatedAt,
	})
	enqSpan.End()
	if enqErr != nil {
		// Outbox gap: the job row is committed and will be picked up by
		// the reconciler's sweep instead of failing this request.
		o.log.Warn("enqueue failed after commit, relying on outbox reconciler",
			obs.String("job_id", result.job.ID), obs.Err(enqErr))
	} else {
		obs.JobsEnqueued.Inc()
		o.events.Publish(eventhook.Event{Stage: "job_enqueued", RequestID: requestID, Detail: map[string]interface{}{"job_id": result.job.ID}})
	}

	return &IngestResult{
		JobID:     result.job.ID,
		RequestID: requestID,
		AssetIDs:  result.job.AssetIDs,
		Status:    result.job.Status,
		CreatedAt: result.job.CreatedAt,
	}, nil
}

func duplicateResult(j *catalog.Job) *IngestResult {
	return &IngestResult{
		JobID:     j.ID,
		RequestID: j.RequestID,
		AssetIDs:  j.AssetIDs,
		Status:    j.Status,
		CreatedAt: j.CreatedAt,
		Duplicate: true,
		Message:   "duplicate request",
	}
}

// validatePayload enforces spec.md §4.8 step 2's payload rules: size
// ceiling, must parse as JSON, must be an object or non-empty array.
func validatePayload(raw json.RawMessage, maxBytes int64) (json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if maxBytes > 0 && int64(len(raw)) > maxBytes {
		return nil, errs.SizeLimit("json payload exceeds size ceiling",
			fmt.Sprintf("limit=%d actual=%d", maxBytes, len(raw)))
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errs.Validation("json payload does not parse", err.Error())
	}
	switch t := v.(type) {
	case map[string]interface{}:
		return raw, nil
	case []interface{}:
		if len(t) == 0 {
			return nil, errs.Validation("json payload array must be non-empty")
		}
		return raw, nil
	default:
		return nil, errs.Validation("json payload must be an object or non-empty array")
	}
}

type storedFile struct {
	uri         string
	sha256      string
	sizeBytes   int64
	contentType string
	kind        catalog.AssetKind
	filename    string
}

// storeFiles sniffs each upload's MIME type from magic bytes, enforces
// the per-kind size ceiling while streaming to the blob store, and
// returns everything the next step needs to create catalog rows.
func (o *Orchestrator) storeFiles(ctx context.Context, requestID string, files []FileUpload) ([]storedFile, error) {
	out := make([]storedFile, 0, len(files))
	for i, f := range files {
		br := bufio.NewReaderSize(f.Reader, 512)
		sniff, _ := br.Peek(512)
		contentType := http.DetectContentType(sniff)
		kind, limit, limitName := classify(contentType, o.limits)

		cr := &countingReader{r: br, max: limit}
		hasher := newHasher()
		tee := io.TeeReader(cr, hasher)

		partID := fmt.Sprintf("part-%d", i)
		uri, err := o.blobs.StoreRaw(ctx, requestID, partID, f.Filename, tee)
		if cr.exceeded {
			return nil, errs.SizeLimit(fmt.Sprintf("%s exceeds %s size ceiling", f.Filename, limitName),
				fmt.Sprintf("limit=%d actual>=%d", limit, cr.n))
		}
		if err != nil {
			return nil, errs.Storage("store raw upload", err)
		}

		out = append(out, storedFile{
			uri:         uri,
			sha256:      hasher.sum(),
			sizeBytes:   cr.n,
			contentType: contentType,
			kind:        kind,
			filename:    f.Filename,
		})
	}
	return out, nil
}

// classify maps a detected content type to an asset kind and the
// corresponding per-kind byte ceiling from spec.md §4.8 step 2.
func classify(contentType string, limits config.LimitsConfig) (kind catalog.AssetKind, limitBytes int64, limitName string) {
	switch {
	case hasPrefix(contentType, "image/"):
		return catalog.AssetKindMedia, limits.MaxImageBytes, "image"
	case hasPrefix(contentType, "video/"):
		return catalog.AssetKindMedia, limits.MaxVideoBytes, "video"
	case hasPrefix(contentType, "audio/"):
		return catalog.AssetKindMedia, limits.MaxAudioBytes, "audio"
	default:
		return catalog.AssetKindDocument, limits.MaxDocumentBytes, "document"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

type jobAssembly struct {
	job     *catalog.Job
	jobType catalog.JobType
}

// createJobAndAssets opens a single transaction that creates every raw
// asset, asset, and the job row itself (spec.md §4.8 steps 4-7).
func (o *Orchestrator) createJobAndAssets(ctx context.Context, requestID string, files []storedFile, batch json.RawMessage, req IngestRequest) (*jobAssembly, error) {
	var result jobAssembly

	err := o.store.WithTx(ctx, func(ctx context.Context, tx catalog.Tx) error {
		assetIDs := make([]string, 0, len(files)+1)
		anyFile := len(files) > 0

		for i, f := range files {
			raw := &catalog.RawAsset{
				RequestID:   requestID,
				PartID:      fmt.Sprintf("part-%d", i),
				URI:         f.uri,
				SizeBytes:   f.sizeBytes,
				ContentType: f.contentType,
			}
			if err := tx.CreateRawAsset(ctx, raw); err != nil {
				return err
			}
			asset := &catalog.Asset{
				Kind:        f.kind,
				URI:         f.uri,
				SHA256:      f.sha256,
				ContentType: f.contentType,
				SizeBytes:   f.sizeBytes,
				Owner:       req.Owner,
				Status:      catalog.AssetQueued,
				RawAssetID:  &raw.ID,
			}
			if err := tx.CreateAsset(ctx, asset); err != nil {
				return err
			}
			assetIDs = append(assetIDs, asset.ID)
			_ = tx.AppendLineage(ctx, &catalog.Lineage{
				RequestID: requestID, AssetID: &asset.ID, Stage: "raw_stored", Success: true,
			})
		}

		docs, err := decodeBatchDocuments(batch)
		if err != nil {
			return errs.Validation("decode json payload batch", err.Error())
		}
		for _, doc := range docs {
			encoded, _ := json.Marshal(doc)
			asset := &catalog.Asset{
				Kind:   catalog.AssetKindJSON,
				URI:    fmt.Sprintf("json://pending/%s", contentHash(encoded)),
				Owner:  req.Owner,
				Status: catalog.AssetQueued,
			}
			if err := tx.CreateAsset(ctx, asset); err != nil {
				return err
			}
			assetIDs = append(assetIDs, asset.ID)
			_ = tx.AppendLineage(ctx, &catalog.Lineage{
				RequestID: requestID, AssetID: &asset.ID, Stage: "json_validated", Success: true,
			})
		}

		jobType := catalog.JobTypeJSON
		if anyFile {
			jobType = catalog.JobTypeMedia
		}

		payload := jobpayload.Payload{
			AssetIDs:    assetIDs,
			JSONPayload: batch,
			Owner:       req.Owner,
			Comments:    req.Comments,
		}
		data, err := payload.Marshal()
		if err != nil {
			return errs.Validation("marshal job payload", err.Error())
		}

		job := &catalog.Job{
			RequestID: requestID,
			JobType:   jobType,
			Status:    catalog.JobQueued,
			JobData:   data,
			AssetIDs:  assetIDs,
		}
		if err := tx.CreateJob(ctx, job); err != nil {
			return err
		}

		result = jobAssembly{job: job, jobType: jobType}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func decodeBatchDocuments(raw json.RawMessage) ([]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []interface{}:
		return t, nil
	default:
		return []interface{}{t}, nil
	}
}
