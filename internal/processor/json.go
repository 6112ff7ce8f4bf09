package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/jobpayload"
	"github.com/mammothbox/mammothbox/internal/schema"
)

// documentChunkPayload is the shape a pre-chunked document representation
// takes: a batch entry carrying chunks[] instead of plain fields.
type documentChunkPayload struct {
	Chunks []struct {
		Text      string    `json:"text"`
		Embedding []float64 `json:"embedding"`
	} `json:"chunks"`
}

// JsonProcessor handles job_type = json: analyze the batch, decide a
// storage plan, persist or reuse a SchemaDef, and route each document to
// either column storage or a document-chunk upsert.
type JsonProcessor struct {
	Decider     *schema.Decider
	DDL         *schema.DDLGenerator
	AutoMigrate bool
}

func NewJsonProcessor(cfg schema.DeciderConfig, autoMigrate bool) *JsonProcessor {
	return &JsonProcessor{
		Decider:     schema.NewDecider(cfg),
		DDL:         schema.NewDDLGenerator(true),
		AutoMigrate: autoMigrate,
	}
}

func (p *JsonProcessor) Process(ctx context.Context, job *catalog.Job, tx catalog.Tx) error {
	payload, err := jobpayload.Unmarshal(job.JobData)
	if err != nil {
		return errs.Validation("unmarshal job payload", err.Error())
	}

	batch, err := decodeBatch(payload.JSONPayload)
	if err != nil {
		// Malformed JSON can never be fingerprinted; retrying won't change
		// the bytes already stored for this job, so this goes straight to
		// the DLQ (SPEC_FULL.md §7).
		return errs.Permanent("decode json payload", err)
	}

	assets := make([]*catalog.Asset, 0, len(payload.AssetIDs))
	for _, id := range payload.AssetIDs {
		a, err := tx.GetAsset(ctx, id)
		if err != nil {
			return errs.Storage("load asset", err)
		}
		assets = append(assets, a)
	}
	// A batch/asset count mismatch is a warning condition per spec, not
	// a hard failure - lineage still records what actually happened.
	if len(batch) != len(assets) {
		_ = tx.AppendLineage(ctx, &catalog.Lineage{
			RequestID: job.RequestID,
			Stage:     "schema_analysis",
			Detail:    map[string]interface{}{"warning": "batch size does not match asset count", "batch": len(batch), "assets": len(assets)},
			Success:   true,
		})
	}

	analyzable, chunked := splitChunkedDocuments(batch)

	if len(analyzable) > 0 {
		if err := p.processAnalyzable(ctx, job, tx, analyzable, assets[:min(len(analyzable), len(assets))]); err != nil {
			return err
		}
	}

	if len(chunked) > 0 {
		if err := p.processChunked(ctx, tx, assets[len(analyzable):], chunked); err != nil {
			return err
		}
	}

	return tx.AppendLineage(ctx, &catalog.Lineage{
		RequestID: job.RequestID,
		Stage:     "json_processing_complete",
		Success:   true,
	})
}

func (p *JsonProcessor) processAnalyzable(ctx context.Context, job *catalog.Job, tx catalog.Tx, batch []map[string]interface{}, assets []*catalog.Asset) error {
	decision := p.Decider.Decide(batch)

	_ = tx.AppendLineage(ctx, &catalog.Lineage{
		RequestID: job.RequestID,
		Stage:     "schema_analysis",
		Detail: map[string]interface{}{
			"storage_choice": string(decision.StorageChoice),
			"confidence":     decision.Confidence,
			"reason":         decision.Reason,
		},
		Success: true,
	})

	for i, doc := range batch {
		report, err := schema.CheckDrift(decision, doc)
		if err != nil {
			continue
		}
		if !report.Valid {
			_ = tx.AppendLineage(ctx, &catalog.Lineage{
				RequestID: job.RequestID,
				Stage:     "schema_drift_detected",
				Detail:    map[string]interface{}{"document_index": i, "errors": report.Errors},
				Success:   true,
			})
		}
	}

	name := schema.GenerateCollectionName(decision, "")
	def, created, err := tx.UpsertSchemaByFingerprint(ctx, decision, name)
	if err != nil {
		return errs.Storage("upsert schema", err)
	}

	stage := "schema_reused"
	if created {
		stage = "schema_created"
		var ddl string
		if decision.StorageChoice == schema.StorageSQL {
			ddl = p.DDL.GenerateTableDDL(name, decision, true)
		} else {
			ddl = p.DDL.GenerateJSONBCollectionDDL(name, true)
		}
		def.DDL = ddl
		if p.AutoMigrate {
			if err := tx.ExecDDL(ctx, ddl); err != nil {
				return errs.Storage("execute schema ddl", err)
			}
			def.Status = catalog.SchemaActive
		}
		if err := tx.UpdateSchema(ctx, def); err != nil {
			return errs.Storage("persist schema ddl", err)
		}
	}

	_ = tx.AppendLineage(ctx, &catalog.Lineage{
		RequestID: job.RequestID,
		SchemaID:  &def.ID,
		Stage:     stage,
		Success:   true,
	})

	for i, doc := range batch {
		if i >= len(assets) {
			break
		}
		asset := assets[i]
		hash := contentHash(doc)

		asset.SchemaID = &def.ID
		if decision.StorageChoice == schema.StorageSQL {
			asset.URI = fmt.Sprintf("sql://%s/%s", name, hash)
		} else {
			asset.URI = fmt.Sprintf("jsonb://%s/%s", name, hash)
		}
		if def.Status == catalog.SchemaActive {
			asset.Status = catalog.AssetDone
		}
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return errs.Storage("update asset", err)
		}
	}

	return nil
}

func (p *JsonProcessor) processChunked(ctx context.Context, tx catalog.Tx, assets []*catalog.Asset, docs []documentChunkPayload) error {
	for i, doc := range docs {
		if i >= len(assets) {
			continue
		}
		asset := assets[i]
		chunks := make([]*catalog.DocumentChunk, 0, len(doc.Chunks))
		for idx, c := range doc.Chunks {
			chunks = append(chunks, &catalog.DocumentChunk{
				AssetID:    asset.ID,
				ChunkIndex: idx,
				Text:       c.Text,
				Embedding:  c.Embedding,
			})
		}
		if err := tx.UpsertDocumentChunks(ctx, asset.ID, chunks); err != nil {
			return errs.Storage("upsert document chunks", err)
		}
		asset.Status = catalog.AssetDone
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return errs.Storage("update asset", err)
		}
	}
	return nil
}

// decodeBatch decodes the batch's top-level shape (array or single object)
// then decodes each document through schema.DecodeDocument, so numbers
// stay json.Number all the way into the analyzer - a plain json.Unmarshal
// into map[string]interface{} would decode every number as float64, which
// detectJSONType doesn't recognize and would misclassify as TypeString.
func decodeBatch(raw json.RawMessage) ([]map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		docs := make([]map[string]interface{}, 0, len(items))
		for _, item := range items {
			doc, err := schema.DecodeDocument(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}
	doc, err := schema.DecodeDocument(raw)
	if err != nil {
		return nil, err
	}
	return []map[string]interface{}{doc}, nil
}

// splitChunkedDocuments separates documents carrying a chunks[] array
// (pre-chunked document representations, SPEC_FULL.md §4.9) from
// ordinary documents headed for schema analysis.
func splitChunkedDocuments(batch []map[string]interface{}) ([]map[string]interface{}, []documentChunkPayload) {
	var analyzable []map[string]interface{}
	var chunked []documentChunkPayload

	for _, doc := range batch {
		if raw, ok := doc["chunks"]; ok {
			if _, isArray := raw.([]interface{}); isArray {
				encoded, _ := json.Marshal(doc)
				var dc documentChunkPayload
				if err := json.Unmarshal(encoded, &dc); err == nil {
					chunked = append(chunked, dc)
					continue
				}
			}
		}
		analyzable = append(analyzable, doc)
	}
	return analyzable, chunked
}

func contentHash(doc map[string]interface{}) string {
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
