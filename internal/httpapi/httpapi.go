// Copyright 2025 James Ross
// Package httpapi is the thin routing layer of §6: ingest, job-status,
// object, schema-admin, and cluster-admin endpoints, each a direct
// translation of an orchestrator/admin/catalog call into JSON.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/admin"
	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/errs"
	"github.com/mammothbox/mammothbox/internal/obs"
	"github.com/mammothbox/mammothbox/internal/orchestrator"
)

// Server wires the orchestrator and admin services onto a gorilla/mux
// router. It holds no transport-level state of its own.
type Server struct {
	orch  *orchestrator.Orchestrator
	admin *admin.Service
	store catalog.Store
	log   *zap.Logger
}

func New(orch *orchestrator.Orchestrator, adm *admin.Service, store catalog.Store, log *zap.Logger) *Server {
	return &Server{orch: orch, admin: adm, store: store, log: log}
}

// Router builds the full route table. Exported so main and tests can
// wrap it in their own middleware chain without re-declaring routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(recoveryMiddleware(s.log))

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/ingest", s.handleIngest).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/jobs/{id}", s.handleJobStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/assets/{id}", s.handleGetAsset).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/schemas", s.handleListSchemas).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/schemas/{id}", s.handleGetSchema).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/schemas/{id}/approve", s.handleApproveSchema).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/schemas/{id}/reject", s.handleRejectSchema).Methods(http.MethodPost)

	r.HandleFunc("/api/v1/clusters", s.handleListClusters).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/clusters/merge-candidates", s.handleMergeCandidates).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/clusters/{id}", s.handleGetCluster).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/clusters/{id}/rename", s.handleRenameCluster).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/clusters/{id}/merge", s.handleMergeCluster).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/clusters/{id}/threshold", s.handleUpdateThreshold).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/clusters/{id}/confirm", s.handleConfirmCluster).Methods(http.MethodPost)

	return r
}

func recoveryMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("panic handling request", obs.String("path", r.URL.Path), zap.Any("recover", rec))
					writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

const maxMultipartMemory = 32 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid multipart form: "+err.Error())
		return
	}

	req := orchestrator.IngestRequest{
		RequestID: r.FormValue("idempotency_key"),
		Owner:     r.FormValue("owner"),
		Comments:  r.FormValue("comments"),
	}
	if payload := r.FormValue("payload"); payload != "" {
		req.JSONPayload = json.RawMessage(payload)
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files[]"] {
			f, err := fh.Open()
			if err != nil {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "opening upload: "+err.Error())
				return
			}
			defer f.Close()
			req.Files = append(req.Files, orchestrator.FileUpload{Filename: fh.Filename, Reader: f})
		}
	}

	result, err := s.orch.Ingest(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     result.JobID,
		"system_ids": result.AssetIDs,
		"status":     result.Status,
		"request_id": result.RequestID,
		"created_at": result.CreatedAt,
		"message":    result.Message,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	assets := make([]map[string]interface{}, 0, len(job.AssetIDs))
	counts := map[catalog.AssetStatus]int{}
	for _, aid := range job.AssetIDs {
		a, err := s.store.GetAsset(r.Context(), aid)
		if err != nil {
			continue
		}
		counts[a.Status]++
		assets = append(assets, map[string]interface{}{"asset_id": a.ID, "status": a.Status})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":       job.ID,
		"request_id":   job.RequestID,
		"status":       job.Status,
		"retry_count":  job.RetryCount,
		"max_retries":  job.MaxRetries,
		"dead_letter":  job.DeadLetter,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
		"asset_counts": counts,
		"assets":       assets,
	})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, err := s.store.GetAsset(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"id":           a.ID,
		"kind":         a.Kind,
		"uri":          a.URI,
		"sha256":       a.SHA256,
		"content_type": a.ContentType,
		"size_bytes":   a.SizeBytes,
		"owner":        a.Owner,
		"status":       a.Status,
		"tags":         a.Tags,
		"created_at":   a.CreatedAt,
		"updated_at":   a.UpdatedAt,
	}

	switch a.Kind {
	case catalog.AssetKindMedia:
		resp["cluster_id"] = a.ClusterID
		resp["raw_asset_id"] = a.RawAssetID
	case catalog.AssetKindJSON:
		resp["schema_id"] = a.SchemaID
		if kind, location, ok := parseStorageLocation(a.URI); ok {
			resp["storage_kind"] = kind
			resp["storage_location"] = location
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// parseStorageLocation splits a "sql://<table>/<id>" or
// "jsonb://<collection>/<id>" asset URI into its scheme and the rest.
func parseStorageLocation(uri string) (kind, location string, ok bool) {
	for _, scheme := range []string{"sql://", "jsonb://"} {
		if strings.HasPrefix(uri, scheme) {
			return strings.TrimSuffix(scheme, "://"), strings.TrimPrefix(uri, scheme), true
		}
	}
	return "", "", false
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status *catalog.SchemaStatus
	if v := q.Get("status"); v != "" {
		st := catalog.SchemaStatus(v)
		status = &st
	}
	defs, err := s.admin.ListSchemas(r.Context(), status, q.Get("q"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"schemas": defs})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := s.store.GetSchema(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

func (s *Server) handleApproveSchema(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body reviewRequest
	decodeBody(r, &body)

	def, err := s.admin.ApproveSchema(r.Context(), id, body.Reviewer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleRejectSchema(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body reviewRequest
	decodeBody(r, &body)

	def, err := s.admin.RejectSchema(r.Context(), id, body.Reviewer, body.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var provisional *bool
	if v := q.Get("provisional"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			provisional = &b
		}
	}
	clusters, err := s.admin.ListClusters(r.Context(), provisional, q.Get("q"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"clusters": clusters})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.store.GetCluster(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type renameRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRenameCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body renameRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	c, err := s.admin.RenameCluster(r.Context(), id, body.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type mergeRequest struct {
	SourceIDs []string `json:"source_ids"`
}

func (s *Server) handleMergeCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body mergeRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	c, err := s.admin.MergeClusters(r.Context(), body.SourceIDs, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type thresholdRequest struct {
	Threshold float64 `json:"threshold"`
}

func (s *Server) handleUpdateThreshold(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body thresholdRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	c, err := s.admin.UpdateClusterThreshold(r.Context(), id, body.Threshold)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleConfirmCluster(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, err := s.admin.ConfirmCluster(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleMergeCandidates(w http.ResponseWriter, r *http.Request) {
	minSim := 0.8
	if v := r.URL.Query().Get("min_similarity"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			minSim = parsed
		}
	}
	candidates, err := s.admin.MergeCandidates(r.Context(), minSim)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": candidates})
}

func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeDomainError maps an errs.Kind to its HTTP status per spec.md §7.
func writeDomainError(w http.ResponseWriter, err error) {
	kind, _ := errs.Of(err)
	writeError(w, errs.HTTPStatus(kind), strings.ToUpper(string(kind)), err.Error())
}
