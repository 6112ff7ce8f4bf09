package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/admin"
	"github.com/mammothbox/mammothbox/internal/blobstore"
	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/config"
	"github.com/mammothbox/mammothbox/internal/orchestrator"
	"github.com/mammothbox/mammothbox/internal/queue"
	"github.com/mammothbox/mammothbox/internal/schema"
)

func newTestServer(t *testing.T) (*Server, catalog.Store) {
	t.Helper()
	store, err := catalog.NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	blobs, err := blobstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()
	limits := config.LimitsConfig{MaxImageBytes: 10 << 20, MaxJSONBytes: 10 << 20, MaxDocumentBytes: 10 << 20, MaxVideoBytes: 10 << 20, MaxAudioBytes: 10 << 20}

	orch := orchestrator.New(store, blobs, backend, limits, log)
	adm := admin.New(store)
	return New(orch, adm, store, log), store
}

func multipartIngestBody(t *testing.T, payload string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("payload", payload))
	require.NoError(t, w.WriteField("owner", "tester"))
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestIngestEndpointReturns202(t *testing.T) {
	srv, _ := newTestServer(t)
	body, contentType := multipartIngestBody(t, `{"a":1}`)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["job_id"])
}

func TestJobStatusEndpointReportsAssetCounts(t *testing.T) {
	srv, _ := newTestServer(t)
	body, contentType := multipartIngestBody(t, `{"a":1}`)
	ingestReq := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", body)
	ingestReq.Header.Set("Content-Type", contentType)
	ingestRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(ingestRec, ingestReq)

	var ingestResp map[string]interface{}
	require.NoError(t, json.Unmarshal(ingestRec.Body.Bytes(), &ingestResp))
	jobID := ingestResp["job_id"].(string)

	statusReq := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	statusRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(statusRec, statusReq)

	require.Equal(t, http.StatusOK, statusRec.Code)
	var statusResp map[string]interface{}
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))
	require.Equal(t, jobID, statusResp["job_id"])
}

func TestGetAssetNotFoundReturns404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchemaApproveEndpointActivatesProvisionalSchema(t *testing.T) {
	srv, store := newTestServer(t)

	var schemaID string
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		decision := schema.Decision{StorageChoice: schema.StorageJSONB, Confidence: 0.9, StructureHash: "h1"}
		def, _, err := tx.UpsertSchemaByFingerprint(ctx, decision, "widgets")
		if err != nil {
			return err
		}
		schemaID = def.ID
		return nil
	}))
	require.NotEmpty(t, schemaID)

	body, _ := json.Marshal(map[string]string{"reviewer": "alice"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/schemas/"+schemaID+"/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/schemas/"+schemaID+"/approve", bytes.NewReader(body))
	secondRec := httptest.NewRecorder()
	srv.Router().ServeHTTP(secondRec, second)
	require.Equal(t, http.StatusBadRequest, secondRec.Code)
}

func TestMergeCandidatesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/clusters/merge-candidates?min_similarity=0.5", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
