package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mammothbox/mammothbox/internal/blobstore"
	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/config"
	"github.com/mammothbox/mammothbox/internal/queue"
)

func newTestStore(t *testing.T) catalog.Store {
	t.Helper()
	s, err := catalog.NewSQLiteStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBlobs(t *testing.T) blobstore.Store {
	t.Helper()
	s, err := blobstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxImageBytes:    50 << 20,
		MaxVideoBytes:    500 << 20,
		MaxAudioBytes:    100 << 20,
		MaxDocumentBytes: 100 << 20,
		MaxJSONBytes:     10 << 20,
	}
}

func TestIngestJSONOnlyCreatesJSONJob(t *testing.T) {
	store := newTestStore(t)
	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()
	o := New(store, newTestBlobs(t), backend, testLimits(), log)

	payload, _ := json.Marshal([]map[string]interface{}{{"a": 1}, {"a": 2}})
	res, err := o.Ingest(context.Background(), IngestRequest{JSONPayload: payload, Owner: "tester"})
	require.NoError(t, err)
	require.False(t, res.Duplicate)
	require.Len(t, res.AssetIDs, 2)

	job, err := store.GetJob(context.Background(), res.JobID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobTypeJSON, job.JobType)

	size, err := backend.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
}

func TestIngestFileCreatesMediaJob(t *testing.T) {
	store := newTestStore(t)
	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()
	o := New(store, newTestBlobs(t), backend, testLimits(), log)

	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	body := append(pngHeader, bytes.Repeat([]byte{0}, 100)...)

	res, err := o.Ingest(context.Background(), IngestRequest{
		Files: []FileUpload{{Filename: "x.png", Reader: bytes.NewReader(body)}},
		Owner: "tester",
	})
	require.NoError(t, err)
	require.Len(t, res.AssetIDs, 1)

	job, err := store.GetJob(context.Background(), res.JobID)
	require.NoError(t, err)
	require.Equal(t, catalog.JobTypeMedia, job.JobType)
}

func TestIngestRejectsOversizedPayload(t *testing.T) {
	store := newTestStore(t)
	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()
	limits := testLimits()
	limits.MaxJSONBytes = 10
	o := New(store, newTestBlobs(t), backend, limits, log)

	payload, _ := json.Marshal(map[string]interface{}{"key": strings.Repeat("x", 100)})
	_, err := o.Ingest(context.Background(), IngestRequest{JSONPayload: payload})
	require.Error(t, err)
}

func TestIngestRejectsPrimitivePayload(t *testing.T) {
	store := newTestStore(t)
	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()
	o := New(store, newTestBlobs(t), backend, testLimits(), log)

	payload, _ := json.Marshal(42)
	_, err := o.Ingest(context.Background(), IngestRequest{JSONPayload: payload})
	require.Error(t, err)
}

func TestIngestDuplicateRequestIDReturnsExistingJob(t *testing.T) {
	store := newTestStore(t)
	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()
	o := New(store, newTestBlobs(t), backend, testLimits(), log)

	payload, _ := json.Marshal(map[string]interface{}{"a": 1})
	first, err := o.Ingest(context.Background(), IngestRequest{RequestID: "req-1", JSONPayload: payload})
	require.NoError(t, err)

	second, err := o.Ingest(context.Background(), IngestRequest{RequestID: "req-1", JSONPayload: payload})
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.JobID, second.JobID)
}

func TestReconcilerSweepReenqueuesStaleJobs(t *testing.T) {
	store := newTestStore(t)
	backend := queue.NewMemoryBackend(3)
	log, _ := zap.NewDevelopment()

	var jobID string
	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx catalog.Tx) error {
		j := &catalog.Job{RequestID: "stale-req", JobType: catalog.JobTypeJSON, Status: catalog.JobQueued, JobData: []byte("{}")}
		if err := tx.CreateJob(ctx, j); err != nil {
			return err
		}
		jobID = j.ID
		return nil
	}))
	require.NotEmpty(t, jobID)

	time.Sleep(10 * time.Millisecond)
	r := NewReconciler(store, backend, time.Millisecond, log)
	r.sweep(context.Background())

	size, err := backend.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
}
