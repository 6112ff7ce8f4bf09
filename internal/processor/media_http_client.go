package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mammothbox/mammothbox/internal/catalog"
	"github.com/mammothbox/mammothbox/internal/errs"
)

// HTTPMediaService implements MediaService by POSTing each asset to an
// external normalization/embedding service and decoding its response.
// The service itself is out of scope; this is only the client side of
// that boundary.
type HTTPMediaService struct {
	baseURL string
	client  *http.Client
}

func NewHTTPMediaService(baseURL string, timeout time.Duration) *HTTPMediaService {
	return &HTTPMediaService{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
	}
}

type mediaServiceRequest struct {
	AssetID     string `json:"asset_id"`
	URI         string `json:"uri"`
	ContentType string `json:"content_type"`
}

type mediaServiceResponse struct {
	URI         string                 `json:"uri"`
	SHA256      string                 `json:"sha256"`
	ContentType string                 `json:"content_type"`
	SizeBytes   int64                  `json:"size_bytes"`
	Embedding   []float64              `json:"embedding"`
	ClusterID   *string                `json:"cluster_id"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (s *HTTPMediaService) Process(ctx context.Context, asset *catalog.Asset) (MediaResult, error) {
	body, err := json.Marshal(mediaServiceRequest{AssetID: asset.ID, URI: asset.URI, ContentType: asset.ContentType})
	if err != nil {
		return MediaResult{}, errs.Validation("marshal media service request", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return MediaResult{}, errs.Transient("build media service request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return MediaResult{}, errs.Transient("call media service", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return MediaResult{}, errs.Transient("media service error", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out mediaServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return MediaResult{}, errs.Transient("decode media service response", err)
	}

	return MediaResult{
		URI:         out.URI,
		SHA256:      out.SHA256,
		ContentType: out.ContentType,
		SizeBytes:   out.SizeBytes,
		Embedding:   out.Embedding,
		ClusterID:   out.ClusterID,
		Metadata:    out.Metadata,
	}, nil
}
