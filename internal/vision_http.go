package internal

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// visionTimeout bounds the AI vision call. Generous relative to
// DefaultProviderTimeout since an image-recognition model call is
// substantially slower than a JSON metadata lookup.
const visionTimeout = 45 * time.Second

// HTTPVisionClient is the out-of-scope AI vision layer's contract (§1, §4.8):
// this package only depends on its request/response shape, never on how it
// recognizes books in a photo.
type HTTPVisionClient struct {
	baseURL string
	key     Secret
	client  *http.Client
}

func NewHTTPVisionClient(baseURL string, key Secret) *HTTPVisionClient {
	return &HTTPVisionClient{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: visionTimeout},
	}
}

// ScanImage posts the raw image bytes to the configured vision endpoint and
// decodes its {books[], modelUsed} response.
func (c *HTTPVisionClient) ScanImage(ctx context.Context, data []byte) (VisionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, visionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/scan", bytes.NewReader(data))
	if err != nil {
		return VisionResult{}, Wrap(KindInternal, "INTERNAL", "building vision request", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if key, err := resolveSecret(ctx, c.key); err == nil && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return VisionResult{}, Wrap(KindProviderTimeout, "AI_UNAVAILABLE", "vision call timed out", err)
		}
		return VisionResult{}, Wrap(KindProviderTransient, "AI_UNAVAILABLE", "vision call failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return VisionResult{}, providerErrorFromStatus("vision", resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var out VisionResult
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out); err != nil {
		return VisionResult{}, Wrap(KindProviderTransient, "AI_BAD_RESPONSE", "malformed vision response", err)
	}
	if out.ModelUsed == "" {
		out.ModelUsed = "unknown"
	}
	return out, nil
}

var _ VisionClient = (*HTTPVisionClient)(nil)
