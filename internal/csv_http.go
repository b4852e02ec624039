package internal

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

// csvExtractTimeout bounds the AI-assisted CSV extraction call.
const csvExtractTimeout = 60 * time.Second

// HTTPCSVExtractor is the out-of-scope AI-assisted CSV extractor's contract
// (§4.8): this package only depends on its request/response shape.
type HTTPCSVExtractor struct {
	baseURL string
	key     Secret
	client  *http.Client
}

func NewHTTPCSVExtractor(baseURL string, key Secret) *HTTPCSVExtractor {
	return &HTTPCSVExtractor{
		baseURL: baseURL,
		key:     key,
		client:  &http.Client{Timeout: csvExtractTimeout},
	}
}

type csvExtractResponse struct {
	Rows []CSVRow `json:"rows"`
}

// ExtractRows posts the raw CSV bytes to the configured extraction endpoint
// and decodes its {rows[]} response.
func (c *HTTPCSVExtractor) ExtractRows(ctx context.Context, data []byte) ([]CSVRow, error) {
	ctx, cancel := context.WithTimeout(ctx, csvExtractTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewReader(data))
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "building csv-extract request", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	if key, err := resolveSecret(ctx, c.key); err == nil && key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Wrap(KindProviderTimeout, "CSV_EXTRACT_TIMEOUT", "csv extraction timed out", err)
		}
		return nil, Wrap(KindProviderTransient, "CSV_EXTRACT_FAILED", "csv extraction failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, providerErrorFromStatus("csv-extract", resp.StatusCode, parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	var out csvExtractResponse
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, Wrap(KindProviderTransient, "CSV_EXTRACT_BAD_RESPONSE", "malformed csv-extract response", err)
	}
	return out.Rows, nil
}

var _ CSVExtractor = (*HTTPCSVExtractor)(nil)
