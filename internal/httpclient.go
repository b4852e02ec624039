package internal

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"
)

// DefaultProviderTimeout is the per-request deadline from §4.2/§6's config
// table (PROVIDER_TIMEOUT_MS=10000), applied by every provider client that
// doesn't receive a shorter deadline from its caller's context.
const DefaultProviderTimeout = 10 * time.Second

// rateLimitedTransport throttles outbound provider requests with a token
// bucket instead of the teacher's fixed ticker, so a burst can spend
// accumulated headroom instead of being paced to a rigid interval.
type rateLimitedTransport struct {
	http.RoundTripper
	limiter *rate.Limiter
}

func (t rateLimitedTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(r.Context()); err != nil {
		return nil, err
	}
	return t.RoundTripper.RoundTrip(r)
}

// newProviderTransport builds the outbound transport chain for a single
// provider: a client-side token-bucket limiter wrapping a host-scoped,
// optionally API-keyed RoundTripper. Grounded in transport.go's RoundTripper
// chaining idiom (ScopedTransport, HeaderTransport).
func newProviderTransport(base http.RoundTripper, rps float64, header, key string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	var rt http.RoundTripper = base
	if header != "" && key != "" {
		rt = &HeaderTransport{Key: header, Value: key, RoundTripper: rt}
	}
	rt = rateLimitedTransport{RoundTripper: rt, limiter: providerLimiter(rps)}
	return rt
}

// newScopedProviderTransport additionally pins every outbound request to
// host, so a malicious redirect in an upstream response can never send
// provider credentials (the "key"/"Authorization" header above) to another
// domain.
func newScopedProviderTransport(host string, rps float64, header, key string) http.RoundTripper {
	base := http.RoundTripper(ScopedTransport{Host: host, RoundTripper: http.DefaultTransport})
	return newProviderTransport(base, rps, header, key)
}

// requestJSON issues a GET request against base+path?query, enforcing
// DefaultProviderTimeout unless ctx already carries a shorter deadline, and
// decodes the JSON body into out using sonic. Responses with status >= 400
// are classified via providerErrorFromStatus before the body is discarded.
func requestJSON(ctx context.Context, client *http.Client, provider, base, path string, query url.Values, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultProviderTimeout)
		defer cancel()
	}

	full := base + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return Wrap(KindInternal, "INTERNAL", provider+": building request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Wrap(KindProviderTimeout, "PROVIDER_TIMEOUT", provider+": timed out", err)
		}
		return Wrap(KindProviderTransient, "PROVIDER_UNREACHABLE", provider+": request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return providerErrorFromStatus(provider, resp.StatusCode, retryAfter)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Wrap(KindProviderTransient, "PROVIDER_READ_FAILED", provider+": reading body", err)
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return Wrap(KindProviderTransient, "PROVIDER_BAD_JSON", provider+": malformed response", err)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		return time.Until(when)
	}
	return 0
}

// hostOf extracts the host component from a provider's configured base URL,
// for pinning its transport via ScopedTransport. An unparseable base URL
// yields an empty host, which ScopedTransport then leaves untouched.
func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func providerLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
