package internal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// GoogleBooksProvider talks to the Google Books "volumes" API. The
// API key, if configured, travels as a query parameter rather than a
// header, which is this provider's own convention.
type GoogleBooksProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewGoogleBooksProvider builds a provider client with its own outbound
// transport chain (token-bucket throttle).
func NewGoogleBooksProvider(ctx context.Context, baseURL string, key Secret, rps float64) (*GoogleBooksProvider, error) {
	apiKey, err := resolveSecret(ctx, key)
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "resolving googlebooks key", err)
	}
	return &GoogleBooksProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Transport: newScopedProviderTransport(hostOf(baseURL), rps, "", ""),
			Timeout:   DefaultProviderTimeout,
		},
	}, nil
}

func (p *GoogleBooksProvider) Name() string { return "googlebooks" }

func (p *GoogleBooksProvider) query(extra url.Values) url.Values {
	if p.apiKey != "" {
		extra.Set("key", p.apiKey)
	}
	return extra
}

func (p *GoogleBooksProvider) SearchByTitle(ctx context.Context, title string, max int) (NormalizedResponse, ProviderMeta, error) {
	q := p.query(url.Values{"q": {"intitle:" + title}, "maxResults": {strconv.Itoa(max)}})
	var raw googleBooksResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/volumes", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeGoogleBooks(raw), ProviderMeta{Provider: p.Name()}, nil
}

func (p *GoogleBooksProvider) SearchByISBN(ctx context.Context, isbn string) (NormalizedResponse, ProviderMeta, error) {
	q := p.query(url.Values{"q": {"isbn:" + DigitsOnly(isbn)}})
	var raw googleBooksResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/volumes", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeGoogleBooks(raw), ProviderMeta{Provider: p.Name()}, nil
}

func (p *GoogleBooksProvider) SearchByAuthor(ctx context.Context, name string, limit, offset int) (NormalizedResponse, ProviderMeta, error) {
	q := p.query(url.Values{
		"q":          {"inauthor:" + name},
		"maxResults": {strconv.Itoa(limit)},
		"startIndex": {strconv.Itoa(offset)},
	})
	var raw googleBooksResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/volumes", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeGoogleBooks(raw), ProviderMeta{Provider: p.Name()}, nil
}

var _ Provider = (*GoogleBooksProvider)(nil)
