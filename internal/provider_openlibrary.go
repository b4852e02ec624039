package internal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// OpenLibraryProvider talks to OpenLibrary's search.json API (§4.2).
// OpenLibrary requires no API key.
type OpenLibraryProvider struct {
	baseURL string
	client  *http.Client
}

func NewOpenLibraryProvider(baseURL string, rps float64) *OpenLibraryProvider {
	return &OpenLibraryProvider{
		baseURL: baseURL,
		client: &http.Client{
			Transport: newScopedProviderTransport(hostOf(baseURL), rps, "", ""),
			Timeout:   DefaultProviderTimeout,
		},
	}
}

func (p *OpenLibraryProvider) Name() string { return "openlibrary" }

func (p *OpenLibraryProvider) SearchByTitle(ctx context.Context, title string, max int) (NormalizedResponse, ProviderMeta, error) {
	q := url.Values{"title": {title}, "limit": {strconv.Itoa(max)}}
	var raw openLibrarySearchResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/search.json", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeOpenLibrary(raw), ProviderMeta{Provider: p.Name()}, nil
}

func (p *OpenLibraryProvider) SearchByISBN(ctx context.Context, isbn string) (NormalizedResponse, ProviderMeta, error) {
	q := url.Values{"isbn": {DigitsOnly(isbn)}}
	var raw openLibrarySearchResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/search.json", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeOpenLibrary(raw), ProviderMeta{Provider: p.Name()}, nil
}

func (p *OpenLibraryProvider) SearchByAuthor(ctx context.Context, name string, limit, offset int) (NormalizedResponse, ProviderMeta, error) {
	q := url.Values{
		"author": {name},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var raw openLibrarySearchResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/search.json", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeOpenLibrary(raw), ProviderMeta{Provider: p.Name()}, nil
}

var _ Provider = (*OpenLibraryProvider)(nil)
