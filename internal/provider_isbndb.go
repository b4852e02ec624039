package internal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ISBNdbProvider talks to the ISBNdb REST API (§4.2). ISBNdb authenticates
// via an "Authorization" header carrying the raw API key.
type ISBNdbProvider struct {
	baseURL string
	client  *http.Client
}

func NewISBNdbProvider(ctx context.Context, baseURL string, key Secret, rps float64) (*ISBNdbProvider, error) {
	apiKey, err := resolveSecret(ctx, key)
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "resolving isbndb key", err)
	}
	return &ISBNdbProvider{
		baseURL: baseURL,
		client: &http.Client{
			Transport: newScopedProviderTransport(hostOf(baseURL), rps, "Authorization", apiKey),
			Timeout:   DefaultProviderTimeout,
		},
	}, nil
}

func (p *ISBNdbProvider) Name() string { return "isbndb" }

func (p *ISBNdbProvider) SearchByTitle(ctx context.Context, title string, max int) (NormalizedResponse, ProviderMeta, error) {
	q := url.Values{"page": {"1"}, "pageSize": {strconv.Itoa(max)}}
	var raw isbndbResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/books/"+url.PathEscape(title), q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeISBNdb(raw), ProviderMeta{Provider: p.Name()}, nil
}

func (p *ISBNdbProvider) SearchByISBN(ctx context.Context, isbn string) (NormalizedResponse, ProviderMeta, error) {
	var raw isbndbResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/book/"+DigitsOnly(isbn), nil, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeISBNdb(raw), ProviderMeta{Provider: p.Name()}, nil
}

func (p *ISBNdbProvider) SearchByAuthor(ctx context.Context, name string, limit, offset int) (NormalizedResponse, ProviderMeta, error) {
	page := offset/max(limit, 1) + 1
	q := url.Values{"page": {strconv.Itoa(page)}, "pageSize": {strconv.Itoa(limit)}}
	var raw isbndbResponse
	if err := requestJSON(ctx, p.client, p.Name(), p.baseURL, "/author/"+url.PathEscape(name)+"/books", q, &raw); err != nil {
		return NormalizedResponse{}, ProviderMeta{Provider: p.Name()}, err
	}
	return normalizeISBNdb(raw), ProviderMeta{Provider: p.Name()}, nil
}

var _ Provider = (*ISBNdbProvider)(nil)
