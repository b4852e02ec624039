package internal

import "context"

// Provider is the contract every upstream metadata source implements.
// Implementations never return an empty NormalizedResponse paired
// with a nil error to mean "not found" — they return (NormalizedResponse{},
// meta, nil) for a genuine empty result, and a *Error with Kind in
// {provider_timeout, provider_transient, provider_permanent} for failures,
// so the engine's fallback logic can distinguish the two.
type Provider interface {
	Name() string
	SearchByTitle(ctx context.Context, title string, max int) (NormalizedResponse, ProviderMeta, error)
	SearchByISBN(ctx context.Context, isbn string) (NormalizedResponse, ProviderMeta, error)
	SearchByAuthor(ctx context.Context, name string, limit, offset int) (NormalizedResponse, ProviderMeta, error)
}

// Secret is the uniform accessor for provider credentials: a key may be
// a plain string or something that must be resolved asynchronously (e.g. a
// secrets-manager handle). Callers resolve once per operation and treat the
// result as an opaque string.
type Secret interface {
	Get(ctx context.Context) (string, error)
}

// StringSecret is a Secret that is already a resolved value.
type StringSecret string

func (s StringSecret) Get(context.Context) (string, error) { return string(s), nil }

// FuncSecret adapts an arbitrary resolver (e.g. a secrets-manager client
// call) to the Secret interface.
type FuncSecret func(ctx context.Context) (string, error)

func (f FuncSecret) Get(ctx context.Context) (string, error) { return f(ctx) }

// resolveSecret resolves a possibly-nil Secret to a plain string, treating
// nil as "no key configured" rather than an error.
func resolveSecret(ctx context.Context, s Secret) (string, error) {
	if s == nil {
		return "", nil
	}
	return s.Get(ctx)
}
