// Package mock provides a test double for the geocoder.Provider interface.
//
// Use Provider in unit tests to feed controlled candidate lists into the
// pipeline without a live geocoding backend.
//
// Example:
//
//	g := &mock.Provider{
//	    Candidates: []geocoder.Candidate{{Latitude: 41.7, Longitude: -72.6}},
//	}
//	out, err := g.Geocode(ctx, geocoder.Query{Address: "100 Main St"})
package mock

import (
	"context"
	"sync"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

// GeocodeCall records a single invocation of Geocode.
type GeocodeCall struct {
	// Ctx is the context passed to Geocode.
	Ctx context.Context
	// Query is the Query passed to Geocode.
	Query geocoder.Query
}

// Provider is a mock implementation of geocoder.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Candidates is returned by Geocode for every call.
	Candidates []geocoder.Candidate

	// Err, if non-nil, is returned as the error from Geocode.
	Err error

	// GeocodeFn, if non-nil, is invoked instead of returning the static
	// fields above. Useful for per-query responses in table tests.
	GeocodeFn func(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error)

	// GeocodeCalls records every invocation of Geocode in order.
	GeocodeCalls []GeocodeCall
}

// Geocode records the call and returns the configured candidates.
func (p *Provider) Geocode(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error) {
	p.mu.Lock()
	p.GeocodeCalls = append(p.GeocodeCalls, GeocodeCall{Ctx: ctx, Query: q})
	fn := p.GeocodeFn
	candidates, err := p.Candidates, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, q)
	}
	out := make([]geocoder.Candidate, len(candidates))
	copy(out, candidates)
	return out, err
}

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GeocodeCalls = nil
}

// Ensure Provider implements geocoder.Provider at compile time.
var _ geocoder.Provider = (*Provider)(nil)
