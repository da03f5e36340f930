// Package geocodio provides a geocoder.Provider backed by the Geocodio API
// (the dedicated geocoding backend).
//
// Geocodio classifies every result with an accuracy_type; the adapter maps
// those onto the shared specificity classes and drops city/county/state/zip
// centroids. The address-component breakdown carries the county directly.
package geocodio

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

const (
	defaultEndpoint = "https://api.geocod.io/v1.7/geocode"
	defaultTimeout  = 10 * time.Second
	providerName    = "geocodio"
)

// Compile-time assertion that Provider satisfies geocoder.Provider.
var _ geocoder.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithBlocklist sets formatted-address strings rejected by exact match.
func WithBlocklist(entries []string) Option {
	return func(p *Provider) { p.blocklist = slices.Clone(entries) }
}

// Provider implements geocoder.Provider using the Geocodio API.
type Provider struct {
	apiKey    string
	endpoint  string
	client    *http.Client
	blocklist []string
}

// New creates a Geocodio geocoder. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("geocodio: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements geocoder.Provider.
func (p *Provider) Name() string { return providerName }

// response mirrors the subset of the Geocodio response we consume.
type response struct {
	Results []struct {
		AccuracyType     string `json:"accuracy_type"`
		FormattedAddress string `json:"formatted_address"`
		Location         struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		AddressComponents struct {
			City   string `json:"city"`
			County string `json:"county"`
			State  string `json:"state"`
		} `json:"address_components"`
	} `json:"results"`
}

// Geocode implements geocoder.Provider.
func (p *Provider) Geocode(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error) {
	params := url.Values{}
	params.Set("q", q.Address)
	params.Set("api_key", p.apiKey)
	if q.CountryCode != "" {
		params.Set("country", q.CountryCode)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("geocodio: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocodio: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocodio: status %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geocodio: decode response: %w", err)
	}

	candidates := make([]geocoder.Candidate, 0, len(body.Results))
	for _, r := range body.Results {
		spec := classify(r.AccuracyType)
		if !spec.Mappable() {
			continue
		}
		if slices.Contains(p.blocklist, r.FormattedAddress) {
			continue
		}
		candidates = append(candidates, geocoder.Candidate{
			Latitude:         r.Location.Lat,
			Longitude:        r.Location.Lng,
			FormattedAddress: r.FormattedAddress,
			ResultType:       r.AccuracyType,
			Specificity:      spec,
			County:           r.AddressComponents.County,
			State:            r.AddressComponents.State,
			City:             r.AddressComponents.City,
			Provider:         providerName,
		})
	}
	return candidates, nil
}

// classify maps a Geocodio accuracy_type onto the shared specificity classes.
//
// "place" is Geocodio's city/zip centroid accuracy, not a named place, so it
// lands in the area class together with "county" and "state".
func classify(accuracyType string) geocoder.Specificity {
	switch accuracyType {
	case "rooftop", "point", "range_interpolation", "nearest_rooftop_match", "street_center":
		return geocoder.SpecificityStreet
	case "intersection":
		return geocoder.SpecificityIntersection
	default:
		return geocoder.SpecificityArea
	}
}
