// Package nominatim provides a geocoder.Provider backed by the OpenStreetMap
// Nominatim search API (the free/open backend).
//
// Nominatim tags every result with a category/type pair; the adapter maps
// those onto the shared specificity classes. The public instance requires a
// descriptive User-Agent and allows at most one request per second, so
// deployments either self-host or keep the pipeline's geocoder concurrency
// cap at 1 for this backend.
package nominatim

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
	defaultEndpoint  = "https://nominatim.openstreetmap.org/search"
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "dispatchmap/1.0 (+https://github.com/dispatchmap/dispatchmap)"
	providerName     = "nominatim"
)

// Compile-time assertion that Provider satisfies geocoder.Provider.
var _ geocoder.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the search endpoint, e.g. for a self-hosted
// instance or an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithUserAgent sets the User-Agent header. The public instance rejects
// requests without a descriptive one.
func WithUserAgent(ua string) Option {
	return func(p *Provider) { p.userAgent = ua }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithBlocklist sets display-name strings rejected by exact match.
func WithBlocklist(entries []string) Option {
	return func(p *Provider) { p.blocklist = slices.Clone(entries) }
}

// Provider implements geocoder.Provider using the Nominatim search API.
// No API key is required.
type Provider struct {
	endpoint  string
	userAgent string
	client    *http.Client
	blocklist []string
}

// New creates a Nominatim geocoder.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint:  defaultEndpoint,
		userAgent: defaultUserAgent,
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements geocoder.Provider.
func (p *Provider) Name() string { return providerName }

// result mirrors one element of the jsonv2 search response.
type result struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Category    string `json:"category"`
	Type        string `json:"type"`
	Address     struct {
		County       string `json:"county"`
		State        string `json:"state"`
		City         string `json:"city"`
		Town         string `json:"town"`
		Village      string `json:"village"`
		Municipality string `json:"municipality"`
	} `json:"address"`
}

// Geocode implements geocoder.Provider.
func (p *Provider) Geocode(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error) {
	address := q.Address
	if q.CountyHint != "" {
		// Nominatim has no component filter on free-text search; the hint
		// rides along in the query text instead.
		address += ", " + q.CountyHint
	}

	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	if q.CountryCode != "" {
		params.Set("countrycodes", q.CountryCode)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("nominatim: build request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nominatim: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim: status %d", resp.StatusCode)
	}

	var results []result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("nominatim: decode response: %w", err)
	}

	candidates := make([]geocoder.Candidate, 0, len(results))
	for _, r := range results {
		spec := classify(r.Category, r.Type)
		if !spec.Mappable() {
			continue
		}
		if slices.Contains(p.blocklist, r.DisplayName) {
			continue
		}

		lat, errLat := strconv.ParseFloat(r.Lat, 64)
		lon, errLon := strconv.ParseFloat(r.Lon, 64)
		if errLat != nil || errLon != nil {
			continue
		}

		city := r.Address.City
		if city == "" {
			city = r.Address.Town
		}
		if city == "" {
			city = r.Address.Village
		}

		candidates = append(candidates, geocoder.Candidate{
			Latitude:         lat,
			Longitude:        lon,
			FormattedAddress: r.DisplayName,
			ResultType:       r.Type,
			ResultClass:      r.Category,
			Specificity:      spec,
			County:           r.Address.County,
			State:            r.Address.State,
			City:             city,
			Provider:         providerName,
		})
	}
	return candidates, nil
}

// placeCategories are OSM categories whose members are specific named
// features rather than administrative geography.
var placeCategories = []string{
	"amenity", "shop", "tourism", "leisure", "office", "building", "man_made",
	"emergency", "aeroway", "railway",
}

// classify maps an OSM category/type pair onto the shared specificity classes.
func classify(category, osmType string) geocoder.Specificity {
	switch category {
	case "highway":
		// Any highway feature is a road or road segment.
		return geocoder.SpecificityStreet
	case "place":
		// place=house is an addressed building; everything else under the
		// place category (city, town, suburb, postcode, ...) is an area.
		if osmType == "house" {
			return geocoder.SpecificityStreet
		}
		return geocoder.SpecificityArea
	case "boundary":
		return geocoder.SpecificityArea
	}
	if category == "junction" || osmType == "crossing" {
		return geocoder.SpecificityIntersection
	}
	if slices.Contains(placeCategories, category) {
		return geocoder.SpecificityPlace
	}
	return geocoder.SpecificityArea
}
