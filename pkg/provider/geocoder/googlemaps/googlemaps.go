// Package googlemaps provides a geocoder.Provider backed by the Google Maps
// Geocoding API (the commercial maps backend).
//
// Google handles intersection queries natively ("Main St & Oak Ave") and
// returns a types list per result that maps cleanly onto the shared
// specificity classes. County names arrive as the
// "administrative_area_level_2" address component.
package googlemaps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

const (
	defaultEndpoint = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultTimeout  = 10 * time.Second
	providerName    = "googlemaps"
)

// Compile-time assertion that Provider satisfies geocoder.Provider.
var _ geocoder.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithEndpoint overrides the Geocoding API endpoint. Used in tests to point
// the adapter at an httptest server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithBlocklist sets formatted-address strings that are rejected by exact
// match. Used to drop known-bad boilerplate results such as a city-centre
// centroid the API returns for unresolvable queries.
func WithBlocklist(entries []string) Option {
	return func(p *Provider) { p.blocklist = slices.Clone(entries) }
}

// Provider implements geocoder.Provider using the Google Maps Geocoding API.
type Provider struct {
	apiKey    string
	endpoint  string
	client    *http.Client
	blocklist []string
}

// New creates a Google Maps geocoder. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("googlemaps: apiKey must not be empty")
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

// response mirrors the subset of the Geocoding API response we consume.
type response struct {
	Status  string `json:"status"` // OK, ZERO_RESULTS, OVER_QUERY_LIMIT, ...
	Results []struct {
		FormattedAddress string   `json:"formatted_address"`
		Types            []string `json:"types"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
		AddressComponents []struct {
			LongName  string   `json:"long_name"`
			ShortName string   `json:"short_name"`
			Types     []string `json:"types"`
		} `json:"address_components"`
	} `json:"results"`
}

// Geocode implements geocoder.Provider.
func (p *Provider) Geocode(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error) {
	params := url.Values{}
	params.Set("address", q.Address)
	params.Set("key", p.apiKey)

	var components []string
	if q.CountryCode != "" {
		components = append(components, "country:"+strings.ToUpper(q.CountryCode))
	}
	if q.CountyHint != "" {
		components = append(components, "administrative_area:"+q.CountyHint)
	}
	if len(components) > 0 {
		params.Set("components", strings.Join(components, "|"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("googlemaps: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("googlemaps: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("googlemaps: status %d", resp.StatusCode)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("googlemaps: decode response: %w", err)
	}

	switch body.Status {
	case "OK":
		// fall through to candidate mapping
	case "ZERO_RESULTS":
		return []geocoder.Candidate{}, nil
	default:
		return nil, fmt.Errorf("googlemaps: api status %s", body.Status)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = len(body.Results)
	}

	candidates := make([]geocoder.Candidate, 0, len(body.Results))
	for _, r := range body.Results {
		if len(candidates) >= limit {
			break
		}
		spec := classify(r.Types)
		if !spec.Mappable() {
			continue
		}
		if slices.Contains(p.blocklist, r.FormattedAddress) {
			continue
		}

		c := geocoder.Candidate{
			Latitude:         r.Geometry.Location.Lat,
			Longitude:        r.Geometry.Location.Lng,
			FormattedAddress: r.FormattedAddress,
			ResultType:       strings.Join(r.Types, ","),
			Specificity:      spec,
			Provider:         providerName,
		}
		for _, ac := range r.AddressComponents {
			switch {
			case slices.Contains(ac.Types, "administrative_area_level_2"):
				c.County = ac.LongName
			case slices.Contains(ac.Types, "administrative_area_level_1"):
				c.State = ac.ShortName
			case slices.Contains(ac.Types, "locality"):
				c.City = ac.LongName
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// areaTypes are Google result types that only identify a broad area. A result
// carrying any of these is never precise enough to plot, even when it also
// carries a point-of-interest tag.
var areaTypes = []string{
	"locality",
	"sublocality",
	"administrative_area_level_1",
	"administrative_area_level_2",
	"administrative_area_level_3",
	"postal_code",
	"country",
	"neighborhood",
}

// placeTypes are Google result types that identify a specific named place.
var placeTypes = []string{
	"premise",
	"subpremise",
	"establishment",
	"point_of_interest",
	"park",
	"airport",
	"transit_station",
}

// classify maps a Google types list onto the shared specificity classes.
func classify(types []string) geocoder.Specificity {
	for _, t := range types {
		if slices.Contains(areaTypes, t) {
			return geocoder.SpecificityArea
		}
	}
	if slices.Contains(types, "intersection") {
		return geocoder.SpecificityIntersection
	}
	if slices.Contains(types, "street_address") || slices.Contains(types, "route") {
		return geocoder.SpecificityStreet
	}
	for _, t := range types {
		if slices.Contains(placeTypes, t) {
			return geocoder.SpecificityPlace
		}
	}
	return geocoder.SpecificityArea
}
