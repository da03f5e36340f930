// Package geocoder defines the Provider interface for geocoding backends.
//
// A geocoding provider turns a normalized address string into zero or more
// structured candidates with coordinates and an address-component breakdown.
// Three interchangeable backends ship with dispatchmap: googlemaps (commercial
// maps API), geocodio (dedicated geocoding API), and nominatim (free/open
// OpenStreetMap provider). Each adapter maps its backend's result typing onto
// the shared Specificity classes and drops candidates that only resolve to a
// broad area, so the orchestrator never has to know which backend produced a
// candidate.
//
// Implementations must be safe for concurrent use. A transport failure or
// non-success HTTP status is returned as an error; a response that simply
// contains no usable candidates is ([]Candidate{}, nil).
package geocoder

import "context"

// Specificity classifies how precisely a candidate pins down a point.
type Specificity string

const (
	// SpecificityStreet covers house-number and route-level matches.
	SpecificityStreet Specificity = "street"

	// SpecificityIntersection covers matches at the crossing of two roads.
	SpecificityIntersection Specificity = "intersection"

	// SpecificityPlace covers named places (businesses, parks, landmarks)
	// that are not simultaneously a city, administrative area, or postcode.
	SpecificityPlace Specificity = "place"

	// SpecificityArea covers locality, administrative-area, and postcode
	// matches. Area-level candidates are too vague to plot and are filtered
	// out by every adapter.
	SpecificityArea Specificity = "area"
)

// Mappable reports whether a candidate of this specificity is precise enough
// to plot on a map.
func (s Specificity) Mappable() bool {
	switch s {
	case SpecificityStreet, SpecificityIntersection, SpecificityPlace:
		return true
	}
	return false
}

// Query is a geocoding request.
type Query struct {
	// Address is the normalized free-text address to resolve.
	Address string

	// CountyHint is an optional county name used to bias results. Adapters
	// that support component filtering pass it through; others append it to
	// the query text.
	CountyHint string

	// CountryCode is the ISO 3166-1 alpha-2 country restriction (e.g., "us").
	CountryCode string

	// Limit caps the number of candidates requested from the backend.
	// Zero means the adapter default.
	Limit int
}

// Candidate is one structured geocoding result, normalized across backends.
type Candidate struct {
	// Latitude and Longitude are the candidate's coordinates in WGS84.
	Latitude  float64
	Longitude float64

	// FormattedAddress is the backend's canonical display text.
	FormattedAddress string

	// ResultType is the backend-native type tag (e.g., "street_address",
	// "rooftop", "residential"). Kept for logging and blocklist matching.
	ResultType string

	// ResultClass is the backend-native class/category tag where the backend
	// distinguishes one (e.g., Nominatim's "highway"). May be empty.
	ResultClass string

	// Specificity is the adapter's classification of ResultType/ResultClass.
	Specificity Specificity

	// County is the county-equivalent component of the address breakdown.
	// Empty when the backend did not return one.
	County string

	// State is the state / province component. May be empty.
	State string

	// City is the locality component. May be empty.
	City string

	// Provider is the name of the backend that produced this candidate.
	Provider string
}

// Provider is the abstraction over any geocoding backend.
type Provider interface {
	// Geocode resolves q into candidates ordered most-relevant first, with
	// area-level and blocklisted results already filtered out. An empty slice
	// with a nil error means the backend answered but produced nothing
	// precise enough to map.
	Geocode(ctx context.Context, q Query) ([]Candidate, error)

	// Name returns the backend identifier used in logs and metrics.
	Name() string
}
