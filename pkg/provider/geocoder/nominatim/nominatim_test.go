package nominatim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

func TestGeocode(t *testing.T) {
	t.Parallel()

	const roadResult = `[{
		"lat": "41.7658",
		"lon": "-72.6734",
		"display_name": "Cindy Lane, Anytown, Hartford County, Connecticut, United States",
		"category": "highway",
		"type": "residential",
		"address": {
			"county": "Hartford County",
			"state": "Connecticut",
			"town": "Anytown"
		}
	}]`

	tests := []struct {
		name    string
		status  int
		body    string
		want    int
		wantErr bool
		check   func(t *testing.T, got []geocoder.Candidate)
	}{
		{
			name:   "highway result",
			status: http.StatusOK,
			body:   roadResult,
			want:   1,
			check: func(t *testing.T, got []geocoder.Candidate) {
				c := got[0]
				if c.Specificity != geocoder.SpecificityStreet {
					t.Errorf("Specificity = %q, want %q", c.Specificity, geocoder.SpecificityStreet)
				}
				if c.Latitude != 41.7658 || c.Longitude != -72.6734 {
					t.Errorf("coordinates = (%v, %v), want (41.7658, -72.6734)", c.Latitude, c.Longitude)
				}
				if c.County != "Hartford County" {
					t.Errorf("County = %q, want %q", c.County, "Hartford County")
				}
				// city falls back to town when the city field is empty
				if c.City != "Anytown" {
					t.Errorf("City = %q, want %q", c.City, "Anytown")
				}
			},
		},
		{
			name:   "empty results",
			status: http.StatusOK,
			body:   `[]`,
			want:   0,
		},
		{
			name:   "boundary result is filtered",
			status: http.StatusOK,
			body: `[{
				"lat": "41.76", "lon": "-72.67",
				"display_name": "Hartford County, Connecticut, United States",
				"category": "boundary", "type": "administrative",
				"address": {"county": "Hartford County", "state": "Connecticut"}
			}]`,
			want: 0,
		},
		{
			name:   "unparseable coordinates are skipped",
			status: http.StatusOK,
			body: `[{
				"lat": "not-a-number", "lon": "-72.67",
				"display_name": "Cindy Lane", "category": "highway", "type": "residential",
				"address": {}
			}]`,
			want: 0,
		},
		{
			name:    "rate limited is an error",
			status:  http.StatusTooManyRequests,
			body:    ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("User-Agent") == "" {
					t.Error("request has no User-Agent header")
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := New(WithEndpoint(srv.URL))
			got, err := p.Geocode(context.Background(), geocoder.Query{Address: "Cindy Lane, Anytown"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Geocode error = nil, want non-nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Geocode: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("len(candidates) = %d, want %d", len(got), tt.want)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestGeocode_CountyHintRidesInQuery(t *testing.T) {
	t.Parallel()

	var gotQ string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := New(WithEndpoint(srv.URL))
	_, err := p.Geocode(context.Background(), geocoder.Query{
		Address:    "100 Main St",
		CountyHint: "Hartford County",
	})
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if !strings.HasSuffix(gotQ, ", Hartford County") {
		t.Errorf("q = %q, want county hint appended", gotQ)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		category string
		osmType  string
		want     geocoder.Specificity
	}{
		{"residential road", "highway", "residential", geocoder.SpecificityStreet},
		{"addressed house", "place", "house", geocoder.SpecificityStreet},
		{"town", "place", "town", geocoder.SpecificityArea},
		{"administrative boundary", "boundary", "administrative", geocoder.SpecificityArea},
		{"junction", "junction", "yes", geocoder.SpecificityIntersection},
		{"fire station", "amenity", "fire_station", geocoder.SpecificityPlace},
		{"railway station", "railway", "station", geocoder.SpecificityPlace},
		{"unknown category defaults to area", "natural", "water", geocoder.SpecificityArea},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := classify(tt.category, tt.osmType); got != tt.want {
				t.Errorf("classify(%q, %q) = %q, want %q", tt.category, tt.osmType, got, tt.want)
			}
		})
	}
}
