package pipeline

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dispatchmap/dispatchmap/internal/extract"
	"github.com/dispatchmap/dispatchmap/internal/hyperlink"
	"github.com/dispatchmap/dispatchmap/internal/jurisdiction"
	"github.com/dispatchmap/dispatchmap/internal/locale"
	"github.com/dispatchmap/dispatchmap/internal/normalize"
	"github.com/dispatchmap/dispatchmap/internal/rules"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	geomock "github.com/dispatchmap/dispatchmap/pkg/provider/geocoder/mock"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	llmmock "github.com/dispatchmap/dispatchmap/pkg/provider/llm/mock"
)

var testJurisdictions = []string{"Hartford County", "Tolland County"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func streetCandidate(county string) geocoder.Candidate {
	return geocoder.Candidate{
		Latitude:         41.7658,
		Longitude:        -72.6734,
		FormattedAddress: "7908 Cindy Ln, Hartford, CT 06106, USA",
		ResultType:       "street_address",
		Specificity:      geocoder.SpecificityStreet,
		County:           county,
		State:            "Connecticut",
		City:             "Hartford",
		Provider:         "google_maps",
	}
}

// newTestPipeline wires a pipeline around the given mocks with a rule-free
// locale table and "CT" as the default state suffix.
func newTestPipeline(t *testing.T, llmp llm.Provider, geo geocoder.Provider, extractOpts ...extract.Option) *Pipeline {
	t.Helper()
	logger := discardLogger()

	table, err := rules.NewTable(nil, logger)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}
	extractOpts = append(extractOpts, extract.WithLogger(logger))

	return New(
		locale.NewResolver(map[string]string{"tg-100": "Hartford County"}, testJurisdictions),
		table,
		extract.New(llmp, testJurisdictions, "CT", extractOpts...),
		normalize.New("CT"),
		geo,
		jurisdiction.New(testJurisdictions, logger),
		hyperlink.New(hyperlink.StyleAddress),
		Config{},
		WithLogger(logger),
	)
}

func TestProcessRoundTrip(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "7,9,0,8 Cindy Lane"},
	}
	geo := &geomock.Provider{
		Candidates: []geocoder.Candidate{streetCandidate("Hartford County")},
	}
	p := newTestPipeline(t, llmp, geo)

	transcript := "Engine 5 respond to 7,9,0,8 Cindy Lane for a fall, second floor"
	res := p.Process(context.Background(), transcript, "tg-100")
	if res == nil {
		t.Fatal("Process() = nil, want result")
	}
	if len(res.Resolutions) != 1 {
		t.Fatalf("len(Resolutions) = %d, want 1", len(res.Resolutions))
	}

	r := res.Resolutions[0]
	if r.Address != "7908 Cindy Lane, CT" {
		t.Errorf("Address = %q, want %q", r.Address, "7908 Cindy Lane, CT")
	}
	if r.County != "Hartford County" {
		t.Errorf("County = %q, want %q", r.County, "Hartford County")
	}
	if r.Provider != "google_maps" {
		t.Errorf("Provider = %q, want %q", r.Provider, "google_maps")
	}

	// The spoken digit grouping must come back wrapped as its canonical form.
	if !strings.Contains(res.Annotated, "[7908 Cindy Lane](https://www.google.com/maps/search/?api=1&query=") {
		t.Errorf("Annotated = %q, want map link around %q", res.Annotated, "7908 Cindy Lane")
	}
	if strings.Contains(res.Annotated, "7,9,0,8") {
		t.Errorf("Annotated = %q, still contains raw digit grouping", res.Annotated)
	}

	if len(geo.GeocodeCalls) != 1 {
		t.Fatalf("geocoder calls = %d, want 1", len(geo.GeocodeCalls))
	}
	q := geo.GeocodeCalls[0].Query
	if q.Address != "7908 Cindy Lane, CT" {
		t.Errorf("geocode query address = %q, want %q", q.Address, "7908 Cindy Lane, CT")
	}
	if q.CountyHint != "Hartford County" {
		t.Errorf("geocode query county hint = %q, want %q", q.CountyHint, "Hartford County")
	}
}

func TestProcessNoAddress(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "No address found."},
	}
	geo := &geomock.Provider{}
	p := newTestPipeline(t, llmp, geo)

	if res := p.Process(context.Background(), "Engine 5 respond for a medical alarm", "tg-100"); res != nil {
		t.Fatalf("Process() = %+v, want nil", res)
	}
	if len(geo.GeocodeCalls) != 0 {
		t.Errorf("geocoder calls = %d, want 0", len(geo.GeocodeCalls))
	}
}

func TestProcessExtractorDown(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main St"},
	}
	geo := &geomock.Provider{}
	p := newTestPipeline(t, llmp, geo, extract.WithStatusURL(srv.URL))

	if res := p.Process(context.Background(), "Engine 5 respond to 100 Main St", "tg-100"); res != nil {
		t.Fatalf("Process() = %+v, want nil", res)
	}
	if len(llmp.CompleteCalls) != 0 {
		t.Errorf("extraction calls = %d, want 0 after failed liveness probe", len(llmp.CompleteCalls))
	}
}

func TestProcessRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		geo  *geomock.Provider
	}{
		{
			name: "out of jurisdiction",
			geo:  &geomock.Provider{Candidates: []geocoder.Candidate{streetCandidate("Fairfield County")}},
		},
		{
			name: "missing county data",
			geo:  &geomock.Provider{Candidates: []geocoder.Candidate{streetCandidate("")}},
		},
		{
			name: "answered but unmappable",
			geo:  &geomock.Provider{},
		},
		{
			name: "backend error",
			geo:  &geomock.Provider{Err: io.ErrUnexpectedEOF},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			llmp := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "100 Main St"},
			}
			p := newTestPipeline(t, llmp, tt.geo)

			if res := p.Process(context.Background(), "Engine 5 respond to 100 Main St", "tg-100"); res != nil {
				t.Fatalf("Process() = %+v, want nil", res)
			}
		})
	}
}

func TestProcessMultipleCandidates(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main St; 500 Nowhere Rd"},
	}
	geo := &geomock.Provider{
		GeocodeFn: func(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error) {
			if strings.HasPrefix(q.Address, "100 Main St") {
				return []geocoder.Candidate{streetCandidate("Hartford County")}, nil
			}
			return nil, nil
		},
	}
	p := newTestPipeline(t, llmp, geo)

	transcript := "Respond to 100 Main St, cross street 500 Nowhere Rd"
	res := p.Process(context.Background(), transcript, "tg-100")
	if res == nil {
		t.Fatal("Process() = nil, want result")
	}
	if len(res.Resolutions) != 1 {
		t.Fatalf("len(Resolutions) = %d, want 1", len(res.Resolutions))
	}
	if got := res.Resolutions[0].Address; got != "100 Main St, CT" {
		t.Errorf("Address = %q, want %q", got, "100 Main St, CT")
	}
	if !strings.Contains(res.Annotated, "[100 Main St](") {
		t.Errorf("Annotated = %q, want map link around %q", res.Annotated, "100 Main St")
	}
	if strings.Contains(res.Annotated, "[500 Nowhere Rd](") {
		t.Errorf("Annotated = %q, unresolvable candidate must stay unlinked", res.Annotated)
	}
}

func TestProcessFirstValidatedCandidateWins(t *testing.T) {
	t.Parallel()

	outside := streetCandidate("Fairfield County")
	inside := streetCandidate("Tolland County")
	inside.Provider = "nominatim"

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main St"},
	}
	geo := &geomock.Provider{Candidates: []geocoder.Candidate{outside, inside}}
	p := newTestPipeline(t, llmp, geo)

	res := p.Process(context.Background(), "Respond to 100 Main St", "tg-100")
	if res == nil {
		t.Fatal("Process() = nil, want result")
	}
	if got := res.Resolutions[0].County; got != "Tolland County" {
		t.Errorf("County = %q, want %q", got, "Tolland County")
	}
	if got := res.Resolutions[0].Provider; got != "nominatim" {
		t.Errorf("Provider = %q, want %q", got, "nominatim")
	}
}

func TestProcessCanceledContext(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main St"},
	}
	geo := &geomock.Provider{}
	p := newTestPipeline(t, llmp, geo)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if res := p.Process(ctx, "Respond to 100 Main St", "tg-100"); res != nil {
		t.Fatalf("Process() = %+v, want nil on canceled context", res)
	}
}

func TestSplitCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"single", "100 Main St", []string{"100 Main St"}},
		{"two", "100 Main St; Route 9 and Elm St", []string{"100 Main St", "Route 9 and Elm St"}},
		{"empty segments dropped", "; 100 Main St ;;", []string{"100 Main St"}},
		{"whitespace only", "  ;  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := splitCandidates(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("splitCandidates(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("splitCandidates(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.want[i])
				}
			}
		})
	}
}
