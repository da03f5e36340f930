package mcptool

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dispatchmap/dispatchmap/internal/extract"
	"github.com/dispatchmap/dispatchmap/internal/hyperlink"
	"github.com/dispatchmap/dispatchmap/internal/jurisdiction"
	"github.com/dispatchmap/dispatchmap/internal/locale"
	"github.com/dispatchmap/dispatchmap/internal/normalize"
	"github.com/dispatchmap/dispatchmap/internal/pipeline"
	"github.com/dispatchmap/dispatchmap/internal/rules"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	geomock "github.com/dispatchmap/dispatchmap/pkg/provider/geocoder/mock"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	llmmock "github.com/dispatchmap/dispatchmap/pkg/provider/llm/mock"
)

func newTestPipeline(t *testing.T, llmp llm.Provider, geo geocoder.Provider) *pipeline.Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jurisdictions := []string{"Hartford County"}

	table, err := rules.NewTable(nil, logger)
	if err != nil {
		t.Fatalf("NewTable() error = %v", err)
	}

	return pipeline.New(
		locale.NewResolver(nil, jurisdictions),
		table,
		extract.New(llmp, jurisdictions, "CT", extract.WithLogger(logger)),
		normalize.New("CT"),
		geo,
		jurisdiction.New(jurisdictions, logger),
		hyperlink.New(hyperlink.StyleAddress),
		pipeline.Config{},
		pipeline.WithLogger(logger),
	)
}

// callResolveAddress drives the tool through an in-memory client session.
func callResolveAddress(t *testing.T, s *Server, args map[string]any) Output {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	serverDone := make(chan error, 1)
	go func() { serverDone <- s.srv.Run(ctx, serverTransport) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "resolve_address",
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("CallTool() returned tool error: %+v", res.Content)
	}

	raw, err := json.Marshal(res.StructuredContent)
	if err != nil {
		t.Fatalf("Marshal(StructuredContent) error = %v", err)
	}
	var out Output
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal(Output) error = %v", err)
	}
	return out
}

func TestResolveAddressTool(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "100 Main St"},
	}
	geo := &geomock.Provider{
		Candidates: []geocoder.Candidate{{
			Latitude:         41.7658,
			Longitude:        -72.6734,
			FormattedAddress: "100 Main St, Hartford, CT 06106, USA",
			Specificity:      geocoder.SpecificityStreet,
			County:           "Hartford County",
			Provider:         "google_maps",
		}},
	}
	s := New(newTestPipeline(t, llmp, geo), nil)

	out := callResolveAddress(t, s, map[string]any{
		"text": "Engine 5 respond to 100 Main St",
	})

	if !out.Found {
		t.Fatal("Found = false, want true")
	}
	if len(out.Resolutions) != 1 {
		t.Fatalf("len(Resolutions) = %d, want 1", len(out.Resolutions))
	}
	r := out.Resolutions[0]
	if r.County != "Hartford County" {
		t.Errorf("County = %q, want %q", r.County, "Hartford County")
	}
	if r.Latitude != 41.7658 || r.Longitude != -72.6734 {
		t.Errorf("coordinates = %f, %f", r.Latitude, r.Longitude)
	}
	if out.Annotated == "" {
		t.Error("Annotated is empty, want map-link markup")
	}
}

func TestResolveAddressToolNoAddress(t *testing.T) {
	t.Parallel()

	llmp := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "No address found."},
	}
	s := New(newTestPipeline(t, llmp, &geomock.Provider{}), nil)

	out := callResolveAddress(t, s, map[string]any{
		"text": "Engine 5 respond for a medical alarm",
	})

	if out.Found {
		t.Error("Found = true, want false")
	}
	if len(out.Resolutions) != 0 {
		t.Errorf("len(Resolutions) = %d, want 0", len(out.Resolutions))
	}
}
