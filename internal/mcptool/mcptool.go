// Package mcptool exposes the resolution pipeline as a Model Context
// Protocol tool server, so LLM assistants monitoring an incident channel
// can resolve addresses through the same pipeline the live feed uses.
//
// One tool is served: resolve_address. It accepts free text (a transcript
// or a bare address) and returns the resolved coordinates plus the
// annotated text. The server speaks both stdio and streamable-HTTP
// transports via the official MCP Go SDK.
package mcptool

import (
	"context"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dispatchmap/dispatchmap/internal/pipeline"
)

// Input is the resolve_address tool's argument schema.
type Input struct {
	// Text is the transcript or address text to resolve.
	Text string `json:"text" jsonschema:"the transcript or address text to resolve"`

	// Talkgroup optionally selects which talkgroup's locale hints apply.
	Talkgroup string `json:"talkgroup,omitempty" jsonschema:"optional talkgroup ID whose locale hints to apply"`
}

// ResolvedAddress is one resolved location in the tool output.
type ResolvedAddress struct {
	Address          string  `json:"address"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
	County           string  `json:"county"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Provider         string  `json:"provider,omitempty"`
}

// Output is the resolve_address tool's result schema.
type Output struct {
	// Found is false when the text contained no resolvable address.
	Found bool `json:"found"`

	// Annotated is the input text with map-link markup. Empty when Found
	// is false.
	Annotated string `json:"annotated,omitempty"`

	// Resolutions lists every resolved address.
	Resolutions []ResolvedAddress `json:"resolutions,omitempty"`
}

// Server wraps an MCP server around the pipeline.
type Server struct {
	srv    *mcpsdk.Server
	logger *slog.Logger
}

// New creates the tool server.
func New(pipe *pipeline.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	srv := mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "dispatchmap", Version: "1.0.0"},
		nil,
	)

	s := &Server{srv: srv, logger: logger}
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "resolve_address",
		Description: "Resolve spoken or written address text to map coordinates within the monitored jurisdictions",
	}, s.resolveAddress(pipe))

	return s
}

// resolveAddress builds the tool handler. The pipeline never errors; an
// unresolvable input is a valid answer with Found false.
func (s *Server) resolveAddress(pipe *pipeline.Pipeline) func(context.Context, *mcpsdk.CallToolRequest, Input) (*mcpsdk.CallToolResult, Output, error) {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in Input) (*mcpsdk.CallToolResult, Output, error) {
		s.logger.Debug("mcp: resolve_address", "talkgroup", in.Talkgroup)

		result := pipe.Process(ctx, in.Text, in.Talkgroup)
		if result == nil {
			return nil, Output{Found: false}, nil
		}

		out := Output{
			Found:       true,
			Annotated:   result.Annotated,
			Resolutions: make([]ResolvedAddress, 0, len(result.Resolutions)),
		}
		for _, r := range result.Resolutions {
			out.Resolutions = append(out.Resolutions, ResolvedAddress{
				Address:          r.Address,
				FormattedAddress: r.FormattedAddress,
				County:           r.County,
				Latitude:         r.Latitude,
				Longitude:        r.Longitude,
				Provider:         r.Provider,
			})
		}
		return nil, out, nil
	}
}

// ServeStdio serves the tool over stdin/stdout until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler returns the streamable-HTTP handler for mounting on a mux.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return s.srv
	}, nil)
}
