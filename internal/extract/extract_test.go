package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm/mock"
)

var jurisdictions = []string{"Hartford County", "Tolland County"}

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		response  string
		wantFound bool
		wantRaw   string
	}{
		{
			name:      "plain address",
			response:  "7908 Cindy Lane, Anytown, ST",
			wantFound: true,
			wantRaw:   "7908 Cindy Lane, Anytown, ST",
		},
		{
			name:      "multi-candidate address",
			response:  "100 Main St, Town, ST; Main St & Oak Ave, Town, ST",
			wantFound: true,
			wantRaw:   "100 Main St, Town, ST; Main St & Oak Ave, Town, ST",
		},
		{
			name:      "overlong segments bounded per candidate",
			response:  "100 Main St, Town, ST, near the mill; Main St & Oak Ave, Town, ST",
			wantFound: true,
			wantRaw:   "100 Main St, Town, ST; Main St & Oak Ave, Town, ST",
		},
		{
			name:     "sentinel",
			response: "No address found",
		},
		{
			name:     "sentinel with trailing period",
			response: "No address found.",
		},
		{
			name:     "sentinel mixed case",
			response: "NO ADDRESS FOUND",
		},
		{
			name:     "sentinel lowercase with period",
			response: "no address found.",
		},
		{
			name:      "sentinel embedded in an address is not a sentinel",
			response:  "100 No Address Found Rd, Town, ST",
			wantFound: true,
			wantRaw:   "100 No Address Found Rd, Town, ST",
		},
		{
			name:      "parenthetical aside stripped",
			response:  "100 Main St (approximate), Anytown, ST",
			wantFound: true,
			wantRaw:   "100 Main St, Anytown, ST",
		},
		{
			name:      "note line dropped",
			response:  "100 Main St, Anytown, ST\nNote: the caller was unsure of the town.",
			wantFound: true,
			wantRaw:   "100 Main St, Anytown, ST",
		},
		{
			name:      "hallucinated continuation truncated to first line",
			response:  "100 Main St, Anytown, ST\nThe address appears near the center of town on the map.",
			wantFound: true,
			wantRaw:   "100 Main St, Anytown, ST",
		},
		{
			name:      "overlong comma run truncated to three segments",
			response:  "100 Main St, Anytown, ST, which is close to the river, near the old mill",
			wantFound: true,
			wantRaw:   "100 Main St, Anytown, ST",
		},
		{
			name:     "empty response",
			response: "   \n  ",
		},
		{
			name:     "only a note line",
			response: "Note: nothing address-like in this transcript.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := &mock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: tt.response},
			}
			e := New(p, jurisdictions, "ST")

			got := e.Extract(context.Background(), "Engine 5 respond", "Anytown")
			if got.Found != tt.wantFound {
				t.Fatalf("Found = %v, want %v (raw %q)", got.Found, tt.wantFound, got.Raw)
			}
			if got.Raw != tt.wantRaw {
				t.Errorf("Raw = %q, want %q", got.Raw, tt.wantRaw)
			}
		})
	}
}

func TestExtract_BackendFailureReturnsNotFound(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("connection refused")}
	e := New(p, jurisdictions, "ST")

	got := e.Extract(context.Background(), "Engine 5 respond to 100 Main St", "Anytown")
	if got.Found {
		t.Errorf("Found = true, want false on backend failure")
	}
}

func TestExtract_PromptContents(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "No address found"},
	}
	e := New(p, jurisdictions, "ST")
	e.Extract(context.Background(), "radio check", "Anytown")

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("Complete calls = %d, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", req.Temperature)
	}
	prompt := req.Messages[0].Content
	for _, want := range []string{
		"Anytown",
		"Hartford County or Tolland County",
		"block of",
		"& <cross street>",
		"No address found",
		"radio check",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	t.Run("no status url is a no-op", func(t *testing.T) {
		t.Parallel()
		e := New(&mock.Provider{}, jurisdictions, "ST")
		if err := e.Ping(context.Background()); err != nil {
			t.Errorf("Ping = %v, want nil", err)
		}
	})

	t.Run("healthy endpoint", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		e := New(&mock.Provider{}, jurisdictions, "ST", WithStatusURL(srv.URL))
		if err := e.Ping(context.Background()); err != nil {
			t.Errorf("Ping = %v, want nil", err)
		}
	})

	t.Run("unhealthy endpoint", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		e := New(&mock.Provider{}, jurisdictions, "ST", WithStatusURL(srv.URL))
		if err := e.Ping(context.Background()); err == nil {
			t.Error("Ping = nil, want error")
		}
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		t.Parallel()
		e := New(&mock.Provider{}, jurisdictions, "ST", WithStatusURL("http://127.0.0.1:1"))
		if err := e.Ping(context.Background()); err == nil {
			t.Error("Ping = nil, want error")
		}
	})
}
