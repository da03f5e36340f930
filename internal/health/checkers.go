package health

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dispatchmap/dispatchmap/internal/extract"
)

// Extractor probes the extraction backend's status endpoint. Pipeline runs
// short-circuit on the same probe, so a failing check here means incoming
// transcripts are being skipped.
func Extractor(e *extract.Extractor) Checker {
	return Checker{
		Name:  "extractor",
		Check: e.Ping,
	}
}

// Postgres probes the call archive connection pool.
func Postgres(pool *pgxpool.Pool) Checker {
	return Checker{
		Name:  "archive",
		Check: pool.Ping,
	}
}

// HTTPEndpoint probes an arbitrary status URL, passing on any 2xx answer.
// Used for backends that expose a health endpoint of their own, like a local
// whisper-server or a self-hosted Nominatim instance.
func HTTPEndpoint(name, url string, client *http.Client) Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("health: build request for %q: %w", url, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("health: probe %q: %w", url, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("health: %q answered status %d", url, resp.StatusCode)
			}
			return nil
		},
	}
}
