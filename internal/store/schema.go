package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id          UUID         PRIMARY KEY,
    talkgroup   TEXT         NOT NULL,
    transcript  TEXT         NOT NULL,
    annotated   TEXT         NOT NULL DEFAULT '',
    outcome     TEXT         NOT NULL,
    received_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calls_talkgroup
    ON calls (talkgroup);

CREATE INDEX IF NOT EXISTS idx_calls_received_at
    ON calls (received_at);

CREATE INDEX IF NOT EXISTS idx_calls_talkgroup_received
    ON calls (talkgroup, received_at);

CREATE INDEX IF NOT EXISTS idx_calls_fts
    ON calls USING GIN (to_tsvector('english', transcript));
`

const ddlResolutions = `
CREATE TABLE IF NOT EXISTS resolutions (
    id                BIGSERIAL         PRIMARY KEY,
    call_id           UUID              NOT NULL REFERENCES calls (id) ON DELETE CASCADE,
    address           TEXT              NOT NULL,
    formatted_address TEXT              NOT NULL DEFAULT '',
    county            TEXT              NOT NULL,
    latitude          DOUBLE PRECISION  NOT NULL,
    longitude         DOUBLE PRECISION  NOT NULL,
    specificity       TEXT              NOT NULL DEFAULT '',
    provider          TEXT              NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_resolutions_call_id
    ON resolutions (call_id);

CREATE INDEX IF NOT EXISTS idx_resolutions_county
    ON resolutions (county);
`

// Migrate creates or ensures all required database tables and indexes exist.
// It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS)
// and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCalls, ddlResolutions} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store migrate: %w", err)
		}
	}
	return nil
}
