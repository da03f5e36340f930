// Package store persists processed calls and their resolved addresses in
// PostgreSQL.
//
// The archive serves two consumers: the Discord /history command, which
// needs the most recent calls per talkgroup, and offline rule tuning, which
// needs full-text search over raw transcripts to find recurring STT
// mistakes. The schema stays flat on purpose: one row per call, one row per
// resolved address.
//
// Usage:
//
//	s, err := store.New(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.SaveCall(ctx, call, resolutions)
//	recent, _ := s.RecentCalls(ctx, "tg-100", 20)
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Call is one archived radio call.
type Call struct {
	// ID is assigned at ingest time and carried through the pipeline.
	ID uuid.UUID

	// Talkgroup is the radio channel the call arrived on.
	Talkgroup string

	// Transcript is the raw STT output.
	Transcript string

	// Annotated is the transcript with map-link markup. Empty when the
	// call produced no resolutions.
	Annotated string

	// Outcome records how the pipeline run ended: "resolved" when at least
	// one address survived, "unresolved" otherwise.
	Outcome string

	// ReceivedAt is when the call audio arrived.
	ReceivedAt time.Time
}

// Resolution is one resolved address belonging to a call.
type Resolution struct {
	Address          string
	FormattedAddress string
	County           string
	Latitude         float64
	Longitude        float64
	Specificity      string
	Provider         string
}

// SearchOpts narrows a transcript search. All non-zero fields are applied
// as AND conditions.
type SearchOpts struct {
	// Talkgroup restricts the search to one channel.
	Talkgroup string

	// After filters calls received after this instant (exclusive).
	After time.Time

	// Before filters calls received before this instant (exclusive).
	Before time.Time

	// Limit caps the number of results. 0 means the default of 50.
	Limit int
}

// Store is the PostgreSQL-backed call archive. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the PostgreSQL database at dsn and
// runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Pool exposes the underlying connection pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveCall writes a call and its resolutions in one transaction, so the
// /history command never observes a call without its addresses.
func (s *Store) SaveCall(ctx context.Context, call Call, resolutions []Resolution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin save call: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertCall = `
		INSERT INTO calls (id, talkgroup, transcript, annotated, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := tx.Exec(ctx, insertCall,
		call.ID,
		call.Talkgroup,
		call.Transcript,
		call.Annotated,
		call.Outcome,
		call.ReceivedAt,
	); err != nil {
		return fmt.Errorf("store: insert call %s: %w", call.ID, err)
	}

	const insertResolution = `
		INSERT INTO resolutions
		    (call_id, address, formatted_address, county, latitude, longitude, specificity, provider)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, r := range resolutions {
		if _, err := tx.Exec(ctx, insertResolution,
			call.ID,
			r.Address,
			r.FormattedAddress,
			r.County,
			r.Latitude,
			r.Longitude,
			r.Specificity,
			r.Provider,
		); err != nil {
			return fmt.Errorf("store: insert resolution for call %s: %w", call.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit save call: %w", err)
	}
	return nil
}

// RecentCalls returns the newest calls on a talkgroup, most recent first.
// An empty talkgroup spans all channels.
func (s *Store) RecentCalls(ctx context.Context, talkgroup string, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		q    string
		args []any
	)
	if talkgroup == "" {
		q = `
			SELECT id, talkgroup, transcript, annotated, outcome, received_at
			FROM   calls
			ORDER  BY received_at DESC
			LIMIT  $1`
		args = []any{limit}
	} else {
		q = `
			SELECT id, talkgroup, transcript, annotated, outcome, received_at
			FROM   calls
			WHERE  talkgroup = $1
			ORDER  BY received_at DESC
			LIMIT  $2`
		args = []any{talkgroup, limit}
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent calls: %w", err)
	}
	return collectCalls(rows)
}

// SearchCalls performs a PostgreSQL full-text search over raw transcripts
// and applies optional filters from opts. The query is passed to
// plainto_tsquery so no special operator syntax is required.
func (s *Store) SearchCalls(ctx context.Context, query string, opts SearchOpts) ([]Call, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', transcript) @@ plainto_tsquery('english', $1)",
	}
	if opts.Talkgroup != "" {
		conditions = append(conditions, "talkgroup = "+next(opts.Talkgroup))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "received_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "received_at < "+next(opts.Before))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	q := "SELECT id, talkgroup, transcript, annotated, outcome, received_at\n" +
		"FROM   calls\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY received_at DESC\n" +
		fmt.Sprintf("LIMIT  $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: search calls: %w", err)
	}
	return collectCalls(rows)
}

// ResolutionsForCall returns every resolved address archived for a call.
func (s *Store) ResolutionsForCall(ctx context.Context, callID uuid.UUID) ([]Resolution, error) {
	const q = `
		SELECT address, formatted_address, county, latitude, longitude, specificity, provider
		FROM   resolutions
		WHERE  call_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("store: resolutions for call %s: %w", callID, err)
	}

	resolutions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Resolution, error) {
		var r Resolution
		err := row.Scan(
			&r.Address,
			&r.FormattedAddress,
			&r.County,
			&r.Latitude,
			&r.Longitude,
			&r.Specificity,
			&r.Provider,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan resolutions: %w", err)
	}
	if resolutions == nil {
		resolutions = []Resolution{}
	}
	return resolutions, nil
}

// collectCalls scans pgx rows into a slice of Call values.
func collectCalls(rows pgx.Rows) ([]Call, error) {
	calls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Call, error) {
		var c Call
		err := row.Scan(
			&c.ID,
			&c.Talkgroup,
			&c.Transcript,
			&c.Annotated,
			&c.Outcome,
			&c.ReceivedAt,
		)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan calls: %w", err)
	}
	if calls == nil {
		calls = []Call{}
	}
	return calls, nil
}
