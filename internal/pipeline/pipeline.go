// Package pipeline sequences transcript address resolution end to end:
// locale lookup, LLM extraction, deterministic normalization, geocoding,
// jurisdiction validation, and map-link annotation.
//
// Process is the sole entry point consumed by the call feed, the Discord
// bot, and the MCP tool. It never returns an error: every failure mode
// along the way degrades to "no result for this transcript". Runs are
// independent and share only read-only tables, so any number may be in
// flight concurrently; outbound calls to the extraction and geocoding
// backends are capped by per-backend semaphores so upstream rate limits are
// respected, with excess work queueing on the semaphore rather than
// failing.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dispatchmap/dispatchmap/internal/extract"
	"github.com/dispatchmap/dispatchmap/internal/hyperlink"
	"github.com/dispatchmap/dispatchmap/internal/jurisdiction"
	"github.com/dispatchmap/dispatchmap/internal/locale"
	"github.com/dispatchmap/dispatchmap/internal/normalize"
	"github.com/dispatchmap/dispatchmap/internal/observe"
	"github.com/dispatchmap/dispatchmap/internal/rules"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

// Resolution is one address that survived the whole pipeline. Its County is
// always a member of the configured target-jurisdiction set.
type Resolution struct {
	// Address is the normalized address that was geocoded.
	Address string

	Latitude  float64
	Longitude float64

	// FormattedAddress is the geocoder's canonical rendering.
	FormattedAddress string

	// County is the configured display form of the matched jurisdiction.
	County string

	// Specificity is the accepted candidate's precision class.
	Specificity geocoder.Specificity

	// Provider names the backend that produced the coordinates.
	Provider string
}

// Result is the outcome of one successful pipeline run.
type Result struct {
	// Resolutions holds every validated address, in extraction order.
	Resolutions []Resolution

	// Annotated is the transcript with map-link markup spliced in for each
	// resolution whose address occurs in the text.
	Annotated string
}

// Config bounds the pipeline's outbound traffic.
type Config struct {
	// ExtractConcurrency caps simultaneous extraction-backend calls across
	// all runs. Default 4.
	ExtractConcurrency int64

	// GeocodeConcurrency caps simultaneous geocoding-backend calls across
	// all runs. Default 8. Set to 1 for the public Nominatim instance.
	GeocodeConcurrency int64

	// ExtractTimeout bounds one extraction call, liveness probe included.
	// Default 30s.
	ExtractTimeout time.Duration

	// GeocodeTimeout bounds one geocoding call. Default 10s.
	GeocodeTimeout time.Duration

	// CandidateLimit is the maximum geocode candidates requested per query.
	// Default 5.
	CandidateLimit int

	// CountryCode restricts geocoding to one country, e.g. "us".
	CountryCode string
}

func (c *Config) applyDefaults() {
	if c.ExtractConcurrency <= 0 {
		c.ExtractConcurrency = 4
	}
	if c.GeocodeConcurrency <= 0 {
		c.GeocodeConcurrency = 8
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 30 * time.Second
	}
	if c.GeocodeTimeout <= 0 {
		c.GeocodeTimeout = 10 * time.Second
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 5
	}
}

// Pipeline resolves transcripts. Safe for concurrent use; all mutable state
// is per-run.
type Pipeline struct {
	// mu guards locales, ruleTable, and validator, which are swapped on
	// config reload. Everything else is immutable after New.
	mu        sync.RWMutex
	locales   *locale.Resolver
	ruleTable *rules.Table
	validator *jurisdiction.Validator

	extractor  *extract.Extractor
	normalizer *normalize.Normalizer
	geocoder   geocoder.Provider
	linker     *hyperlink.Linker

	extractSem *semaphore.Weighted
	geocodeSem *semaphore.Weighted

	cfg     Config
	metrics *observe.Metrics
	logger  *slog.Logger
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New assembles a Pipeline from its stages.
func New(
	locales *locale.Resolver,
	ruleTable *rules.Table,
	extractor *extract.Extractor,
	normalizer *normalize.Normalizer,
	geo geocoder.Provider,
	validator *jurisdiction.Validator,
	linker *hyperlink.Linker,
	cfg Config,
	opts ...Option,
) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		locales:    locales,
		ruleTable:  ruleTable,
		extractor:  extractor,
		normalizer: normalizer,
		geocoder:   geo,
		validator:  validator,
		linker:     linker,
		extractSem: semaphore.NewWeighted(cfg.ExtractConcurrency),
		geocodeSem: semaphore.NewWeighted(cfg.GeocodeConcurrency),
		cfg:        cfg,
		metrics:    observe.DefaultMetrics(),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Reconfigure swaps the talkgroup locale map, the rewrite-rule table, and the
// jurisdiction validator, typically after a config reload. In-flight runs keep
// the snapshot they started with.
func (p *Pipeline) Reconfigure(locales *locale.Resolver, ruleTable *rules.Table, validator *jurisdiction.Validator) {
	p.mu.Lock()
	p.locales = locales
	p.ruleTable = ruleTable
	p.validator = validator
	p.mu.Unlock()
}

// Process resolves one transcript. A nil return means no address could be
// resolved — a normal outcome, not an error. Abandoning ctx at any point is
// safe.
func (p *Pipeline) Process(ctx context.Context, transcript, groupID string) *Result {
	start := time.Now()
	p.metrics.ActiveRuns.Add(ctx, 1)
	defer func() {
		p.metrics.ActiveRuns.Add(ctx, -1)
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()

	// A dead extractor fails every run; probing first avoids burning
	// normalization and geocoding work on transcripts that cannot resolve.
	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	err := p.extractor.Ping(pingCtx)
	cancel()
	if err != nil {
		p.logger.Warn("extraction backend down, skipping run",
			"group_id", groupID, "error", err)
		p.metrics.RecordCallProcessed(ctx, "extractor_down")
		return nil
	}

	p.mu.RLock()
	locales, ruleTable, validator := p.locales, p.ruleTable, p.validator
	p.mu.RUnlock()

	hint := locales.Resolve(groupID)

	raw, ok := p.runExtraction(ctx, transcript, hint)
	if !ok {
		p.metrics.RecordCallProcessed(ctx, "no_address")
		return nil
	}

	resolutions := p.resolveCandidates(ctx, raw, hint, ruleTable, validator)
	if len(resolutions) == 0 {
		p.metrics.RecordCallProcessed(ctx, "rejected")
		return nil
	}

	// Spans are matched against the untouched transcript and spliced in one
	// pass; annotating incrementally would let one resolution's address
	// match inside another's already-wrapped span.
	targets := make([]hyperlink.Target, 0, len(resolutions))
	for _, r := range resolutions {
		targets = append(targets, hyperlink.Target{
			Address: r.Address,
			Coords:  &hyperlink.Coordinates{Latitude: r.Latitude, Longitude: r.Longitude},
		})
	}
	annotated := p.linker.AnnotateAll(transcript, targets)

	p.metrics.RecordCallProcessed(ctx, "resolved")
	return &Result{Resolutions: resolutions, Annotated: annotated}
}

// runExtraction performs the single LLM call under the extraction semaphore.
func (p *Pipeline) runExtraction(ctx context.Context, transcript, hint string) (string, bool) {
	if err := p.extractSem.Acquire(ctx, 1); err != nil {
		return "", false
	}
	defer p.extractSem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractTimeout)
	defer cancel()

	start := time.Now()
	res := p.extractor.Extract(callCtx, transcript, hint)
	p.metrics.ExtractionDuration.Record(ctx, time.Since(start).Seconds())

	return res.Raw, res.Found
}

// resolveCandidates normalizes, geocodes, and validates each
// semicolon-separated candidate concurrently. Results keep extraction
// order. A failing candidate never blocks its siblings.
func (p *Pipeline) resolveCandidates(ctx context.Context, raw, hint string, ruleTable *rules.Table, validator *jurisdiction.Validator) []Resolution {
	candidates := splitCandidates(raw)
	ruleSet := ruleTable.ForLocale(hint)

	results := make([]*Resolution, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		g.Go(func() error {
			results[i] = p.resolveOne(gctx, candidate, ruleSet, hint, validator)
			return nil
		})
	}
	g.Wait() // goroutines never return errors

	resolutions := make([]Resolution, 0, len(candidates))
	for _, r := range results {
		if r != nil {
			resolutions = append(resolutions, *r)
		}
	}
	return resolutions
}

// resolveOne runs one candidate through normalize → geocode → validate.
// A nil return means the candidate was rejected; the reason has already
// been logged and counted.
func (p *Pipeline) resolveOne(ctx context.Context, rawCandidate string, ruleSet *rules.RuleSet, hint string, validator *jurisdiction.Validator) *Resolution {
	address := p.normalizer.Normalize(rawCandidate, ruleSet)
	if address == "" {
		p.metrics.RecordCandidateRejection(ctx, "not_an_address")
		return nil
	}

	candidates, err := p.runGeocode(ctx, address, hint)
	if err != nil {
		p.logger.Warn("geocoding backend unavailable",
			"address", address, "error", err)
		p.metrics.RecordProviderError(ctx, p.geocoder.Name(), "geocoder")
		p.metrics.RecordCandidateRejection(ctx, "upstream_unavailable")
		return nil
	}
	if len(candidates) == 0 {
		p.logger.Debug("no mappable geocode candidates", "address", address)
		p.metrics.RecordCandidateRejection(ctx, "low_specificity")
		return nil
	}

	// Candidates arrive most relevant first; the first one inside the
	// target area wins.
	for _, c := range candidates {
		county, reason := validator.Validate(c)
		if reason != jurisdiction.ReasonAccepted {
			p.metrics.RecordCandidateRejection(ctx, string(reason))
			continue
		}
		return &Resolution{
			Address:          address,
			Latitude:         c.Latitude,
			Longitude:        c.Longitude,
			FormattedAddress: c.FormattedAddress,
			County:           county,
			Specificity:      c.Specificity,
			Provider:         c.Provider,
		}
	}
	return nil
}

// runGeocode performs one geocoding call under the geocoding semaphore.
func (p *Pipeline) runGeocode(ctx context.Context, address, hint string) ([]geocoder.Candidate, error) {
	if err := p.geocodeSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.geocodeSem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GeocodeTimeout)
	defer cancel()

	start := time.Now()
	candidates, err := p.geocoder.Geocode(callCtx, geocoder.Query{
		Address:     address,
		CountyHint:  hint,
		CountryCode: p.cfg.CountryCode,
		Limit:       p.cfg.CandidateLimit,
	})
	p.metrics.GeocodeDuration.Record(ctx, time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordProviderRequest(ctx, p.geocoder.Name(), "geocoder", status)
	return candidates, err
}

// splitCandidates splits a raw extraction on semicolons and drops empties.
func splitCandidates(raw string) []string {
	parts := strings.Split(raw, ";")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
