// Package app wires all dispatchmap subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithArchive,
// WithNotifier). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dispatchmap/dispatchmap/internal/config"
	"github.com/dispatchmap/dispatchmap/internal/discord"
	"github.com/dispatchmap/dispatchmap/internal/extract"
	"github.com/dispatchmap/dispatchmap/internal/health"
	"github.com/dispatchmap/dispatchmap/internal/hyperlink"
	"github.com/dispatchmap/dispatchmap/internal/ingest"
	"github.com/dispatchmap/dispatchmap/internal/jurisdiction"
	"github.com/dispatchmap/dispatchmap/internal/locale"
	"github.com/dispatchmap/dispatchmap/internal/mcptool"
	"github.com/dispatchmap/dispatchmap/internal/normalize"
	"github.com/dispatchmap/dispatchmap/internal/observe"
	"github.com/dispatchmap/dispatchmap/internal/pipeline"
	"github.com/dispatchmap/dispatchmap/internal/rules"
	"github.com/dispatchmap/dispatchmap/internal/store"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
)

// defaultCallWorkers bounds concurrent feed-call processing when
// ingest.workers is not set.
const defaultCallWorkers = 4

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry;
// Geocoder may already be wrapped in a fallback chain.
type Providers struct {
	LLM      llm.Provider
	STT      stt.Provider
	Geocoder geocoder.Provider
}

// App owns all subsystem lifetimes and orchestrates the dispatch pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics   *observe.Metrics
	extractor *extract.Extractor
	pipe      *pipeline.Pipeline
	archive   *store.Store
	feed      *ingest.Client
	notifier  *discord.Notifier
	mcp       *mcptool.Server
	server    *http.Server
	mcpServer *http.Server

	// callSem bounds concurrently processed feed calls; calls tracks the
	// in-flight ones so Shutdown can wait for them.
	callSem *semaphore.Weighted
	calls   sync.WaitGroup

	// logLevel, when set, is adjusted on config reload.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchive injects a call archive instead of connecting from config.
func WithArchive(s *store.Store) Option {
	return func(a *App) { a.archive = s }
}

// WithNotifier injects the Discord notifier used for resolved calls.
func WithNotifier(n *discord.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithLogLevelVar wires the level variable behind the process logger so
// config reloads can change verbosity without a restart.
func WithLogLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		metrics:   observe.DefaultMetrics(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	if err := a.initIngest(); err != nil {
		return nil, fmt.Errorf("app: init ingest: %w", err)
	}
	a.initMCP()
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initArchive connects the PostgreSQL call archive when a DSN is configured.
// Running without one is supported; calls are processed but not persisted.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil || a.cfg.Storage.PostgresDSN == "" {
		return nil
	}

	archive, err := store.New(ctx, a.cfg.Storage.PostgresDSN)
	if err != nil {
		return err
	}
	a.archive = archive
	a.closers = append(a.closers, func() error {
		archive.Close()
		return nil
	})
	slog.Info("call archive connected")
	return nil
}

// initPipeline assembles the transcript resolution pipeline from config.
func (a *App) initPipeline() error {
	if a.providers.LLM == nil {
		return errors.New("an llm provider is required for address extraction")
	}
	if a.providers.Geocoder == nil {
		return errors.New("a geocoder provider is required")
	}

	pc := a.cfg.Pipeline

	table, err := rules.NewTable(a.cfg.Locales.Rules, slog.Default())
	if err != nil {
		return fmt.Errorf("compile rewrite rules: %w", err)
	}

	var extractOpts []extract.Option
	if pc.ExtractorStatusURL != "" {
		extractOpts = append(extractOpts, extract.WithStatusURL(pc.ExtractorStatusURL))
	}
	a.extractor = extract.New(a.providers.LLM, pc.TargetJurisdictions, pc.DefaultState, extractOpts...)

	style := hyperlink.StyleCoordinates
	if pc.LinkStyle == config.LinkStyleAddress {
		style = hyperlink.StyleAddress
	}

	a.pipe = pipeline.New(
		locale.NewResolver(a.cfg.Locales.Talkgroups, pc.TargetJurisdictions),
		table,
		a.extractor,
		normalize.New(pc.DefaultState),
		a.providers.Geocoder,
		jurisdiction.New(pc.TargetJurisdictions, slog.Default()),
		hyperlink.New(style),
		pipeline.Config{
			ExtractConcurrency: pc.ExtractConcurrency,
			GeocodeConcurrency: pc.GeocodeConcurrency,
			ExtractTimeout:     pc.ExtractTimeout.Std(),
			GeocodeTimeout:     pc.GeocodeTimeout.Std(),
			CandidateLimit:     pc.CandidateLimit,
			CountryCode:        pc.CountryCode,
		},
		pipeline.WithMetrics(a.metrics),
	)
	return nil
}

// initIngest creates the radio feed client when ingest is enabled.
func (a *App) initIngest() error {
	if !a.cfg.Ingest.Enabled {
		return nil
	}
	if a.providers.STT == nil {
		return errors.New("ingest requires an stt provider")
	}

	workers := a.cfg.Ingest.Workers
	if workers <= 0 {
		workers = defaultCallWorkers
	}
	a.callSem = semaphore.NewWeighted(workers)

	var opts []ingest.Option
	if a.cfg.Ingest.SampleRate > 0 {
		opts = append(opts, ingest.WithSampleRate(a.cfg.Ingest.SampleRate))
	}
	a.feed = ingest.New(a.cfg.Ingest.URL, a.cfg.Ingest.APIKey, a.cfg.Ingest.Talkgroups, a.dispatchCall, opts...)
	return nil
}

// initMCP creates the MCP tool server when enabled. With a listen address it
// serves streamable HTTP; without one it runs on stdio.
func (a *App) initMCP() {
	if !a.cfg.MCP.Enabled {
		return
	}
	a.mcp = mcptool.New(a.pipe, slog.Default())
	if addr := a.cfg.MCP.ListenAddr; addr != "" {
		a.mcpServer = &http.Server{Addr: addr, Handler: a.mcp.Handler()}
	}
}

// initHTTP builds the operational HTTP server: health probes and the
// Prometheus scrape endpoint.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{health.Extractor(a.extractor)}
	if a.archive != nil {
		checkers = append(checkers, health.Postgres(a.archive.Pool()))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(mux),
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts all configured subsystems and blocks until ctx is cancelled or a
// subsystem fails. A clean shutdown returns context.Canceled.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error { return a.serve(a.server, a.cfg.Server.TLS) })
		g.Go(func() error { return shutdownOnDone(gctx, a.server) })
		slog.Info("http server listening", "addr", a.server.Addr)
	}

	if a.mcpServer != nil {
		g.Go(func() error { return a.serve(a.mcpServer, nil) })
		g.Go(func() error { return shutdownOnDone(gctx, a.mcpServer) })
		slog.Info("mcp server listening", "addr", a.mcpServer.Addr)
	} else if a.mcp != nil {
		g.Go(func() error { return a.mcp.ServeStdio(gctx) })
		slog.Info("mcp server on stdio")
	}

	if a.feed != nil {
		g.Go(func() error { return a.feed.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	slog.Info("dispatchmap running",
		"ingest", a.feed != nil,
		"archive", a.archive != nil,
		"mcp", a.mcp != nil)
	return g.Wait()
}

// serve runs one HTTP server, optionally with TLS, and treats the listener
// closing during shutdown as a clean exit.
func (a *App) serve(srv *http.Server, tls *config.TLSConfig) error {
	var err error
	if tls != nil {
		err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// shutdownOnDone gracefully stops srv once ctx is cancelled.
func shutdownOnDone(ctx context.Context, srv *http.Server) error {
	<-ctx.Done()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shCtx)
}

// ─── Call handling ───────────────────────────────────────────────────────────

// dispatchCall runs HandleCall on its own goroutine so one slow pipeline run
// never stalls the feed read loop. In-flight calls are bounded by
// ingest.workers; when all workers are busy the feed read blocks here until
// one frees up.
func (a *App) dispatchCall(ctx context.Context, call ingest.Call) {
	if err := a.callSem.Acquire(ctx, 1); err != nil {
		return
	}
	a.calls.Add(1)
	go func() {
		defer a.calls.Done()
		defer a.callSem.Release(1)
		a.HandleCall(ctx, call)
	}()
}

// HandleCall processes one radio call end to end: transcription, address
// resolution, archiving, and notification. It never fails the feed; every
// error is logged and the call is dropped.
func (a *App) HandleCall(ctx context.Context, call ingest.Call) {
	start := time.Now()
	tr, err := a.providers.STT.Transcribe(ctx, call.Audio)
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.metrics.RecordProviderError(ctx, a.cfg.Providers.STT.Name, "stt")
		slog.Warn("transcription failed",
			"call_id", call.ID, "talkgroup", call.Talkgroup, "error", err)
		return
	}
	if strings.TrimSpace(tr.Text) == "" {
		slog.Debug("empty transcript, skipping",
			"call_id", call.ID, "talkgroup", call.Talkgroup)
		return
	}

	result := a.pipe.Process(ctx, tr.Text, call.Talkgroup)

	record := store.Call{
		ID:         call.ID,
		Talkgroup:  call.Talkgroup,
		Transcript: tr.Text,
		Outcome:    "unresolved",
		ReceivedAt: call.ReceivedAt,
	}
	var resolutions []store.Resolution
	if result != nil {
		record.Annotated = result.Annotated
		record.Outcome = "resolved"
		for _, r := range result.Resolutions {
			resolutions = append(resolutions, store.Resolution{
				Address:          r.Address,
				FormattedAddress: r.FormattedAddress,
				County:           r.County,
				Latitude:         r.Latitude,
				Longitude:        r.Longitude,
				Specificity:      string(r.Specificity),
				Provider:         r.Provider,
			})
		}
	}

	if a.archive != nil {
		if err := a.archive.SaveCall(ctx, record, resolutions); err != nil {
			slog.Warn("archiving call failed", "call_id", call.ID, "error", err)
		}
	}

	if a.notifier != nil {
		a.notifier.Notify(call.Talkgroup, tr.Text, result)
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig reacts to a config file change. Talkgroup hints, rewrite rules,
// and target jurisdictions are swapped into the running pipeline; the log
// level is adjusted in place. Provider and listener changes need a restart.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.TalkgroupsChanged || d.RulesChanged || d.JurisdictionsChanged {
		pc := new.Pipeline
		table, err := rules.NewTable(new.Locales.Rules, slog.Default())
		if err != nil {
			slog.Error("rejecting reloaded rewrite rules", "err", err)
			return
		}
		a.pipe.Reconfigure(
			locale.NewResolver(new.Locales.Talkgroups, pc.TargetJurisdictions),
			table,
			jurisdiction.New(pc.TargetJurisdictions, slog.Default()),
		)
		slog.Info("pipeline routing reconfigured",
			"talkgroups", d.TalkgroupsChanged,
			"rules", d.RulesChanged,
			"jurisdictions", d.JurisdictionsChanged)
	}

	if d.BlocklistChanged {
		slog.Warn("geocoder blocklist changed — restart required to apply")
	}
}

// Pipeline exposes the resolution pipeline for surfaces built outside the
// app, such as Discord slash commands.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipe }

// Archive exposes the call archive, or nil when storage is not configured.
func (a *App) Archive() *store.Store { return a.archive }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// In-flight calls see a cancelled context by now and wind down
		// quickly; let them finish before closing their dependencies.
		a.calls.Wait()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
