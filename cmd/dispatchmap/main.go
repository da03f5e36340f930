// Command dispatchmap is the main entry point for the dispatchmap server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/dispatchmap/dispatchmap/internal/app"
	"github.com/dispatchmap/dispatchmap/internal/config"
	discordbot "github.com/dispatchmap/dispatchmap/internal/discord"
	"github.com/dispatchmap/dispatchmap/internal/discord/commands"
	"github.com/dispatchmap/dispatchmap/internal/observe"
	"github.com/dispatchmap/dispatchmap/internal/resilience"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder/geocodio"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder/googlemaps"
	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder/nominatim"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm/anyllm"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt/deepgram"
	openaistt "github.com/dispatchmap/dispatchmap/pkg/provider/stt/openai"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt/whisper"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dispatchmap: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dispatchmap: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust verbosity.
	levelVar := new(slog.LevelVar)
	levelVar.Set(cfg.Server.LogLevel.Level())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("dispatchmap starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dispatchmap",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Providers.Geocoder.Blocklist)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Discord bot (optional) ────────────────────────────────────────────────
	var bot *discordbot.Bot
	if cfg.Discord.Enabled {
		bot, err = discordbot.New(ctx, discordbot.Config{
			Token:    cfg.Discord.Token,
			Channels: cfg.Discord.Channels,
		}, logger)
		if err != nil {
			slog.Error("failed to create Discord bot", "err", err)
			return 1
		}
		slog.Info("discord bot connected", "channels", len(cfg.Discord.Channels))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	appOpts := []app.Option{app.WithLogLevelVar(levelVar)}
	if bot != nil {
		appOpts = append(appOpts, app.WithNotifier(bot.Notifier()))
	}

	application, err := app.New(ctx, cfg, providers, appOpts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// Register slash commands and start the bot interaction loop.
	if bot != nil {
		commands.NewLocateCommands(bot.Router(), application.Pipeline())
		var archive commands.CallArchive
		if s := application.Archive(); s != nil {
			archive = s
		}
		commands.NewHistoryCommands(bot.Router(), archive)

		go func() {
			if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("discord bot error", "err", err)
			}
		}()
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if bot != nil {
		if err := bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// builtinProviders maps provider category names to the implementations that
// ship with dispatchmap. Used for startup logging.
var builtinProviders = map[string][]string{
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {"deepgram", "whisper", "whisper-native", "openai"},
	"geocoder": {"google_maps", "geocodio", "nominatim"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. Geocoder factories share
// the configured blocklist.
func registerBuiltinProviders(reg *config.Registry, blocklist []string) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []openaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, openaistt.WithLanguage(lang))
		}
		return openaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Geocoder ──────────────────────────────────────────────────────────────

	reg.RegisterGeocoder("google_maps", func(entry config.ProviderEntry) (geocoder.Provider, error) {
		var opts []googlemaps.Option
		if entry.BaseURL != "" {
			opts = append(opts, googlemaps.WithEndpoint(entry.BaseURL))
		}
		if len(blocklist) > 0 {
			opts = append(opts, googlemaps.WithBlocklist(blocklist))
		}
		return googlemaps.New(entry.APIKey, opts...)
	})

	reg.RegisterGeocoder("geocodio", func(entry config.ProviderEntry) (geocoder.Provider, error) {
		var opts []geocodio.Option
		if entry.BaseURL != "" {
			opts = append(opts, geocodio.WithEndpoint(entry.BaseURL))
		}
		if len(blocklist) > 0 {
			opts = append(opts, geocodio.WithBlocklist(blocklist))
		}
		return geocodio.New(entry.APIKey, opts...)
	})

	reg.RegisterGeocoder("nominatim", func(entry config.ProviderEntry) (geocoder.Provider, error) {
		var opts []nominatim.Option
		if entry.BaseURL != "" {
			opts = append(opts, nominatim.WithEndpoint(entry.BaseURL))
		}
		if ua := optString(entry.Options, "user_agent"); ua != "" {
			opts = append(opts, nominatim.WithUserAgent(ua))
		}
		if len(blocklist) > 0 {
			opts = append(opts, nominatim.WithBlocklist(blocklist))
		}
		return nominatim.New(opts...), nil
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Each provider is wrapped in a circuit-breaking fallback chain
// when fallbacks are configured.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := buildLLM(cfg.Providers.LLM, reg)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name,
				"fallbacks", len(cfg.Providers.LLM.Fallbacks))
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := buildSTT(cfg.Providers.STT, reg)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "stt", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name,
				"fallbacks", len(cfg.Providers.STT.Fallbacks))
		}
	}

	if name := cfg.Providers.Geocoder.Primary.Name; name != "" {
		p, err := buildGeocoder(cfg.Providers.Geocoder, reg)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "geocoder", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create geocoder provider %q: %w", name, err)
		} else {
			ps.Geocoder = p
			slog.Info("provider created", "kind", "geocoder", "name", name,
				"fallbacks", len(cfg.Providers.Geocoder.Fallbacks))
		}
	}

	return ps, nil
}

// buildLLM creates the primary completion backend and, when fallbacks are
// configured, chains them behind it with per-backend circuit breakers.
func buildLLM(entry config.ProviderEntry, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown llm fallback — skipping", "name", fb.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, p)
	}
	return chain, nil
}

// buildSTT creates the primary transcription backend and, when fallbacks
// are configured, chains them behind it with per-backend circuit breakers.
func buildSTT(entry config.ProviderEntry, reg *config.Registry) (stt.Provider, error) {
	primary, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown stt fallback — skipping", "name", fb.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
		}
		chain.AddFallback(fb.Name, p)
	}
	return chain, nil
}

// buildGeocoder creates the primary geocoder and, when fallbacks are
// configured, chains them behind it with per-backend circuit breakers.
func buildGeocoder(gc config.GeocoderConfig, reg *config.Registry) (geocoder.Provider, error) {
	primary, err := reg.CreateGeocoder(gc.Primary)
	if err != nil {
		return nil, err
	}
	if len(gc.Fallbacks) == 0 {
		return primary, nil
	}

	chain := resilience.NewGeocoderFallback(primary, gc.Primary.Name, resilience.FallbackConfig{})
	for _, entry := range gc.Fallbacks {
		fb, err := reg.CreateGeocoder(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("unknown geocoder fallback — skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create geocoder fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, fb)
	}
	return chain, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	archive := "(disabled)"
	if cfg.Storage.PostgresDSN != "" {
		archive = "postgres"
	}

	rows := [][2]string{
		{"LLM", providerLabel(cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)},
		{"STT", providerLabel(cfg.Providers.STT.Name, cfg.Providers.STT.Model)},
		{"Geocoder", providerLabel(cfg.Providers.Geocoder.Primary.Name, "")},
		{"Jurisdictions", fmt.Sprint(len(cfg.Pipeline.TargetJurisdictions))},
		{"Talkgroup hints", fmt.Sprint(len(cfg.Locales.Talkgroups))},
		{"Ingest feed", enabledLabel(cfg.Ingest.Enabled)},
		{"Discord", enabledLabel(cfg.Discord.Enabled)},
		{"MCP server", enabledLabel(cfg.MCP.Enabled)},
		{"Call archive", archive},
	}
	if cfg.Server.ListenAddr != "" {
		rows = append(rows, [2]string{"Listen addr", cfg.Server.ListenAddr})
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       dispatchmap — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	for _, row := range rows {
		value := row[1]
		if len([]rune(value)) > 19 {
			value = string([]rune(value)[:16]) + "…"
		}
		fmt.Printf("║  %-15s : %-19s ║\n", row[0], value)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	default:
		return name
	}
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "(disabled)"
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string from a provider Options map. Absent keys and
// non-string values come back as "".
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
