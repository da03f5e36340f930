package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":      {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {"deepgram", "whisper", "whisper-native", "openai"},
	"geocoder": {"google_maps", "geocodio", "nominatim"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("geocoder", cfg.Providers.Geocoder.Primary.Name)
	for _, fb := range cfg.Providers.Geocoder.Fallbacks {
		validateProviderName("geocoder", fb.Name)
	}

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required: address extraction cannot run without a completion backend"))
	}
	if cfg.Providers.Geocoder.Primary.Name == "" {
		errs = append(errs, errors.New("providers.geocoder.primary.name is required"))
	}

	// Pipeline
	if len(cfg.Pipeline.TargetJurisdictions) == 0 {
		errs = append(errs, errors.New("pipeline.target_jurisdictions must list at least one county"))
	}
	seen := make(map[string]int, len(cfg.Pipeline.TargetJurisdictions))
	for i, j := range cfg.Pipeline.TargetJurisdictions {
		if j == "" {
			errs = append(errs, fmt.Errorf("pipeline.target_jurisdictions[%d] is empty", i))
			continue
		}
		if prev, ok := seen[j]; ok {
			errs = append(errs, fmt.Errorf("pipeline.target_jurisdictions[%d] %q is a duplicate of [%d]", i, j, prev))
		}
		seen[j] = i
	}
	if cfg.Pipeline.DefaultState == "" {
		errs = append(errs, errors.New("pipeline.default_state is required (e.g., \"CT\")"))
	}
	if cfg.Pipeline.LinkStyle != "" && !cfg.Pipeline.LinkStyle.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.link_style %q is invalid; valid values: address, coordinates", cfg.Pipeline.LinkStyle))
	}
	if cfg.Pipeline.ExtractConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.extract_concurrency %d must not be negative", cfg.Pipeline.ExtractConcurrency))
	}
	if cfg.Pipeline.GeocodeConcurrency < 0 {
		errs = append(errs, fmt.Errorf("pipeline.geocode_concurrency %d must not be negative", cfg.Pipeline.GeocodeConcurrency))
	}
	if cfg.Ingest.Workers < 0 {
		errs = append(errs, fmt.Errorf("ingest.workers %d must not be negative", cfg.Ingest.Workers))
	}

	// Locales — a hint outside the jurisdiction set is almost always a
	// typo and would make the extractor steer toward an area the
	// validator then rejects.
	for tg, hint := range cfg.Locales.Talkgroups {
		if hint == "" {
			continue
		}
		if _, ok := seen[hint]; !ok {
			slog.Warn("talkgroup hint is not a configured target jurisdiction",
				"talkgroup", tg,
				"hint", hint,
			)
		}
	}

	// Ingest
	if cfg.Ingest.Enabled {
		if cfg.Ingest.URL == "" {
			errs = append(errs, errors.New("ingest.url is required when ingest is enabled"))
		}
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("providers.stt.name is required when ingest is enabled"))
		}
		if cfg.Ingest.SampleRate < 0 {
			errs = append(errs, fmt.Errorf("ingest.sample_rate %d must not be negative", cfg.Ingest.SampleRate))
		}
	}

	// Discord
	if cfg.Discord.Enabled && cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required when discord is enabled"))
	}

	// Storage
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; resolved calls will not be archived")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
