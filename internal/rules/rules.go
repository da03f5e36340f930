// Package rules holds the per-locale correction rule tables that drive
// address normalization.
//
// STT output for scanner audio mangles street names in locally predictable
// ways ("Mane Street" for "Main Street", "route ninety-one" for "Route 91").
// Each monitored locale ships a rule set correcting exactly those mistakes.
// Rule sets are compiled once at startup and read-only thereafter, so they
// are safe for unsynchronized concurrent reads.
package rules

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"

	"github.com/antzucaro/matchr"
)

// Config is the raw, YAML-shaped form of one locale's rule tables.
type Config struct {
	// Substitutions maps misheard tokens to corrected street names.
	// Matches are exact, case-sensitive, and word-boundary delimited.
	Substitutions map[string]string `yaml:"substitutions"`

	// MandatoryPrefixes maps street names to a directional qualifier that
	// must precede them ("Main Street" → "North" where the bare name is
	// ambiguous between two municipal grids).
	MandatoryPrefixes map[string]string `yaml:"mandatory_prefixes"`

	// HighwayDesignations maps spoken route references to canonical route
	// labels ("route ninety-one" → "Route 91", "I ninety-five" → "I-95").
	HighwayDesignations map[string]string `yaml:"highway_designations"`

	// Abbreviations maps long street-type forms to the canonical short
	// form the geocoders match best ("Street" → "St").
	Abbreviations map[string]string `yaml:"abbreviations"`

	// IgnorePatterns are regular expressions matching non-address chatter
	// that leaks into extractions: unit call-signs, license-plate-like
	// token runs, radio codes.
	IgnorePatterns []string `yaml:"ignore_patterns"`
}

// Rewrite is one compiled word-boundary substitution.
type Rewrite struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// RuleSet is the compiled, immutable form of one locale's Config.
type RuleSet struct {
	Substitutions       []Rewrite
	MandatoryPrefixes   map[string]string
	HighwayDesignations []Rewrite
	Abbreviations       []Rewrite
	IgnorePatterns      []*regexp.Regexp
}

// Compile validates cfg and compiles its tables into a RuleSet.
//
// Substitution keys within edit distance 1 of each other are flagged with a
// warning: they are almost always a typo'd duplicate of the same misheard
// street name, and the one that sorts later silently never fires.
func Compile(name string, cfg Config, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}

	subs, err := compileRewrites(cfg.Substitutions)
	if err != nil {
		return nil, fmt.Errorf("rules: %s substitutions: %w", name, err)
	}
	highways, err := compileRewrites(cfg.HighwayDesignations)
	if err != nil {
		return nil, fmt.Errorf("rules: %s highway designations: %w", name, err)
	}
	abbrevs, err := compileRewrites(cfg.Abbreviations)
	if err != nil {
		return nil, fmt.Errorf("rules: %s abbreviations: %w", name, err)
	}

	ignores := make([]*regexp.Regexp, 0, len(cfg.IgnorePatterns))
	for _, pattern := range cfg.IgnorePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("rules: %s ignore pattern %q: %w", name, pattern, err)
		}
		ignores = append(ignores, re)
	}

	prefixes := make(map[string]string, len(cfg.MandatoryPrefixes))
	for street, prefix := range cfg.MandatoryPrefixes {
		if street == "" || prefix == "" {
			return nil, fmt.Errorf("rules: %s mandatory prefix entries must be non-empty", name)
		}
		prefixes[street] = prefix
	}

	for _, pair := range nearDuplicateKeys(cfg.Substitutions) {
		logger.Warn("near-duplicate substitution keys, the later one may never fire",
			"locale", name, "key", pair[0], "duplicate", pair[1])
	}

	return &RuleSet{
		Substitutions:       subs,
		MandatoryPrefixes:   prefixes,
		HighwayDesignations: highways,
		Abbreviations:       abbrevs,
		IgnorePatterns:      ignores,
	}, nil
}

// compileRewrites turns a substitution map into word-boundary rewrites,
// ordered longest key first so multi-word corrections win over their
// substrings, then alphabetically for determinism.
func compileRewrites(m map[string]string) ([]Rewrite, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "" {
			return nil, fmt.Errorf("empty key")
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	rewrites := make([]Rewrite, 0, len(keys))
	for _, k := range keys {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(k) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		rewrites = append(rewrites, Rewrite{Pattern: re, Replacement: m[k]})
	}
	return rewrites, nil
}

// nearDuplicateKeys returns key pairs within Damerau-Levenshtein distance 1.
func nearDuplicateKeys(m map[string]string) [][2]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs [][2]string
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			if matchr.DamerauLevenshtein(keys[i], keys[j]) <= 1 {
				pairs = append(pairs, [2]string{keys[i], keys[j]})
			}
		}
	}
	return pairs
}

// Table holds the compiled rule sets for every configured locale plus a
// shared default applied when a locale has no table of its own.
type Table struct {
	perLocale map[string]*RuleSet
	fallback  *RuleSet
}

// NewTable compiles every locale's Config. The entry keyed "default" (or an
// empty map) becomes the fallback rule set.
func NewTable(configs map[string]Config, logger *slog.Logger) (*Table, error) {
	perLocale := make(map[string]*RuleSet, len(configs))
	for name, cfg := range configs {
		rs, err := Compile(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		perLocale[name] = rs
	}
	fallback, ok := perLocale["default"]
	if !ok {
		fallback = &RuleSet{}
	}
	return &Table{perLocale: perLocale, fallback: fallback}, nil
}

// ForLocale returns the rule set for the named locale, falling back to the
// default set when the locale has none.
func (t *Table) ForLocale(name string) *RuleSet {
	if rs, ok := t.perLocale[name]; ok {
		return rs
	}
	return t.fallback
}
