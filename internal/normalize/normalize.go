// Package normalize rewrites raw extracted addresses into the deterministic
// form the geocoders match best.
//
// The rewrite is an ordered sequence of pure rules, each small enough to
// test on its own. The whole sequence is idempotent: running an already
// normalized address through again is a no-op. That property is what lets
// the pipeline re-normalize stored addresses safely after a rule-table
// change.
package normalize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/dispatchmap/dispatchmap/internal/rules"
)

// Normalizer applies a locale's correction rule set plus the deployment-wide
// default state suffix. Safe for unsynchronized concurrent use.
type Normalizer struct {
	defaultState string
}

// New creates a Normalizer. defaultState is the jurisdiction/state token
// appended when an address carries none (e.g., "CT").
func New(defaultState string) *Normalizer {
	return &Normalizer{defaultState: defaultState}
}

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	// digitPunct matches a comma or hyphen strictly between two digits, the
	// artifact of spoken digit sequences ("7,9,0,8"). Commas separating
	// address components always precede a space or a letter, so they never
	// match.
	digitPunct  = regexp.MustCompile(`(\d)[,\-](\d)`)
	multiSpace  = regexp.MustCompile(`\s{2,}`)
	danglingSep = regexp.MustCompile(`(^[\s,]+)|([\s,]+$)`)
	emptySeg    = regexp.MustCompile(`,\s*,`)
)

// Normalize rewrites raw through rs in fixed order and returns a single
// trimmed line. An empty return means the input contained nothing
// address-like once chatter was removed; callers must drop such candidates.
func (n *Normalizer) Normalize(raw string, rs *rules.RuleSet) string {
	s := parenthetical.ReplaceAllString(raw, "")

	for _, re := range rs.IgnorePatterns {
		s = re.ReplaceAllString(s, "")
	}
	s = applyRewrites(s, rs.Substitutions)
	s = applyMandatoryPrefixes(s, rs.MandatoryPrefixes)
	s = applyRewrites(s, rs.HighwayDesignations)
	s = collapseDigitPunctuation(s)
	s = applyRewrites(s, rs.Abbreviations)
	s = tidy(s)

	if s != "" && !n.hasStateToken(s) {
		s += ", " + n.defaultState
	}
	return s
}

func applyRewrites(s string, rewrites []rules.Rewrite) string {
	for _, rw := range rewrites {
		s = rw.Pattern.ReplaceAllString(s, rw.Replacement)
	}
	return s
}

// applyMandatoryPrefixes inserts a required directional qualifier before
// streets that need one. Streets already carrying the qualifier anywhere in
// the string are left alone, which keeps the pass idempotent.
func applyMandatoryPrefixes(s string, prefixes map[string]string) string {
	streets := make([]string, 0, len(prefixes))
	for street := range prefixes {
		streets = append(streets, street)
	}
	sort.Strings(streets)

	for _, street := range streets {
		prefixed := prefixes[street] + " " + street
		if strings.Contains(s, street) && !strings.Contains(s, prefixed) {
			s = strings.ReplaceAll(s, street, prefixed)
		}
	}
	return s
}

// collapseDigitPunctuation removes separators between adjacent digits.
// Replacement re-joins digit pairs, so the pattern is applied until fixed
// point to handle runs like "7,9,0,8".
func collapseDigitPunctuation(s string) string {
	for {
		next := digitPunct.ReplaceAllString(s, "$1$2")
		if next == s {
			return s
		}
		s = next
	}
}

// tidy collapses whitespace and separator debris left behind by removals.
func tidy(s string) string {
	for {
		next := emptySeg.ReplaceAllString(s, ",")
		if next == s {
			break
		}
		s = next
	}
	s = multiSpace.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, " ,", ",")
	s = danglingSep.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// hasStateToken reports whether the address already names a jurisdiction:
// either the configured default suffix, a two-letter state abbreviation, or
// a full state name.
func (n *Normalizer) hasStateToken(s string) bool {
	for _, word := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ','
	}) {
		if word == n.defaultState {
			return true
		}
		if len(word) == 2 && word == strings.ToUpper(word) {
			if _, ok := abbrToState[strings.ToLower(word)]; ok {
				return true
			}
		}
	}
	lower := strings.ToLower(s)
	for full := range stateToAbbr {
		if strings.Contains(lower, full) {
			return true
		}
	}
	return false
}
