// Package locale maps talkgroup identifiers to human-readable locale hints.
//
// Dispatch audio arrives tagged with an opaque talkgroup id. Each talkgroup
// covers a known slice of the monitored area, and telling the extractor
// "this traffic is from Anytown" measurably reduces hallucinated towns. The
// mapping is built once at startup from configuration and never mutated, so
// it is safe for unsynchronized concurrent reads.
package locale

import "strings"

// Resolver looks up the locale hint for a talkgroup id.
type Resolver struct {
	hints    map[string]string
	fallback string
}

// NewResolver builds a Resolver from the talkgroup→hint map and the
// configured target jurisdictions. Unknown talkgroups resolve to a coarse
// hint naming every target jurisdiction ("Hartford County or Tolland
// County") so the extractor is never grounded on a wrong specific town.
func NewResolver(hints map[string]string, targetJurisdictions []string) *Resolver {
	cloned := make(map[string]string, len(hints))
	for k, v := range hints {
		cloned[k] = v
	}
	return &Resolver{
		hints:    cloned,
		fallback: strings.Join(targetJurisdictions, " or "),
	}
}

// Resolve returns the locale hint for groupID, or the jurisdiction-list
// fallback when no mapping exists. Pure lookup, no side effects.
func (r *Resolver) Resolve(groupID string) string {
	if hint, ok := r.hints[groupID]; ok && hint != "" {
		return hint
	}
	return r.fallback
}

// Fallback returns the hint used for unmapped talkgroups.
func (r *Resolver) Fallback() string { return r.fallback }
