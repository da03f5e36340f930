// Package jurisdiction filters geocode candidates by target-area membership.
//
// A candidate only leaves the pipeline as resolved when its county component
// is one of the configured target jurisdictions. A candidate without any
// county component is rejected too, but logged at a different level: it
// flags a provider data gap, not an actually-wrong location.
package jurisdiction

import (
	"log/slog"
	"strings"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
)

// Reason classifies why a candidate was rejected.
type Reason string

const (
	// ReasonAccepted marks a candidate inside the target area.
	ReasonAccepted Reason = ""

	// ReasonMissingJurisdiction marks a candidate whose address breakdown
	// carried no county component at all.
	ReasonMissingJurisdiction Reason = "missing_jurisdiction"

	// ReasonOutOfJurisdiction marks a candidate whose county is outside the
	// configured target set.
	ReasonOutOfJurisdiction Reason = "out_of_jurisdiction"
)

// Validator checks candidates against the target-jurisdiction set.
// Immutable after construction, safe for concurrent use.
type Validator struct {
	targets map[string]string // canonical form → configured display form
	logger  *slog.Logger
}

// New creates a Validator for the given target jurisdictions. Comparison is
// case-insensitive and tolerates a trailing "County" on either side, so
// "Hartford" matches "Hartford County".
func New(targets []string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]string, len(targets))
	for _, t := range targets {
		m[canonical(t)] = t
	}
	return &Validator{targets: m, logger: logger}
}

// Validate checks one candidate. On acceptance the returned Reason is
// ReasonAccepted and County holds the configured display form of the
// matched jurisdiction.
func (v *Validator) Validate(c geocoder.Candidate) (county string, reason Reason) {
	if strings.TrimSpace(c.County) == "" {
		v.logger.Warn("geocode candidate has no county component",
			"address", c.FormattedAddress, "provider", c.Provider)
		return "", ReasonMissingJurisdiction
	}

	display, ok := v.targets[canonical(c.County)]
	if !ok {
		v.logger.Debug("geocode candidate outside target area",
			"address", c.FormattedAddress, "county", c.County, "provider", c.Provider)
		return "", ReasonOutOfJurisdiction
	}
	return display, ReasonAccepted
}

func canonical(county string) string {
	s := strings.ToLower(strings.TrimSpace(county))
	s = strings.TrimSuffix(s, " county")
	return s
}
