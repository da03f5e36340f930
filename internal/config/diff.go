package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: tables the
// pipeline consults per run. Provider credentials, listen addresses, and
// feed settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TalkgroupsChanged is true if any talkgroup→locale hint mapping changed.
	TalkgroupsChanged bool

	// RulesChanged is true if any locale's correction rule table changed.
	RulesChanged bool
	RuleChanges  []RuleDiff

	// JurisdictionsChanged is true if the target jurisdiction set changed.
	JurisdictionsChanged bool

	// BlocklistChanged is true if the geocoder blocklist changed.
	BlocklistChanged bool
}

// RuleDiff describes what changed for a single locale's rule table.
type RuleDiff struct {
	Locale  string
	Added   bool
	Removed bool
	Changed bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(old.Locales.Talkgroups, new.Locales.Talkgroups) {
		d.TalkgroupsChanged = true
	}

	// Detect modified and removed rule tables.
	for locale, oldRules := range old.Locales.Rules {
		newRules, exists := new.Locales.Rules[locale]
		if !exists {
			d.RuleChanges = append(d.RuleChanges, RuleDiff{Locale: locale, Removed: true})
			d.RulesChanged = true
			continue
		}
		if !reflect.DeepEqual(oldRules, newRules) {
			d.RuleChanges = append(d.RuleChanges, RuleDiff{Locale: locale, Changed: true})
			d.RulesChanged = true
		}
	}

	// Detect added rule tables.
	for locale := range new.Locales.Rules {
		if _, exists := old.Locales.Rules[locale]; !exists {
			d.RuleChanges = append(d.RuleChanges, RuleDiff{Locale: locale, Added: true})
			d.RulesChanged = true
		}
	}

	if !slices.Equal(old.Pipeline.TargetJurisdictions, new.Pipeline.TargetJurisdictions) {
		d.JurisdictionsChanged = true
	}

	if !slices.Equal(old.Providers.Geocoder.Blocklist, new.Providers.Geocoder.Blocklist) {
		d.BlocklistChanged = true
	}

	return d
}
