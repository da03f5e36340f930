// Package hyperlink splices map references into transcript text.
//
// Every occurrence of the resolved address inside the transcript is wrapped
// in [text](url) markup. Matching is case-insensitive, word-boundary
// delimited, and tolerant of the digit-grouping punctuation STT leaves in
// house numbers, so "7,9,0,8 Cindy Lane" in the transcript still matches
// the normalized "7908 Cindy Lane". Text outside the wrapped spans is
// untouched.
package hyperlink

import (
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Style selects what the link target encodes.
type Style string

const (
	// StyleAddress links to a map search for the address text.
	StyleAddress Style = "address"

	// StyleCoordinates links to the exact resolved coordinates.
	StyleCoordinates Style = "coordinates"
)

const searchEndpoint = "https://www.google.com/maps/search/?api=1&query="

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Linker annotates transcripts. Immutable, safe for concurrent use.
type Linker struct {
	style Style
}

// New creates a Linker. An unrecognized style falls back to
// StyleCoordinates, the more precise target.
func New(style Style) *Linker {
	if style != StyleAddress {
		style = StyleCoordinates
	}
	return &Linker{style: style}
}

// Target pairs one resolved address with its coordinates for annotation.
type Target struct {
	Address string
	Coords  *Coordinates
}

// Annotate wraps every occurrence of address inside transcript in map-link
// markup. It is a no-op when address is empty, coords is nil, or the
// address does not occur in the transcript; fuzzy insertion is never
// attempted. When the full address (with its town/state tail) is absent,
// the street portion alone is tried, since dispatchers rarely speak the
// town suffix the normalizer appends.
func (l *Linker) Annotate(transcript, address string, coords *Coordinates) string {
	return l.AnnotateAll(transcript, []Target{{Address: address, Coords: coords}})
}

// AnnotateAll annotates every target in one pass. All match spans are
// located in the original transcript and spliced together at the end, so a
// target whose address is a substring of another target's wrapped span can
// never nest markup inside it. Overlapping matches go to the earlier
// target.
func (l *Linker) AnnotateAll(transcript string, targets []Target) string {
	type span struct {
		start, end int
		link       string
	}
	var spans []span
	claimed := func(start, end int) bool {
		for _, s := range spans {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	for _, t := range targets {
		if t.Address == "" || t.Coords == nil {
			continue
		}
		for _, candidate := range matchTexts(t.Address) {
			re, err := matchPattern(candidate)
			if err != nil {
				continue
			}
			matches := re.FindAllStringIndex(transcript, -1)
			if len(matches) == 0 {
				continue
			}
			link := fmt.Sprintf("[%s](%s)", candidate, l.target(t.Address, t.Coords))
			for _, m := range matches {
				if !claimed(m[0], m[1]) {
					spans = append(spans, span{start: m[0], end: m[1], link: link})
				}
			}
			break
		}
	}
	if len(spans) == 0 {
		return transcript
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	prev := 0
	for _, s := range spans {
		b.WriteString(transcript[prev:s.start])
		b.WriteString(s.link)
		prev = s.end
	}
	b.WriteString(transcript[prev:])
	return b.String()
}

// matchTexts returns the texts tried against the transcript, most specific
// first: the full address, then its street portion.
func matchTexts(address string) []string {
	texts := []string{address}
	if i := strings.Index(address, ","); i > 0 {
		street := strings.TrimSpace(address[:i])
		if street != "" && street != address {
			texts = append(texts, street)
		}
	}
	return texts
}

// matchPattern compiles a case-insensitive word-boundary pattern for text,
// letting an optional comma or hyphen ride between adjacent digits.
func matchPattern(text string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?i)\b`)
	runes := []rune(text)
	for i, r := range runes {
		b.WriteString(regexp.QuoteMeta(string(r)))
		if isDigit(r) && i+1 < len(runes) && isDigit(runes[i+1]) {
			b.WriteString(`[,\-]?`)
		}
	}
	b.WriteString(`\b`)
	return regexp.Compile(b.String())
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func (l *Linker) target(address string, coords *Coordinates) string {
	if l.style == StyleAddress {
		return searchEndpoint + url.QueryEscape(address)
	}
	return fmt.Sprintf("%s%.6f%%2C%.6f", searchEndpoint, coords.Latitude, coords.Longitude)
}
