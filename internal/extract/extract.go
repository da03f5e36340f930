// Package extract pulls the location reference out of a dispatch transcript.
//
// The extractor makes exactly one completion call per transcript. The prompt
// grounds the model on the locale hint, enumerates the target jurisdictions,
// fixes the three accepted address shapes, and demands either a single
// address line or the literal negative sentinel. Everything the model says
// beyond that line is treated as hallucinated continuation and trimmed.
//
// A backend failure is never surfaced to the caller: it is logged, counted,
// and degrades to "no address in this transcript".
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
)

// sentinel is the exact line the model is told to answer when a transcript
// carries no location. Matching is case-insensitive and tolerates a
// trailing period; nothing else.
const sentinel = "no address found"

// Result is the outcome of one extraction. The sentinel string never leaks
// past this type: absence is carried by Found alone.
type Result struct {
	// Raw is the cleaned extraction, possibly holding several
	// semicolon-separated candidate addresses. Empty when Found is false.
	Raw string

	// Found is false when the model reported no address or the backend was
	// unreachable.
	Found bool
}

// Option is a functional option for configuring the Extractor.
type Option func(*Extractor)

// WithStatusURL sets the liveness endpoint probed by Ping before a pipeline
// run. Empty (the default) makes Ping a no-op, for backends without one.
func WithStatusURL(url string) Option {
	return func(e *Extractor) { e.statusURL = url }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) { e.logger = logger }
}

// WithMaxTokens caps the completion length. Defaults to 120, enough for the
// longest multi-candidate address line.
func WithMaxTokens(n int) Option {
	return func(e *Extractor) { e.maxTokens = n }
}

// Extractor issues locale-grounded extraction requests against a completion
// backend. Safe for concurrent use.
type Extractor struct {
	provider      llm.Provider
	jurisdictions []string
	defaultState  string
	statusURL     string
	maxTokens     int
	httpClient    *http.Client
	logger        *slog.Logger
}

// New creates an Extractor. jurisdictions is the configured target-area
// list, defaultState the state token used in the format templates.
func New(provider llm.Provider, jurisdictions []string, defaultState string, opts ...Option) *Extractor {
	e := &Extractor{
		provider:      provider,
		jurisdictions: jurisdictions,
		defaultState:  defaultState,
		maxTokens:     120,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Ping probes the backend's status endpoint. A nil return means the backend
// looks alive; the orchestrator short-circuits a whole run when it fails so
// no normalization or geocoding work is burned while the extractor is down.
func (e *Extractor) Ping(ctx context.Context) error {
	if e.statusURL == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.statusURL, nil)
	if err != nil {
		return fmt.Errorf("extract: build ping request: %w", err)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("extract: ping: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("extract: ping status %d", resp.StatusCode)
	}
	return nil
}

// Extract runs one completion over the transcript. Backend failure logs a
// warning and returns a not-found Result; it never propagates an error.
func (e *Extractor) Extract(ctx context.Context, transcript, localeHint string) Result {
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: e.buildPrompt(transcript, localeHint)},
		},
		Temperature: 0,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		e.logger.Warn("extraction backend unavailable", "error", err)
		return Result{}
	}

	text := sanitize(resp.Content)
	if text == "" || isSentinel(text) {
		return Result{}
	}
	return Result{Raw: text, Found: true}
}

const systemPrompt = "You extract street addresses from radio dispatch transcripts. " +
	"You answer with exactly one line and nothing else."

// buildPrompt assembles the instruction block for one transcript.
func (e *Extractor) buildPrompt(transcript, localeHint string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "The transcript below is radio traffic from %s. ", localeHint)
	fmt.Fprintf(&b, "Only locations in %s are valid.\n\n", strings.Join(e.jurisdictions, " or "))

	b.WriteString("Find the street address, numbered block, or intersection being dispatched to. ")
	b.WriteString("Use exactly one of these formats:\n")
	fmt.Fprintf(&b, "  <number> <street>, <town>, %s\n", e.defaultState)
	fmt.Fprintf(&b, "  <number> block of <street>, <town>, %s\n", e.defaultState)
	fmt.Fprintf(&b, "  <street> & <cross street>, <town>, %s\n\n", e.defaultState)

	b.WriteString("If several distinct locations are dispatched, separate them with semicolons. ")
	b.WriteString("Do not invent a town or street that is not spoken. ")
	fmt.Fprintf(&b, "If no location is spoken, answer exactly: %s\n\n", "No address found")

	b.WriteString("Example:\n")
	fmt.Fprintf(&b, "Transcript: Engine 5, respond to 100 Main Street for an alarm activation.\n")
	fmt.Fprintf(&b, "Answer: 100 Main St, %s\n\n", e.exampleSuffix())
	b.WriteString("Example:\n")
	b.WriteString("Transcript: All units be advised, radio check at this time.\n")
	b.WriteString("Answer: No address found\n\n")

	fmt.Fprintf(&b, "Transcript: %s\nAnswer:", transcript)
	return b.String()
}

// exampleSuffix keeps the positive few-shot grounded on the real deployment
// area instead of a made-up town.
func (e *Extractor) exampleSuffix() string {
	if len(e.jurisdictions) > 0 {
		return e.jurisdictions[0] + ", " + e.defaultState
	}
	return e.defaultState
}

// isSentinel reports whether the model answered the negative sentinel,
// tolerating case and one trailing period.
func isSentinel(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimSuffix(t, ".")
	return t == sentinel
}

var noteMarkers = []string{"note:", "note ", "(note", "n.b.", "disclaimer:"}

// sanitize bounds verbose model output. Parenthetical asides and note lines
// are dropped outright. Each semicolon-separated candidate is capped at three
// comma segments, and when the response spans multiple lines the shorter of
// first-line and whole-response wins; that caps hallucinated continuations
// without cutting legitimate multi-part or multi-candidate addresses.
func sanitize(raw string) string {
	s := stripParentheticals(raw)
	s = strings.ReplaceAll(s, "  ", " ")
	s = strings.ReplaceAll(s, " ,", ",")

	var kept []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		isNote := false
		for _, marker := range noteMarkers {
			if strings.HasPrefix(lower, marker) {
				isNote = true
				break
			}
		}
		if !isNote {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	if len(kept) == 1 {
		return boundCandidates(kept[0])
	}

	firstLine := boundCandidates(kept[0])
	whole := boundCandidates(strings.Join(kept, " "))
	if len(whole) < len(firstLine) {
		return whole
	}
	return firstLine
}

// boundCandidates caps each semicolon-separated candidate at three comma
// segments so one runaway candidate cannot swallow its neighbors.
func boundCandidates(s string) string {
	var out []string
	for _, cand := range strings.Split(s, ";") {
		segs := strings.Split(cand, ",")
		if len(segs) > 3 {
			cand = strings.Join(segs[:3], ",")
		}
		if cand = strings.TrimSpace(cand); cand != "" {
			out = append(out, cand)
		}
	}
	return strings.Join(out, "; ")
}

func stripParentheticals(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch {
		case r == '(':
			depth++
		case r == ')' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
