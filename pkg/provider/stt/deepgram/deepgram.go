// Package deepgram provides a Deepgram-backed STT provider using the
// pre-recorded transcription REST API. It implements the stt.Provider
// interface for deployments that want hosted recognition with keyterm
// boosting for local street and agency vocabulary.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
)

const (
	defaultEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultTimeout  = 60 * time.Second
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithEndpoint overrides the API endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithModel sets the Deepgram model (e.g., "nova-3", "nova-2"). Defaults to
// "nova-3".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language tag. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithKeyterms sets vocabulary boost terms sent with every request. Street
// names, unit designators, and agency names belong here.
func WithKeyterms(terms []string) Option {
	return func(p *Provider) { p.keyterms = terms }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements stt.Provider using the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	keyterms   []string
	httpClient *http.Client
}

// New creates a Deepgram provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// response mirrors the subset of the pre-recorded API response we consume.
type response struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe submits one complete call recording as raw PCM and returns the
// top alternative of the first channel.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Result, error) {
	sr := audio.SampleRate
	if sr <= 0 {
		sr = 16000
	}
	ch := audio.Channels
	if ch <= 0 {
		ch = 1
	}

	params := url.Values{}
	params.Set("model", p.model)
	params.Set("language", p.language)
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(sr))
	params.Set("channels", strconv.Itoa(ch))
	params.Set("smart_format", "true")
	for _, term := range p.keyterms {
		params.Add("keyterm", term)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"?"+params.Encode(), bytes.NewReader(audio.PCM))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, body)
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("deepgram: parse JSON response: %w", err)
	}

	var text string
	if len(body.Results.Channels) > 0 && len(body.Results.Channels[0].Alternatives) > 0 {
		text = body.Results.Channels[0].Alternatives[0].Transcript
	}
	return &stt.Result{Text: text, Language: p.language}, nil
}
