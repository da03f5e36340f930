package resilience

import (
	"context"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
)

// The chain types below wrap a [FallbackGroup] per provider kind so a chain
// can stand in anywhere the plain provider interface is expected.

// LLMFallback implements [llm.Provider] with failover across completion
// backends. Extraction prompts are provider-neutral, so any backend can
// answer any request.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates a chain with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional completion backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// STTFallback implements [stt.Provider] with failover across transcription
// backends. Typical deployments put a local whisper.cpp first and a hosted
// API behind it.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates a chain with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcription backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the recording through the first healthy backend.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio) (*stt.Result, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (*stt.Result, error) {
		return p.Transcribe(ctx, audio)
	})
}

// GeocoderFallback implements [geocoder.Provider] with failover across
// geocoding backends.
//
// Only transport-level failures trigger failover. A backend that answers
// with zero mappable candidates has answered; trying another provider for
// the same vague address would just produce a differently-wrong centroid.
type GeocoderFallback struct {
	group *FallbackGroup[geocoder.Provider]
}

var _ geocoder.Provider = (*GeocoderFallback)(nil)

// NewGeocoderFallback creates a chain with primary as the preferred backend.
func NewGeocoderFallback(primary geocoder.Provider, primaryName string, cfg FallbackConfig) *GeocoderFallback {
	return &GeocoderFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional geocoding backend.
func (f *GeocoderFallback) AddFallback(name string, provider geocoder.Provider) {
	f.group.AddFallback(name, provider)
}

// Geocode queries the first healthy backend. A transport-level failure moves
// the same query to the next one.
func (f *GeocoderFallback) Geocode(ctx context.Context, q geocoder.Query) ([]geocoder.Candidate, error) {
	return ExecuteWithResult(f.group, func(p geocoder.Provider) ([]geocoder.Candidate, error) {
		return p.Geocode(ctx, q)
	})
}

// Name identifies the chain by its primary backend in logs and metrics.
func (f *GeocoderFallback) Name() string {
	return f.group.Primary().Name()
}
