package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dispatchmap/dispatchmap/pkg/provider/geocoder"
	"github.com/dispatchmap/dispatchmap/pkg/provider/llm"
	"github.com/dispatchmap/dispatchmap/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories holds the registered constructors for one provider kind.
// Safe for concurrent use.
type factories[T any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]func(ProviderEntry) (T, error)
}

func (f *factories[T]) register(name string, factory func(ProviderEntry) (T, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byName == nil {
		f.byName = make(map[string]func(ProviderEntry) (T, error))
	}
	f.byName[name] = factory
}

func (f *factories[T]) create(entry ProviderEntry) (T, error) {
	f.mu.RLock()
	factory, ok := f.byName[entry.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider kind. Registering the same name twice overwrites the earlier
// factory.
type Registry struct {
	llm      factories[llm.Provider]
	stt      factories[stt.Provider]
	geocoder factories[geocoder.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:      factories[llm.Provider]{kind: "llm"},
		stt:      factories[stt.Provider]{kind: "stt"},
		geocoder: factories[geocoder.Provider]{kind: "geocoder"},
	}
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterGeocoder registers a geocoding provider factory under name.
func (r *Registry) RegisterGeocoder(name string, factory func(ProviderEntry) (geocoder.Provider, error)) {
	r.geocoder.register(name, factory)
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] when no factory exists.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under
// entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateGeocoder instantiates a geocoding provider using the factory
// registered under entry.Name.
func (r *Registry) CreateGeocoder(entry ProviderEntry) (geocoder.Provider, error) {
	return r.geocoder.create(entry)
}
