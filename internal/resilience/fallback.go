package resilience

import (
	"errors"
	"log/slog"
)

// ErrAllFailed is returned when every backend in a [FallbackGroup] failed or
// had an open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-backend circuit breaker a
// [FallbackGroup] creates for each entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// FallbackGroup holds an ordered list of same-typed backends, each behind
// its own circuit breaker. Calls go to the first backend whose breaker
// admits them; failures move on to the next.
//
// Backends are registered at construction time; the group is then safe for
// concurrent use.
type FallbackGroup[T any] struct {
	names    []string
	values   []T
	breakers []*CircuitBreaker
	cfg      FallbackConfig
}

// NewFallbackGroup creates a group with primary as its first backend.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.add(primaryName, primary)
	return g
}

// AddFallback appends a backend tried after all previously registered ones.
func (g *FallbackGroup[T]) AddFallback(name string, fallback T) {
	g.add(name, fallback)
}

func (g *FallbackGroup[T]) add(name string, v T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.names = append(g.names, name)
	g.values = append(g.values, v)
	g.breakers = append(g.breakers, NewCircuitBreaker(bc))
}

// Primary returns the first registered backend.
func (g *FallbackGroup[T]) Primary() T {
	return g.values[0]
}

// ExecuteWithResult tries fn against each backend in order until one
// succeeds. Open-breaker backends are skipped. When every backend fails the
// error joins [ErrAllFailed] with the last failure.
//
// This is a package-level function because Go methods cannot introduce type
// parameters.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i, v := range g.values {
		var result R
		err := g.breakers[i].Execute(func() error {
			var callErr error
			result, callErr = fn(v)
			return callErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", g.names[i])
		} else {
			slog.Warn("provider failed, trying next", "provider", g.names[i], "error", err)
		}
	}
	var zero R
	return zero, errors.Join(ErrAllFailed, lastErr)
}
