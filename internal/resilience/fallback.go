package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no entry in a [FallbackGroup] could serve the
// call, whether by failing or by having a tripped breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig carries the breaker settings applied to every entry of a
// [FallbackGroup]. The breaker name is overridden per entry.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// link is one provider in the chain, guarded by its own breaker.
type link[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup chains instances of one provider kind in preference order.
// A call walks the chain until an entry serves it; entries with tripped
// breakers are passed over without being invoked.
//
// FallbackGroup is safe for concurrent use once the chain is assembled;
// AddFallback must not race with Execute.
type FallbackGroup[T any] struct {
	chain []link[T]
	cfg   FallbackConfig
}

// NewFallbackGroup starts a chain with primary as the preferred entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a provider to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.chain = append(fg.chain, link[T]{
		name:    name,
		value:   value,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Execute walks the chain with fn until an entry succeeds. When the whole
// chain fails it returns [ErrAllFailed] wrapping the last error seen.
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult walks the chain with fn until an entry succeeds and
// returns that entry's result. A package-level function because methods
// cannot introduce the result type parameter.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		ln := &fg.chain[i]

		var res R
		err := ln.breaker.Execute(func() error {
			var callErr error
			res, callErr = fn(ln.value)
			return callErr
		})
		if err == nil {
			return res, nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("provider breaker open, passing over", "provider", ln.name)
		} else {
			slog.Warn("provider call failed, trying next in chain",
				"provider", ln.name, "error", err)
		}
	}

	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
