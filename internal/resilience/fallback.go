package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed reports that a whole fallback chain was exhausted: every
// backend either failed or was shed by its breaker.
var ErrAllFailed = errors.New("resilience: every backend failed")

// FallbackConfig carries the breaker settings applied to each backend in a
// [FallbackGroup]. The breaker Name is overwritten per backend.
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// link is one backend in a fallback chain, paired with its breaker.
type link[T any] struct {
	name    string
	impl    T
	breaker *CircuitBreaker
}

// FallbackGroup chains a primary backend and any number of fallbacks of the
// same provider kind. Calls walk the chain in registration order, skipping
// backends whose breakers are open, until one succeeds.
//
// Register every fallback before the first call; after that the group is
// safe for concurrent use.
type FallbackGroup[T any] struct {
	chain []link[T]
	cfg   FallbackConfig
}

// NewFallbackGroup starts a chain with primary as its head.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.add(primaryName, primary)
	return fg
}

// AddFallback appends a backend to the end of the chain.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	fg.add(name, fallback)
}

func (fg *FallbackGroup[T]) add(name string, v T) {
	bc := fg.cfg.CircuitBreaker
	bc.Name = name
	fg.chain = append(fg.chain, link[T]{name: name, impl: v, breaker: NewCircuitBreaker(bc)})
}

// primary returns the head of the chain.
func (fg *FallbackGroup[T]) primary() T {
	return fg.chain[0].impl
}

// Execute walks the chain until fn succeeds against one backend. Backends
// with open breakers are skipped. When the chain is exhausted the last error
// is wrapped in [ErrAllFailed].
func (fg *FallbackGroup[T]) Execute(fn func(T) error) error {
	_, err := ExecuteWithResult(fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult is [FallbackGroup.Execute] for calls that produce a
// value. It is a package function because a method cannot introduce the
// result type parameter.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range fg.chain {
		ln := &fg.chain[i]
		var out R
		err := ln.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(ln.impl)
			return callErr
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: backend shed, trying next", "backend", ln.name)
			continue
		}
		slog.Warn("resilience: backend failed, trying next",
			"backend", ln.name, "error", err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
