// Package resilience keeps the voice pipeline answering while individual
// backends degrade. A [CircuitBreaker] sheds calls to a backend that keeps
// failing, so turns fail fast instead of stacking up timeouts; a
// [FallbackGroup] chains same-kind backends (LLM, STT, TTS) so a call falls
// through to the next one instead of surfacing the outage to the speaker.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen rejects a call without forwarding it: the backend's breaker
// tripped and its cooldown has not elapsed yet.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards every call while tracking the failure streak.
	StateClosed State = iota

	// StateOpen sheds every call with [ErrCircuitOpen] until the cooldown
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through to find
	// out whether the backend recovered.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take defaults.
type CircuitBreakerConfig struct {
	// Name labels the protected backend in logs, e.g. "kokoro-tts".
	Name string

	// MaxFailures is the consecutive-failure streak that trips the
	// breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long a tripped breaker sheds calls before
	// probing the backend again. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is how many probe calls the half-open state admits
	// before the breaker decides. Default 3.
	HalfOpenMax int
}

// CircuitBreaker sheds calls to a backend that keeps failing. MaxFailures
// consecutive failures trip it open, ResetTimeout later it starts probing,
// and HalfOpenMax clean probes close it again. Safe for concurrent use.
type CircuitBreaker struct {
	name       string
	failLimit  int
	cooldown   time.Duration
	probeQuota int

	mu         sync.Mutex
	state      State
	failStreak int
	lastFail   time.Time
	probes     int
	probeFails int
}

// NewCircuitBreaker builds a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:       cfg.Name,
		failLimit:  cfg.MaxFailures,
		cooldown:   cfg.ResetTimeout,
		probeQuota: cfg.HalfOpenMax,
	}
	if cb.failLimit <= 0 {
		cb.failLimit = 5
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.probeQuota <= 0 {
		cb.probeQuota = 3
	}
	return cb
}

// Execute runs fn unless the breaker is shedding. While open it returns
// [ErrCircuitOpen] without calling fn; while half-open it admits at most
// HalfOpenMax probes.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(err, probe)
	return err
}

// admit decides whether a call may proceed, moving an elapsed open breaker
// into half-open first. The returned bool marks the call as a recovery probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.lastFail) < cb.cooldown {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		slog.Info("resilience: breaker probing for recovery", "backend", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.probeQuota {
			return false, ErrCircuitOpen
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

// settle records a call's outcome and drives the state transitions.
func (cb *CircuitBreaker) settle(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err != nil && probe:
		// One failed probe is enough: shed for a full cooldown again.
		cb.lastFail = time.Now()
		cb.probeFails++
		cb.state = StateOpen
		cb.failStreak = cb.failLimit
		slog.Warn("resilience: probe failed, breaker re-opened", "backend", cb.name)
	case err != nil:
		cb.lastFail = time.Now()
		cb.failStreak++
		if cb.failStreak >= cb.failLimit {
			cb.state = StateOpen
			slog.Warn("resilience: breaker opened, shedding calls",
				"backend", cb.name, "fail_streak", cb.failStreak)
		}
	case probe:
		if cb.probes-cb.probeFails >= cb.probeQuota {
			cb.state = StateClosed
			cb.failStreak = 0
			cb.probes = 0
			cb.probeFails = 0
			slog.Info("resilience: breaker closed, backend recovered", "backend", cb.name)
		}
	default:
		cb.failStreak = 0
	}
}

// State reports the breaker's mode. An open breaker whose cooldown has
// elapsed reports half-open; the stored transition happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && time.Since(cb.lastFail) >= cb.cooldown {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failStreak = 0
	cb.probes = 0
	cb.probeFails = 0
	slog.Info("resilience: breaker reset", "backend", cb.name)
}
