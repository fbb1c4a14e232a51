package resilience

import (
	"errors"
	"testing"
	"time"
)

func newTTSChain() *FallbackGroup[string] {
	fg := NewFallbackGroup("kokoro", "kokoro", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("coqui", "coqui")
	return fg
}

func TestFallbackGroup_HeadPreferred(t *testing.T) {
	fg := newTTSChain()

	var served string
	if err := fg.Execute(func(v string) error { served = v; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "kokoro" {
		t.Fatalf("served by %q, want kokoro", served)
	}
}

func TestFallbackGroup_FallsThroughOnFailure(t *testing.T) {
	fg := newTTSChain()

	var served string
	err := fg.Execute(func(v string) error {
		if v == "kokoro" {
			return errBackendDown
		}
		served = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "coqui" {
		t.Fatalf("served by %q, want coqui", served)
	}
}

func TestFallbackGroup_ChainExhausted(t *testing.T) {
	fg := newTTSChain()

	err := fg.Execute(func(string) error { return errBackendDown })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsBackend(t *testing.T) {
	fg := NewFallbackGroup("kokoro", "kokoro", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
		},
	})
	fg.AddFallback("coqui", "coqui")

	// Trip the head's breaker.
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "kokoro" {
				return errBackendDown
			}
			return nil
		})
	}

	// The head is shed now; calls land on the fallback directly.
	var served string
	if err := fg.Execute(func(v string) error { served = v; return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if served != "coqui" {
		t.Fatalf("served by %q, want coqui (kokoro breaker should be open)", served)
	}
}

func TestExecuteWithResult_Head(t *testing.T) {
	fg := NewFallbackGroup(1, "primary-llm", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("backup-llm", 2)

	out, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "from-primary", nil
		}
		return "from-backup", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "from-primary" {
		t.Fatalf("result = %q, want from-primary", out)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := NewFallbackGroup(1, "primary-llm", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fg.AddFallback("backup-llm", 2)

	out, err := ExecuteWithResult(fg, func(v int) (string, error) {
		if v == 1 {
			return "", errBackendDown
		}
		return "from-backup", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "from-backup" {
		t.Fatalf("result = %q, want from-backup", out)
	}
}

func TestExecuteWithResult_ChainExhausted(t *testing.T) {
	fg := NewFallbackGroup(1, "primary-llm", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
