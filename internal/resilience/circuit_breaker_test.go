// SPDX-License-Identifier: MIT

package resilience

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) advance(d time.Duration) { f.now = f.now.Add(d) }

var errUpstream = errors.New("upstream unavailable")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test-open", 3, 30*time.Second, WithClock(clk))

	fail := func() error { return errUpstream }

	for i := 0; i < 3; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errUpstream) {
			t.Fatalf("attempt %d: expected upstream error, got %v", i, err)
		}
	}

	if got := cb.State(); got != string(StateOpen) {
		t.Fatalf("expected open after threshold, got %s", got)
	}

	if err := cb.Execute(fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test-probe", 1, 30*time.Second, WithClock(clk))

	if err := cb.Execute(func() error { return errUpstream }); err == nil {
		t.Fatal("expected failure")
	}
	if got := cb.State(); got != string(StateOpen) {
		t.Fatalf("expected open, got %s", got)
	}

	// Before the reset timeout the breaker stays shut.
	clk.advance(10 * time.Second)
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen before reset timeout, got %v", err)
	}

	// After the timeout one probe goes through; success closes the breaker.
	clk.advance(25 * time.Second)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	if got := cb.State(); got != string(StateClosed) {
		t.Fatalf("expected closed after successful probe, got %s", got)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test-reopen", 1, 30*time.Second, WithClock(clk))

	_ = cb.Execute(func() error { return errUpstream })
	clk.advance(31 * time.Second)

	if err := cb.Execute(func() error { return errUpstream }); !errors.Is(err, errUpstream) {
		t.Fatalf("probe should execute, got %v", err)
	}
	if got := cb.State(); got != string(StateOpen) {
		t.Fatalf("failed probe must reopen, got %s", got)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test-reset", 3, 30*time.Second)

	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatal(err)
	}

	// Two more failures stay under the threshold because the success above
	// cleared the streak.
	_ = cb.Execute(func() error { return errUpstream })
	_ = cb.Execute(func() error { return errUpstream })
	if got := cb.State(); got != string(StateClosed) {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker("test-defaults", 0, 0)
	if cb.threshold != 3 {
		t.Errorf("default threshold = %d, want 3", cb.threshold)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("default reset timeout = %s, want 30s", cb.resetTimeout)
	}
}
