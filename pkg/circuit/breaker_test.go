package circuit

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerStartsClosed(t *testing.T) {
	b := NewBreaker(Config{Name: "t"})
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}
}

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(Config{Name: "t", FailureThreshold: 3, Timeout: time.Hour})
	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return failing })
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open after threshold failures", b.State())
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := NewBreaker(Config{Name: "t", FailureThreshold: 1, Timeout: time.Hour})
	_ = b.Execute(func() error { return errors.New("boom") })
	if !b.IsOpen() {
		t.Fatal("breaker should be open")
	}
	called := false
	err := b.Execute(func() error { called = true; return nil })
	if called {
		t.Fatal("fn should not run while breaker is open")
	}
	if err == nil {
		t.Fatal("expected error while open")
	}
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	b := NewBreaker(Config{Name: "t", FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond})
	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("first half-open probe should run: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() = %v, want half-open after one success", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("second half-open probe should run: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed after success threshold", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(Config{Name: "t", FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	_ = b.Execute(func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(func() error { return errors.New("boom again") })
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want open after half-open failure", b.State())
	}
}

func TestBreakerCallbacksFire(t *testing.T) {
	b := NewBreaker(Config{Name: "t", FailureThreshold: 1, Timeout: time.Hour})
	var gotFrom, gotTo State
	var failureCount, successCount int
	b.SetStateChangeCallback(func(from, to State) { gotFrom, gotTo = from, to })
	b.SetFailureCallback(func(error) { failureCount++ })
	b.SetSuccessCallback(func() { successCount++ })

	_ = b.Execute(func() error { return errors.New("boom") })
	if gotFrom != StateClosed || gotTo != StateOpen {
		t.Fatalf("state change callback = %v -> %v, want closed -> open", gotFrom, gotTo)
	}
	if failureCount != 1 {
		t.Fatalf("failureCount = %d, want 1", failureCount)
	}

	b2 := NewBreaker(Config{Name: "t2"})
	b2.SetSuccessCallback(func() { successCount++ })
	_ = b2.Execute(func() error { return nil })
	if successCount != 1 {
		t.Fatalf("successCount = %d, want 1", successCount)
	}
}

func TestBreakerResetClearsState(t *testing.T) {
	b := NewBreaker(Config{Name: "t", FailureThreshold: 1, Timeout: time.Hour})
	_ = b.Execute(func() error { return errors.New("boom") })
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want closed after Reset", b.State())
	}
	stats := b.GetStats()
	if stats.Failures != 0 {
		t.Fatalf("Failures = %d, want 0 after Reset", stats.Failures)
	}
}

func TestBreakerForceOpen(t *testing.T) {
	b := NewBreaker(Config{Name: "t", Timeout: time.Hour})
	b.ForceOpen()
	if !b.IsOpen() {
		t.Fatal("expected breaker to be forced open")
	}
}
