// Package circuit implements the circuit breaker pattern for the
// external collaborators an AdapterSink delegates to (a broker publish
// call, an outbound HTTP request): closed, open, and half-open states
// gated by failure/success thresholds, callback-based event
// reporting instead of an embedded logger dependency.
package circuit

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
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
	default:
		return "unknown"
	}
}

// Config tunes a Breaker's thresholds and timeouts.
type Config struct {
	Name             string
	FailureThreshold int           // failure count before tripping open; a closed-state success lowers the count by one
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // time spent open before allowing a half-open probe
	HalfOpenMaxCalls int           // max probes admitted per half-open period (a total, not a concurrency limit)
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 10
	}
}

// Stats is a point-in-time snapshot of a Breaker's counters.
type Stats struct {
	State         State
	Failures      int64
	Successes     int64
	Requests      int64
	LastFailure   time.Time
	LastSuccess   time.Time
	NextRetryTime time.Time
}

// Breaker wraps calls to an unreliable collaborator, tripping open after
// a run of failures and probing for recovery via half-open calls.
type Breaker struct {
	config Config

	mu                sync.Mutex
	state             State
	failures          int64
	successes         int64
	requests          int64
	lastFailure       time.Time
	lastSuccess       time.Time
	nextRetryTime     time.Time
	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStarted   time.Time

	onStateChange func(from, to State)
	onFailure     func(error)
	onSuccess     func()
}

// NewBreaker constructs a Breaker in the closed state.
func NewBreaker(config Config) *Breaker {
	config.applyDefaults()
	return &Breaker{config: config, state: StateClosed}
}

// SetStateChangeCallback registers a callback invoked whenever the
// breaker transitions between states.
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// SetFailureCallback registers a callback invoked on every failed call.
func (b *Breaker) SetFailureCallback(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFailure = fn
}

// SetSuccessCallback registers a callback invoked on every successful call.
func (b *Breaker) SetSuccessCallback(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSuccess = fn
}

// Execute runs fn under the breaker's protection. The lock is held only
// for state bookkeeping before and after the call, never while fn itself
// runs, so concurrent Execute calls don't serialize on the collaborator's
// latency.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	b.requests++

	if b.state == StateOpen {
		if time.Now().Before(b.nextRetryTime) {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is open", b.config.Name)
		}
		b.setStateLocked(StateHalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStarted = time.Now()
	}

	if b.state == StateHalfOpen {
		if time.Since(b.halfOpenStarted) > b.config.Timeout*2 {
			b.tripLocked()
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s half-open timeout", b.config.Name)
		}
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			b.mu.Unlock()
			return fmt.Errorf("circuit breaker %s is half-open (max calls reached)", b.config.Name)
		}
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailureLocked(err)
		if b.shouldTripLocked() {
			b.tripLocked()
		}
		return err
	}
	b.onSuccessLocked()
	return nil
}

func (b *Breaker) shouldTripLocked() bool {
	return b.state == StateClosed && b.failures >= int64(b.config.FailureThreshold)
}

func (b *Breaker) tripLocked() {
	if b.state == StateOpen {
		return
	}
	b.setStateLocked(StateOpen)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
}

func (b *Breaker) onFailureLocked(err error) {
	b.failures++
	b.lastFailure = time.Now()
	if b.onFailure != nil {
		b.onFailure(err)
	}
	if b.state == StateHalfOpen {
		b.tripLocked()
	}
}

func (b *Breaker) onSuccessLocked() {
	b.successes++
	b.lastSuccess = time.Now()
	if b.onSuccess != nil {
		b.onSuccess()
	}
	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setStateLocked(StateClosed)
			b.resetLocked()
		}
	case StateClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
}

func (b *Breaker) resetLocked() {
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}
}

func (b *Breaker) setStateLocked(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	if b.onStateChange != nil {
		b.onStateChange(old, newState)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen reports whether the breaker is currently open.
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Reset forces the breaker back to closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setStateLocked(StateClosed)
	b.resetLocked()
}

// ForceOpen forces the breaker open regardless of its failure count.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tripLocked()
}

// CanExecute reports whether a call would currently be allowed through.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return time.Now().After(b.nextRetryTime)
	case StateHalfOpen:
		return b.halfOpenCalls < b.config.HalfOpenMaxCalls
	default:
		return false
	}
}

// GetStats returns a snapshot of the breaker's counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}
