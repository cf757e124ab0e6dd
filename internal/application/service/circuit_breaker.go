package service

import (
	"sync"
	"time"

	"enrichd/internal/domain/valueobject"
)

// CircuitBreaker tracks the health of a single external dependency and
// fails fast once it is deemed unhealthy. One instance guards one
// dependency (processor, embedding service) for the process lifetime;
// instances are dependency-injected so tests can construct isolated ones.
type CircuitBreaker interface {
	// Allow reports whether a call may be made right now. While open it
	// returns false until the cooldown elapses, then admits exactly one
	// half-open probe.
	Allow() bool

	// RecordSuccess records a successful dependency call.
	RecordSuccess()

	// RecordFailure records a failed dependency call, including timeouts.
	RecordFailure()

	// State returns the current breaker state.
	State() valueobject.BreakerState

	// FailureCount returns the failure count within the current window.
	FailureCount() int

	// Name returns the guarded dependency's name.
	Name() string
}

// BreakerConfig holds configuration for one dependency breaker.
type BreakerConfig struct {
	Name             string
	FailureThreshold int
	Cooldown         time.Duration
	// Window bounds how long failures accumulate toward the threshold.
	// Zero means failures only reset on success.
	Window        time.Duration
	OnStateChange func(name string, from, to valueobject.BreakerState)
}

// dependencyBreaker implements the closed/open/half-open state machine.
// A mutex guards transitions; Allow is on every worker's hot path but the
// critical section is a handful of comparisons.
type dependencyBreaker struct {
	config BreakerConfig
	now    func() time.Time

	mu            sync.Mutex
	state         valueobject.BreakerState
	failureCount  int
	windowStart   time.Time
	cooldownUntil time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a closed breaker for one dependency.
func NewCircuitBreaker(config BreakerConfig) CircuitBreaker {
	return newDependencyBreaker(config, time.Now)
}

func newDependencyBreaker(config BreakerConfig, now func() time.Time) *dependencyBreaker {
	return &dependencyBreaker{
		config: config,
		now:    now,
		state:  valueobject.BreakerStateClosed,
	}
}

func (b *dependencyBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case valueobject.BreakerStateClosed:
		return true

	case valueobject.BreakerStateOpen:
		if b.now().Before(b.cooldownUntil) {
			return false
		}
		// Cooldown elapsed: move to half-open and grant this caller the
		// single probe.
		b.transitionTo(valueobject.BreakerStateHalfOpen)
		b.probeInFlight = true
		return true

	case valueobject.BreakerStateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

func (b *dependencyBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case valueobject.BreakerStateHalfOpen:
		b.probeInFlight = false
		b.failureCount = 0
		b.transitionTo(valueobject.BreakerStateClosed)
	case valueobject.BreakerStateClosed:
		// Threshold counts consecutive failures.
		b.failureCount = 0
	case valueobject.BreakerStateOpen:
		// Late result from a call that started before the breaker opened.
	}
}

func (b *dependencyBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	switch b.state {
	case valueobject.BreakerStateClosed:
		if b.config.Window > 0 && now.Sub(b.windowStart) > b.config.Window {
			b.failureCount = 0
			b.windowStart = now
		}
		if b.failureCount == 0 {
			b.windowStart = now
		}
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.open(now)
		}

	case valueobject.BreakerStateHalfOpen:
		// Probe failed: back to open with a fresh cooldown.
		b.probeInFlight = false
		b.open(now)

	case valueobject.BreakerStateOpen:
		// Late result; don't extend the cooldown.
	}
}

func (b *dependencyBreaker) open(now time.Time) {
	b.cooldownUntil = now.Add(b.config.Cooldown)
	b.transitionTo(valueobject.BreakerStateOpen)
}

func (b *dependencyBreaker) transitionTo(target valueobject.BreakerState) {
	from := b.state
	if from == target {
		return
	}
	b.state = target
	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.config.Name, from, target)
	}
}

func (b *dependencyBreaker) State() valueobject.BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Surface half-open as soon as the cooldown has elapsed, even before
	// the next Allow call performs the transition.
	if b.state == valueobject.BreakerStateOpen && !b.now().Before(b.cooldownUntil) {
		return valueobject.BreakerStateHalfOpen
	}
	return b.state
}

func (b *dependencyBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

func (b *dependencyBreaker) Name() string {
	return b.config.Name
}
