package health

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/piwardrive/piwardrive/internal/infra/metrics"
)

// serviceBreaker wraps a gobreaker.CircuitBreaker with the doubling,
// capped cool-down spec.md §4.4 requires: CLOSED→OPEN after F
// consecutive failures, OPEN→HALF_OPEN after a cool-down, one
// HALF_OPEN probe succeeds→CLOSED or fails→OPEN with the cool-down
// doubled (capped at maxTimeout). gobreaker's Timeout is fixed per
// instance, so a repeat trip rebuilds the breaker with the new
// cool-down rather than mutating it in place.
type serviceBreaker struct {
	name           string
	failThreshold  uint32
	baseTimeout    time.Duration
	maxTimeout     time.Duration

	mu             sync.Mutex
	currentTimeout time.Duration
	cb             *gobreaker.CircuitBreaker
}

func newServiceBreaker(name string, failThreshold uint32, baseTimeout, maxTimeout time.Duration) *serviceBreaker {
	b := &serviceBreaker{
		name:           name,
		failThreshold:  failThreshold,
		baseTimeout:    baseTimeout,
		maxTimeout:     maxTimeout,
		currentTimeout: baseTimeout,
	}
	b.cb = b.build(baseTimeout)
	return b
}

func (b *serviceBreaker) build(timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.failThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.ServiceCircuitState.WithLabelValues(name).Set(circuitStateValue(to))
			b.onStateChange(from, to)
		},
	})
}

func (b *serviceBreaker) onStateChange(from, to gobreaker.State) {
	b.mu.Lock()
	rebuild := false
	switch {
	case to == gobreaker.StateOpen && from == gobreaker.StateHalfOpen:
		// Repeat failure: the half-open probe tripped again, double
		// the cool-down.
		b.currentTimeout *= 2
		if b.currentTimeout > b.maxTimeout {
			b.currentTimeout = b.maxTimeout
		}
		rebuild = true
	case to == gobreaker.StateOpen:
		// First trip from closed: cool down at the base duration.
		b.currentTimeout = b.baseTimeout
		rebuild = true
	case to == gobreaker.StateClosed:
		b.currentTimeout = b.baseTimeout
		rebuild = true
	}
	newTimeout := b.currentTimeout
	cur := b.cb
	b.mu.Unlock()

	if rebuild {
		rebuilt := b.build(newTimeout)
		b.mu.Lock()
		if b.cb == cur {
			b.cb = rebuilt
		}
		b.mu.Unlock()
	}
}

// Execute runs fn through the breaker, tripping it on consecutive
// failures and rejecting calls while open.
func (b *serviceBreaker) Execute(fn func() (any, error)) (any, error) {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	return cb.Execute(fn)
}

// State reports the breaker's current state.
func (b *serviceBreaker) State() gobreaker.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb.State()
}

func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
