package circuitbreaker

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

type (
	CircuitBreaker struct {
		mu              sync.RWMutex
		clock           clockz.Clock
		failureCount    int
		successCount    int
		lastFailureTime time.Time
		state           State
		maxFailures     int
		timeout         time.Duration
		resetThreshold  int
	}

	State int
)

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
	}
	return "unknown"
}

func NewCircuitBreaker(clock clockz.Clock, maxFailures int, timeout time.Duration, resetThreshold int) *CircuitBreaker {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &CircuitBreaker{
		clock:          clock,
		maxFailures:    maxFailures,
		timeout:        timeout,
		resetThreshold: resetThreshold,
		state:          StateClosed,
	}
}

// CanExecute reports whether a call may go through. An open breaker lets a
// trial request through once timeout has elapsed since the last failure.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successCount++

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		if cb.successCount >= cb.resetThreshold {
			cb.reset()
		}
	case StateOpen:
		cb.state = StateHalfOpen
		cb.successCount = 1
	}
}

func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.clock.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *CircuitBreaker) reset() {
	cb.failureCount = 0
	cb.successCount = 0
	cb.state = StateClosed
}

// Set hands out one breaker per gateway, created on first use.
type Set struct {
	mu             sync.Mutex
	clock          clockz.Clock
	maxFailures    int
	timeout        time.Duration
	resetThreshold int
	breakers       map[string]*CircuitBreaker
}

func NewSet(clock clockz.Clock, maxFailures int, timeout time.Duration, resetThreshold int) *Set {
	return &Set{
		clock:          clock,
		maxFailures:    maxFailures,
		timeout:        timeout,
		resetThreshold: resetThreshold,
		breakers:       make(map[string]*CircuitBreaker),
	}
}

func (s *Set) For(gatewayID string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[gatewayID]
	if !ok {
		cb = NewCircuitBreaker(s.clock, s.maxFailures, s.timeout, s.resetThreshold)
		s.breakers[gatewayID] = cb
	}
	return cb
}

// States snapshots every breaker created so far.
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.breakers))
	for id, cb := range s.breakers {
		out[id] = cb.GetState()
	}
	return out
}
