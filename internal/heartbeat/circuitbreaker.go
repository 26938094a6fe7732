package heartbeat

import (
	"sync"
	"time"
)

// CircuitState is a node in the breaker's state machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

type circuitRecord struct {
	state       CircuitState
	failures    int
	openedAt    time.Time
	probeInFlight bool
}

// CircuitBreaker tracks per-bot failure streaks and gates ticks once a
// bot has failed too many times in a row: CLOSED -> (failures >=
// threshold) OPEN -> (after timeout) HALF_OPEN -> (success) CLOSED |
// (failure) OPEN.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	timeout   time.Duration
	records   map[string]*circuitRecord
}

// NewCircuitBreaker creates a breaker that opens after threshold
// consecutive failures and attempts a half-open probe after timeout.
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
		records:   make(map[string]*circuitRecord),
	}
}

// RegisterBot ensures a bot has a tracked record, starting CLOSED.
func (cb *CircuitBreaker) RegisterBot(botName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if _, ok := cb.records[botName]; !ok {
		cb.records[botName] = &circuitRecord{state: CircuitClosed}
	}
}

func (cb *CircuitBreaker) record(botName string) *circuitRecord {
	r, ok := cb.records[botName]
	if !ok {
		r = &circuitRecord{state: CircuitClosed}
		cb.records[botName] = r
	}
	return r
}

// State returns the bot's current state, transitioning OPEN->HALF_OPEN
// automatically once the timeout has elapsed.
func (cb *CircuitBreaker) State(botName string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	r := cb.record(botName)
	if r.state == CircuitOpen && time.Since(r.openedAt) >= cb.timeout {
		r.state = CircuitHalfOpen
	}
	return r.state
}

// AllowProbe reports whether a HALF_OPEN bot may attempt its single probe
// right now, reserving the slot so concurrent callers don't double-probe.
func (cb *CircuitBreaker) AllowProbe(botName string) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	r := cb.record(botName)
	if r.state != CircuitHalfOpen || r.probeInFlight {
		return false
	}
	r.probeInFlight = true
	return true
}

// RecordSuccess closes the circuit and resets the failure streak.
func (cb *CircuitBreaker) RecordSuccess(botName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	r := cb.record(botName)
	r.state = CircuitClosed
	r.failures = 0
	r.probeInFlight = false
}

// RecordFailure increments the failure streak, opening the circuit once
// the threshold is reached (or immediately re-opening from HALF_OPEN).
func (cb *CircuitBreaker) RecordFailure(botName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	r := cb.record(botName)
	r.probeInFlight = false
	if r.state == CircuitHalfOpen {
		r.state = CircuitOpen
		r.openedAt = time.Now()
		return
	}
	r.failures++
	if r.failures >= cb.threshold {
		r.state = CircuitOpen
		r.openedAt = time.Now()
	}
}
