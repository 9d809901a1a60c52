package adapter

import (
	"sync"
	"time"
)

// CircuitState represents the health of one exchange source.
type CircuitState int32

const (
	CircuitClosed   CircuitState = iota // healthy
	CircuitOpen                         // failing, fetches are skipped
	CircuitHalfOpen                     // cool-off elapsed, one probe allowed
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tunable parameters for the Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed fetches after
	// which a source is skipped. Default: 3.
	FailureThreshold int

	// CoolOff is how long an open source is skipped before a single probe
	// fetch is allowed through. Default: 30s.
	CoolOff time.Duration
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		CoolOff:          30 * time.Second,
	}
}

// sourceKey identifies one fetch stream by exchange and side.
type sourceKey struct {
	Exchange Exchange
	Side     Side
}

type sourceState struct {
	Failures int
	OpenedAt time.Time
	State    CircuitState
}

// Breaker tracks consecutive fetch failures per (exchange, side) so that an
// exchange that keeps timing out does not hold every polling cycle up to
// the fetch timeout. A skipped source is reported as unavailable exactly
// like a failed one.
type Breaker struct {
	cfg BreakerConfig

	mu      sync.Mutex
	sources map[sourceKey]*sourceState

	nowFunc func() time.Time // injectable clock for testing
}

// NewBreaker creates a Breaker. Zero config values fall back to defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = def.CoolOff
	}
	return &Breaker{
		cfg:     cfg,
		sources: make(map[sourceKey]*sourceState),
		nowFunc: time.Now,
	}
}

// Allow reports whether a fetch for the source should be attempted. An open
// source whose cool-off has elapsed moves to half-open and lets exactly one
// probe through.
func (b *Breaker) Allow(exchange Exchange, side Side) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.sources[sourceKey{Exchange: exchange, Side: side}]
	if !ok {
		return true
	}

	switch st.State {
	case CircuitOpen:
		if b.nowFunc().Sub(st.OpenedAt) < b.cfg.CoolOff {
			return false
		}
		st.State = CircuitHalfOpen
		return true
	case CircuitHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

// Success records a completed fetch and closes the circuit.
func (b *Breaker) Success(exchange Exchange, side Side) {
	b.mu.Lock()
	delete(b.sources, sourceKey{Exchange: exchange, Side: side})
	b.mu.Unlock()
}

// Failure records a failed fetch. A failed half-open probe reopens the
// circuit immediately.
func (b *Breaker) Failure(exchange Exchange, side Side) {
	key := sourceKey{Exchange: exchange, Side: side}
	now := b.nowFunc()

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.sources[key]
	if !ok {
		st = &sourceState{}
		b.sources[key] = st
	}
	st.Failures++

	if st.State == CircuitHalfOpen || st.Failures >= b.cfg.FailureThreshold {
		st.State = CircuitOpen
		st.OpenedAt = now
	}
}

// Abandon records a fetch that ended without a verdict, such as one
// cancelled by a newer cycle. A pending half-open probe is returned to the
// open state so the next Allow can probe again.
func (b *Breaker) Abandon(exchange Exchange, side Side) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.sources[sourceKey{Exchange: exchange, Side: side}]; ok && st.State == CircuitHalfOpen {
		st.State = CircuitOpen
	}
}

// State returns the current circuit state for a source.
func (b *Breaker) State(exchange Exchange, side Side) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.sources[sourceKey{Exchange: exchange, Side: side}]
	if !ok {
		return CircuitClosed
	}
	return st.State
}
