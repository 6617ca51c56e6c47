package shipper

import (
	"sync"
	"time"
)

// BreakerState is one of the three circuit breaker states from spec.md §4.6.
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the failure/recovery thresholds from spec.md §4.6.
type BreakerConfig struct {
	Failures  int           // F: consecutive failures before tripping open
	OpenFor   time.Duration // T_open: time spent in OPEN before probing
	Successes int           // S: consecutive probe successes before closing
}

const (
	DefaultBreakerFailures  = 5
	DefaultBreakerOpenFor   = 30 * time.Second
	DefaultBreakerSuccesses = 2
)

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Failures <= 0 {
		c.Failures = DefaultBreakerFailures
	}
	if c.OpenFor <= 0 {
		c.OpenFor = DefaultBreakerOpenFor
	}
	if c.Successes <= 0 {
		c.Successes = DefaultBreakerSuccesses
	}
	return c
}

// Breaker is the circuit breaker FSM guarding the outbound connection. Its
// transitions are observable via State() so tests and metrics can assert
// them directly, per spec.md §9.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failStreak  int
	successStreak int
	openedAt   time.Time
}

// NewBreaker creates a Breaker in the CLOSED state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: Closed}
}

// State returns the current FSM state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether the caller may attempt I/O right now. If the
// breaker is OPEN but T_open has elapsed, it transitions to HALF_OPEN and
// allows exactly this one probe attempt through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.cfg.OpenFor {
			b.state = HalfOpen
			b.successStreak = 0
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess reports a successful send/probe.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failStreak = 0
	case HalfOpen:
		b.successStreak++
		if b.successStreak >= b.cfg.Successes {
			b.state = Closed
			b.failStreak = 0
			b.successStreak = 0
		}
	}
}

// RecordFailure reports a failed send/probe.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failStreak++
		if b.failStreak >= b.cfg.Failures {
			b.trip()
		}
	case HalfOpen:
		b.trip()
	}
}

// trip must be called with mu held.
func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.failStreak = 0
	b.successStreak = 0
}
