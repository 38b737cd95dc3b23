package prefs

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected until the cool-down ends
	BreakerHalfOpen                     // one probe call allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("preferences backend unavailable")

// Breaker stops hammering an unreachable backend. After maxFailures
// consecutive failures it opens and fails fast for coolDown, then lets a
// single probe through: success closes it, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	maxFailures int
	coolDown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	// OnStateChange, if set, is called with the lock held.
	OnStateChange func(from, to BreakerState)
}

// NewBreaker returns a closed breaker. maxFailures below 1 is treated as 1.
func NewBreaker(maxFailures int, coolDown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: max(maxFailures, 1),
		coolDown:    coolDown,
		now:         time.Now,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			b.mu.Unlock()
			return ErrUnavailable
		}
		b.transition(BreakerHalfOpen)
	case BreakerHalfOpen:
		// a probe is already in flight
		b.mu.Unlock()
		return ErrUnavailable
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(BreakerOpen)
		}
		return err
	}
	b.failures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
	return nil
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if to == BreakerClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil && from != to {
		b.OnStateChange(from, to)
	}
}
