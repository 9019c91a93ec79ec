package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Breaker opens after Threshold consecutive failures and lets one probe
// through once Cooldown has elapsed.
type Breaker struct {
	Threshold int
	Cooldown  time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	now      func() time.Time
}

// NewBreaker returns a breaker with five failures and a one minute cooldown.
func NewBreaker() *Breaker {
	return &Breaker{Threshold: 5, Cooldown: time.Minute}
}

func (b *Breaker) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// Allow reports whether a call may proceed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures < b.Threshold {
		return nil
	}
	if b.clock().Sub(b.openedAt) >= b.Cooldown {
		// half-open: a single probe resets or reopens the breaker
		b.failures = b.Threshold - 1
		return nil
	}
	return ErrCircuitOpen
}

// Record updates the breaker with the result of a call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.Threshold {
		b.openedAt = b.clock()
	}
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.failures < b.Threshold:
		return "closed"
	case b.clock().Sub(b.openedAt) >= b.Cooldown:
		return "half-open"
	default:
		return "open"
	}
}
