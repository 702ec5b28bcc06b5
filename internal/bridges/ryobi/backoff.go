package ryobi

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff defaults for the live session.
const (
	defaultRetryDelay    = 2 * time.Second
	defaultMaxRetryDelay = 2 * time.Minute
	backoffMultiplier    = 2.0
	backoffJitter        = 0.25
)

// Backoff calculates exponential reconnect delays with jitter.
// A zero initial delay disables waiting entirely.
type Backoff struct {
	mu sync.Mutex

	current time.Duration // before jitter
	initial time.Duration
	max     time.Duration

	multiplier float64
	jitter     float64

	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff starting at initial and capped at max.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial < 0 {
		initial = 0
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{
		current:    initial,
		initial:    initial,
		max:        maxDelay,
		multiplier: backoffMultiplier,
		jitter:     backoffJitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter only
	}
}

// Next returns the next delay (with jitter) and advances the backoff.
// The jittered delay never exceeds the cap.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.jitter > 0 && delay > 0 {
		delay += time.Duration(float64(delay) * b.jitter * b.rng.Float64())
	}
	if delay > b.max {
		delay = b.max
	}

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset returns the backoff to its initial delay.
// Called after the session reaches Connected.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Current returns the base delay (without jitter) the next call will use.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
