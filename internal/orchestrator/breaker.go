package orchestrator

import (
	"sync"
	"time"
)

const (
	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
)

// timeNow is stubbed in tests to exercise cooldown expiry.
var timeNow = time.Now

// breaker trips after consecutive retrieval failures so a sustained
// knowledge-store outage stops costing every call the full retrieval
// timeout. After the cooldown a single probe call is let through.
type breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !timeNow().Before(b.openUntil)
}

// success resets the failure count.
func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// failure counts a failed call and opens the circuit at the threshold.
func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = timeNow().Add(b.cooldown)
		b.failures = 0
	}
}
