package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a sustained event rate with a burst allowance. Instead of
// counting tokens it tracks the theoretical arrival time of the next
// conforming event, so the whole state is one timestamp and the arithmetic
// stays in integer durations.
type Limiter struct {
	mu sync.Mutex

	clock    Clock
	interval time.Duration // spacing between events at the sustained rate
	burst    time.Duration // how far the schedule may run ahead of real time

	next time.Time
}

// NewLimiter admits rate events per second sustained, with up to burst events
// back to back. A fresh limiter has its full burst available. rate < 1 or
// burst < 1 yields a limiter that rejects everything.
func NewLimiter(clock Clock, rate, burst int) *Limiter {
	if clock == nil {
		clock = RealClock{}
	}
	l := &Limiter{clock: clock}
	if rate < 1 || burst < 1 {
		return l
	}
	l.interval = time.Second / time.Duration(rate)
	l.burst = time.Duration(burst) * l.interval
	return l
}

// Allow reports whether one event may proceed now.
func (l *Limiter) Allow() bool {
	if l.interval <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	next := l.next
	if next.Before(now) {
		next = now
	}
	// Admitting the event would push the schedule further ahead of real time
	// than the burst allowance permits.
	if next.Sub(now) > l.burst-l.interval {
		return false
	}
	l.next = next.Add(l.interval)
	return true
}
