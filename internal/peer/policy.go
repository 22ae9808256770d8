package peer

import "time"

// RetryPolicy decides whether and when a failed peer connection is rebuilt.
// The delay grows linearly with the attempt number.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return 5
	}
	return p.MaxAttempts
}

func (p RetryPolicy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return time.Second
	}
	return p.BaseDelay
}

// Allows reports whether another attempt may be made after `attempts`
// completed attempts.
func (p RetryPolicy) Allows(attempts int) bool {
	return attempts < p.maxAttempts()
}

// Delay returns the wait before attempt number `attempt` (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.baseDelay()
}

// CancelFunc cancels a scheduled callback. Cancelling after the callback ran
// is a no-op.
type CancelFunc func()

// Scheduler defers a callback by a delay. The real implementation uses timers;
// tests substitute one that fires synchronously under controlled time.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) CancelFunc
}

// TimerScheduler schedules callbacks on real timers.
type TimerScheduler struct{}

func (TimerScheduler) Schedule(d time.Duration, fn func()) CancelFunc {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
