package retry

import "time"

// BaseDelay is the wait before the first automatic re-attempt; it doubles
// with every further attempt (1m, 2m, 4m).
const BaseDelay = time.Minute

// Delay returns the backoff before the given attempt (1-based).
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// NextAttemptAt computes when a delivery that just failed its attempt'th try
// should be retried, or nil when the retry budget is spent.
func NextAttemptAt(now time.Time, retryCount, maxRetries int) *time.Time {
	if retryCount >= maxRetries {
		return nil
	}
	at := now.Add(Delay(retryCount + 1))
	return &at
}
