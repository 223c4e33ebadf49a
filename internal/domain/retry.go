package domain

import (
	"math/rand"
	"time"
)

// DefaultMaxRetries bounds per-stage attempts before FAILED_PERMANENTLY.
const DefaultMaxRetries = 3

// StageRetryCountdown is the delay before re-delivering a model-stage retry:
// (2^(attempt-1)) * 60 seconds.
func StageRetryCountdown(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(1<<uint(attempt-1)) * time.Minute
}

// FetchBackoff is the jittered exponential delay used when a fetch task must
// reschedule: base min(2^retries, 64) seconds plus random [0.1, 0.7].
func FetchBackoff(retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	base := 1 << uint(retries)
	if base > 64 {
		base = 64
	}
	jitter := 0.1 + rand.Float64()*0.6
	return time.Duration((float64(base) + jitter) * float64(time.Second))
}
