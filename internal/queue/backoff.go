package queue

import "time"

// MaxBackoff caps the delay between two attempts of the same job.
const MaxBackoff = time.Hour

// Backoff returns the delay before the attempt following retryCount failed
// ones: delay * 2^retryCount, capped at MaxBackoff.
func Backoff(delay time.Duration, retryCount int) time.Duration {
	if delay <= 0 {
		return 0
	}
	d := delay
	for i := 0; i < retryCount; i++ {
		if d >= MaxBackoff/2 {
			return MaxBackoff
		}
		d *= 2
	}
	return min(d, MaxBackoff)
}
