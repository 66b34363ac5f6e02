package queue

import "time"

const (
	baseBackoff = time.Minute
	maxBackoff  = time.Hour
)

// Backoff returns the wait after the given number of failed attempts:
// 1m, 2m, 4m, ... capped at an hour.
func Backoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	delay := baseBackoff
	for i := 1; i < retryCount; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// eligibleAt returns the next moment an operation may run again.
func eligibleAt(lastAttempt int64, retryCount int) time.Time {
	if lastAttempt == 0 {
		return time.Time{}
	}
	return time.Unix(lastAttempt, 0).Add(Backoff(retryCount))
}
