package delivery

import "time"

// MaxRetries is the number of retry attempts permitted before a message
// moves to DLQ (spec §4.3/§4.4, constant MAX_RETRIES).
const MaxRetries = 3

// RetryDelay is the fixed backoff between delivery attempts (spec §4.4,
// constant RETRY_DELAY). Unlike the teacher's per-attempt schedule, done's
// retry policy is a single flat delay regardless of attempt count.
const RetryDelay = time.Minute

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Sent means the delivery succeeded (HTTP 200 or 201).
	Sent Decision = iota

	// Retry means the delivery should be attempted again after RetryDelay.
	Retry

	// DLQ means retried has reached MaxRetries; the message is dead-lettered.
	DLQ
)

// Decide determines what to do with a message after a delivery attempt,
// given the number of retries already recorded before this attempt.
func Decide(result Result, retriedSoFar int) Decision {
	if result.Success {
		return Sent
	}
	if retriedSoFar+1 >= MaxRetries {
		return DLQ
	}
	return Retry
}

// NextAttempt returns the instant at which a retried message becomes
// eligible for its next delivery attempt.
func NextAttempt(now time.Time) time.Time {
	return now.Add(RetryDelay)
}
