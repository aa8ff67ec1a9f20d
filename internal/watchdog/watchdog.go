// Package watchdog tracks per-task attempts and consecutive failures.
package watchdog

// RetryTracker keeps in-memory retry accounting for a single shepherd run.
type RetryTracker struct {
	maxRetriesPerTask      int
	maxConsecutiveFailures int

	attempts            map[string]int
	consecutiveFailures int
}

// NewRetryTracker creates a tracker with the given ceilings.
func NewRetryTracker(maxRetriesPerTask, maxConsecutiveFailures int) *RetryTracker {
	return &RetryTracker{
		maxRetriesPerTask:      maxRetriesPerTask,
		maxConsecutiveFailures: maxConsecutiveFailures,
		attempts:               make(map[string]int),
	}
}

// RecordSuccess zeroes the consecutive-failure counter and forgets the
// task's attempts.
func (t *RetryTracker) RecordSuccess(taskID string) {
	t.consecutiveFailures = 0
	delete(t.attempts, taskID)
}

// RecordFailure increments both the task's attempt count and the global
// consecutive-failure counter.
func (t *RetryTracker) RecordFailure(taskID string) {
	t.consecutiveFailures++
	t.attempts[taskID]++
}

// CanRetry reports whether the task is still within its retry budget.
func (t *RetryTracker) CanRetry(taskID string) bool {
	return t.attempts[taskID] <= t.maxRetriesPerTask
}

// TooManyConsecutiveFailures reports whether the global ceiling is hit.
func (t *RetryTracker) TooManyConsecutiveFailures() bool {
	return t.consecutiveFailures >= t.maxConsecutiveFailures
}

// ConsecutiveFailures exposes the current global failure streak.
func (t *RetryTracker) ConsecutiveFailures() int {
	return t.consecutiveFailures
}
