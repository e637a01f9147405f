package task

import "time"

// DefaultRetryDelay is the fixed countdown before a rescheduled task is ready again.
const DefaultRetryDelay = 5 * time.Second

// Action is what the retry policy tells a worker to do with a failed task.
type Action int

// Retry actions.
const (
	ActionTerminate Action = iota
	ActionReschedule
)

// Decision is the retry policy's verdict for one failure.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Terminate is the decision to fail the task for good.
var Terminate = Decision{Action: ActionTerminate}

// RetryPolicy decides whether a failed task is rescheduled. It is a value
// with no mutable state: identical inputs always give identical decisions.
type RetryPolicy struct {
	// MaxRetries is the default reschedule budget stamped on new tasks.
	MaxRetries int

	// Delay is the fixed reschedule countdown.
	Delay time.Duration
}

// DefaultRetryPolicy returns three retries at a five second delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		Delay:      DefaultRetryDelay,
	}
}

// Retryable reports whether failures of class may succeed on a later attempt.
// Only a missing account is transient: it may be created by a later
// operation. Everything else is permanent.
func (p RetryPolicy) Retryable(class ErrorClass) bool {
	return class == ClassAccountNotFound
}

// Decide returns the decision for a failure of class on the given attempt
// (1 for the first execution). A retryable failure is rescheduled while
// attempt <= maxRetries, so a task runs at most maxRetries+1 times.
func (p RetryPolicy) Decide(class ErrorClass, attempt, maxRetries int) Decision {
	if !p.Retryable(class) || attempt > maxRetries {
		return Terminate
	}
	return Decision{Action: ActionReschedule, Delay: p.Delay}
}
