package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrorClass classifies why an operation failed. The retry policy decides
// on the class alone.
type ErrorClass string

// Error classes.
const (
	ClassNone              ErrorClass = ""
	ClassAccountNotFound   ErrorClass = "account_not_found"
	ClassInsufficientFunds ErrorClass = "insufficient_funds"
	ClassStoreFailure      ErrorClass = "store_failure"
	ClassInvalidPayload    ErrorClass = "invalid_payload"
	ClassUnknownKind       ErrorClass = "unknown_kind"
	ClassInterrupted       ErrorClass = "interrupted"
)

// Outcome is what a domain operation returns: a success value, or an error
// classification with the underlying error.
type Outcome struct {
	Value any
	Class ErrorClass
	Err   error
}

// Success wraps the value produced by a successful operation.
func Success(value any) Outcome {
	return Outcome{Value: value}
}

// Failure classifies err. A nil err is replaced by one naming the class.
func Failure(class ErrorClass, err error) Outcome {
	if err == nil {
		err = errors.New(string(class))
	}
	return Outcome{Class: class, Err: err}
}

// OK reports whether the operation succeeded.
func (o Outcome) OK() bool {
	return o.Class == ClassNone && o.Err == nil
}

// Message is the human-readable failure text, empty on success.
func (o Outcome) Message() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Result is the terminal (or, when read early, current) state of a task.
type Result struct {
	TaskID      uuid.UUID  `json:"task_id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Value       any        `json:"value,omitempty"`
	ErrorClass  ErrorClass `json:"error_class,omitempty"`
	Message     string     `json:"message,omitempty"`
	Attempts    int        `json:"attempts"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// statusResult describes a task that has not finished yet.
func statusResult(d *Descriptor) Result {
	return Result{
		TaskID:   d.ID,
		Kind:     d.Kind,
		Status:   d.Status,
		Message:  d.LastError,
		Attempts: d.Attempt,
	}
}
