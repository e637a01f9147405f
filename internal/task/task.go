package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/shopspring/decimal"
)

// Kind identifies which domain operation a task runs.
type Kind int

// Task kinds. The zero value is invalid.
const (
	KindUnknown Kind = iota
	KindTransferFunds
	KindCreateRiskAssessment
)

// String returns the wire and storage name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransferFunds:
		return "transfer_funds"
	case KindCreateRiskAssessment:
		return "create_risk_assessment"
	default:
		return "unknown"
	}
}

// ParseKind converts a stored or wire name back into a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "transfer_funds":
		return KindTransferFunds, nil
	case "create_risk_assessment":
		return KindCreateRiskAssessment, nil
	default:
		return KindUnknown, fmt.Errorf("unknown task kind %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Status represents the current state of a task
type Status string

// Possible task status values
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// DefaultMaxRetries is how many times a transiently failing task is rescheduled.
const DefaultMaxRetries = 3

// Descriptor is a unit of deferred work and its delivery state.
// Queues own descriptors until they reach a terminal status; workers mutate
// the copy they were handed and write it back through the Queue.
type Descriptor struct {
	ID         uuid.UUID       `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	ReadyAt    time.Time       `json:"ready_at"`
	// Seq is the enqueue order; ready tasks are delivered lowest Seq first.
	Seq       uint64    `json:"seq"`
	Status    Status    `json:"status"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	if d.Payload != nil {
		c.Payload = append(json.RawMessage(nil), d.Payload...)
	}
	return &c
}

// Payload is the typed, immutable input of a task.
type Payload interface {
	// Kind returns the task kind this payload belongs to.
	Kind() Kind

	// Validate checks the payload before it is enqueued.
	Validate() error
}

// TransferPayload moves Amount from the source to the target account.
// Amount is encoded as a decimal string on the wire.
type TransferPayload struct {
	SourceAccountID int64           `json:"source_account_id"`
	TargetAccountID int64           `json:"target_account_id"`
	Amount          decimal.Decimal `json:"amount"`
}

// Kind implements Payload.
func (p TransferPayload) Kind() Kind { return KindTransferFunds }

// Validate implements Payload.
func (p TransferPayload) Validate() error {
	if p.SourceAccountID <= 0 {
		return domain.NewValidationError("source_account_id", "must be positive", domain.ErrInvalidID)
	}
	if p.TargetAccountID <= 0 {
		return domain.NewValidationError("target_account_id", "must be positive", domain.ErrInvalidID)
	}
	if p.SourceAccountID == p.TargetAccountID {
		return domain.NewValidationError("target_account_id", "equals source", domain.ErrSameAccount)
	}
	if !p.Amount.IsPositive() {
		return domain.NewValidationError("amount", p.Amount.String(), domain.ErrInvalidAmount)
	}
	return nil
}

// RiskAssessmentPayload records RiskScore against a customer.
type RiskAssessmentPayload struct {
	CustomerID int64 `json:"customer_id"`
	RiskScore  int   `json:"risk_score"`
}

// Kind implements Payload.
func (p RiskAssessmentPayload) Kind() Kind { return KindCreateRiskAssessment }

// Validate implements Payload.
func (p RiskAssessmentPayload) Validate() error {
	if p.CustomerID <= 0 {
		return domain.NewValidationError("customer_id", "must be positive", domain.ErrInvalidID)
	}
	return nil
}

// TaskStore persists descriptors so work survives a restart.
type TaskStore interface {
	// SaveTask inserts or updates the task. result is set once the task is
	// terminal. A write older than the stored state (by UpdatedAt) is ignored.
	SaveTask(ctx context.Context, d *Descriptor, result *Result) error

	// GetTask returns the stored task and, when terminal, its result.
	// Returns ErrTaskNotFound if no task has the given ID.
	GetTask(ctx context.Context, id uuid.UUID) (*Descriptor, *Result, error)

	// GetTasksByStatus returns tasks in any of the given statuses, oldest first.
	GetTasksByStatus(ctx context.Context, statuses ...Status) ([]*Descriptor, error)
}

// ErrRunnerLockHeld is returned when another task runner already works
// against the same task store.
var ErrRunnerLockHeld = errors.New("task store is locked by another runner")

// RunnerLocker is implemented by task stores that can keep a second runner
// from starting against them. Recovery fails every running task, so it is
// only safe while no other runner is executing tasks from the same store.
type RunnerLocker interface {
	// AcquireRunnerLock returns ErrRunnerLockHeld if another runner holds
	// the lock. release gives it up.
	AcquireRunnerLock(ctx context.Context) (release func(), err error)
}
