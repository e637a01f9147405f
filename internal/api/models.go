package api

import (
	"time"

	"github.com/phrazzld/bank-api/internal/task"
)

// TransferRequest defines the payload for the transfer endpoint.
type TransferRequest struct {
	SourceAccountID int64 `json:"source_account_id" validate:"required,gt=0"`
	TargetAccountID int64 `json:"target_account_id" validate:"required,gt=0,nefield=SourceAccountID"`

	// Amount is a decimal string such as "125.50"
	Amount string `json:"amount" validate:"required,numeric"`
}

// RiskAssessmentRequest defines the payload for the risk assessment endpoint.
type RiskAssessmentRequest struct {
	CustomerID int64 `json:"customer_id" validate:"required,gt=0"`
	// RiskScore is a pointer so that an explicit zero passes "required"
	RiskScore *int `json:"risk_score" validate:"required"`
}

// TaskAcceptedResponse is returned when a task has been queued.
type TaskAcceptedResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse describes a task's current status or final result.
type TaskResponse struct {
	TaskID      string     `json:"task_id"`
	Kind        string     `json:"kind"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Result      any        `json:"result,omitempty"`
	ErrorClass  string     `json:"error_class,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// taskToResponse converts a task.Result to a TaskResponse
func taskToResponse(result task.Result) TaskResponse {
	return TaskResponse{
		TaskID:      result.TaskID.String(),
		Kind:        result.Kind.String(),
		Status:      string(result.Status),
		Attempts:    result.Attempts,
		Result:      result.Value,
		ErrorClass:  string(result.ErrorClass),
		Error:       result.Message,
		CompletedAt: result.CompletedAt,
	}
}
