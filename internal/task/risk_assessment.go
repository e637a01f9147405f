package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/store"
)

// RiskAssessmentOutcome is the success value of CreateRiskAssessment.
type RiskAssessmentOutcome struct {
	ID         int64 `json:"id"`
	CustomerID int64 `json:"customer_id"`
	Score      int   `json:"score"`
}

// CreateRiskAssessmentOperation records risk scores for customers.
type CreateRiskAssessmentOperation struct {
	assessments store.RiskAssessmentStore
	logger      *slog.Logger
}

// NewCreateRiskAssessmentOperation creates the operation.
func NewCreateRiskAssessmentOperation(
	assessments store.RiskAssessmentStore,
	logger *slog.Logger,
) (*CreateRiskAssessmentOperation, error) {
	if assessments == nil {
		return nil, fmt.Errorf("assessments cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &CreateRiskAssessmentOperation{
		assessments: assessments,
		logger:      logger.With("component", "create_risk_assessment"),
	}, nil
}

// Execute decodes a RiskAssessmentPayload and stores a new assessment.
// Any store error is permanent.
func (op *CreateRiskAssessmentOperation) Execute(ctx context.Context, raw json.RawMessage) Outcome {
	var p RiskAssessmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Failure(ClassInvalidPayload, fmt.Errorf("decode risk assessment payload: %w", err))
	}
	if err := p.Validate(); err != nil {
		return Failure(ClassInvalidPayload, err)
	}

	assessment, err := domain.NewRiskAssessment(p.CustomerID, p.RiskScore)
	if err != nil {
		return Failure(ClassInvalidPayload, err)
	}
	if err := op.assessments.Create(ctx, assessment); err != nil {
		op.logger.Error("failed to create risk assessment",
			"customer_id", p.CustomerID,
			"error", err)
		return Failure(ClassStoreFailure, fmt.Errorf("create risk assessment: %w", err))
	}

	op.logger.Info("risk assessment created",
		"risk_assessment_id", assessment.ID,
		"customer_id", assessment.CustomerID)

	return Success(RiskAssessmentOutcome{
		ID:         assessment.ID,
		CustomerID: assessment.CustomerID,
		Score:      assessment.Score,
	})
}
