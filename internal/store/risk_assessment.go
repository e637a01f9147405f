package store

import (
	"context"

	"github.com/phrazzld/bank-api/internal/domain"
)

// RiskAssessmentStore defines the interface for risk assessment persistence.
type RiskAssessmentStore interface {
	// Create saves a new risk assessment and assigns its ID.
	Create(ctx context.Context, assessment *domain.RiskAssessment) error
}
