package domain

import "time"

// RiskAssessment is a risk score recorded against a customer.
type RiskAssessment struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	Score      int       `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRiskAssessment creates an unsaved RiskAssessment.
// The ID stays zero until the store assigns one.
func NewRiskAssessment(customerID int64, score int) (*RiskAssessment, error) {
	if customerID <= 0 {
		return nil, NewValidationError("customer_id", "must be positive", ErrInvalidID)
	}

	return &RiskAssessment{
		CustomerID: customerID,
		Score:      score,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
