package memory

import (
	"context"
	"sync"

	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/store"
)

// RiskAssessmentStore implements store.RiskAssessmentStore in memory.
type RiskAssessmentStore struct {
	mu          sync.RWMutex
	assessments []domain.RiskAssessment

	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewRiskAssessmentStore creates an empty RiskAssessmentStore.
func NewRiskAssessmentStore() *RiskAssessmentStore {
	return &RiskAssessmentStore{}
}

// Create implements store.RiskAssessmentStore. IDs are assigned sequentially from 1.
func (s *RiskAssessmentStore) Create(ctx context.Context, assessment *domain.RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CreateErr != nil {
		return s.CreateErr
	}

	assessment.ID = int64(len(s.assessments) + 1)
	s.assessments = append(s.assessments, *assessment)
	return nil
}

// All returns a copy of every stored assessment in creation order.
func (s *RiskAssessmentStore) All() []domain.RiskAssessment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.RiskAssessment, len(s.assessments))
	copy(out, s.assessments)
	return out
}

var _ store.RiskAssessmentStore = (*RiskAssessmentStore)(nil)
