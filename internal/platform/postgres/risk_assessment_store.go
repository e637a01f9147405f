package postgres

import (
	"context"
	"log/slog"

	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/platform/logger"
	"github.com/phrazzld/bank-api/internal/store"
)

// PostgresRiskAssessmentStore implements store.RiskAssessmentStore.
type PostgresRiskAssessmentStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresRiskAssessmentStore creates a new PostgresRiskAssessmentStore.
// If logger is nil, a default logger will be used.
func NewPostgresRiskAssessmentStore(db store.DBTX, logger *slog.Logger) *PostgresRiskAssessmentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresRiskAssessmentStore{
		db:     db,
		logger: logger.With(slog.String("component", "risk_assessment_store")),
	}
}

var _ store.RiskAssessmentStore = (*PostgresRiskAssessmentStore)(nil)

// Create implements store.RiskAssessmentStore.Create
func (s *PostgresRiskAssessmentStore) Create(ctx context.Context, assessment *domain.RiskAssessment) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		INSERT INTO risk_assessments (customer_id, score, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		assessment.CustomerID,
		assessment.Score,
		assessment.CreatedAt,
	).Scan(&assessment.ID)
	if err != nil {
		log.Error("failed to create risk assessment",
			slog.String("error", err.Error()),
			slog.Int64("customer_id", assessment.CustomerID))
		return MapError(err)
	}

	log.Debug("risk assessment created",
		slog.Int64("risk_assessment_id", assessment.ID),
		slog.Int64("customer_id", assessment.CustomerID))
	return nil
}
