package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRiskAssessmentStore_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresRiskAssessmentStore(db, nil)
	assessment, err := domain.NewRiskAssessment(7, 42)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO risk_assessments")).
		WithArgs(int64(7), 42, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	require.NoError(t, s.Create(context.Background(), assessment))
	assert.Equal(t, int64(3), assessment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRiskAssessmentStore_Create_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgresRiskAssessmentStore(db, nil)
	assessment, err := domain.NewRiskAssessment(7, 42)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO risk_assessments")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode})

	err = s.Create(context.Background(), assessment)
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.Zero(t, assessment.ID)
}

func TestNewPostgresRiskAssessmentStore_NilDBPanics(t *testing.T) {
	assert.Panics(t, func() { NewPostgresRiskAssessmentStore(nil, nil) })
}
