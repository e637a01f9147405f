//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/store"
	"github.com/phrazzld/bank-api/internal/task"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to DATABASE_URL and applies the migrations.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping postgres integration tests")
	}

	db, err := sql.Open("pgx", dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, Migrate(ctx, db, "up", testLogger()))
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIntegration_AccountStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewPostgresAccountStore(db, testLogger())

	source, err := domain.NewAccount(1, decimal.RequireFromString("100.00"))
	require.NoError(t, err)
	target, err := domain.NewAccount(2, decimal.RequireFromString("50.00"))
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, source))
	require.NoError(t, s.Create(ctx, target))

	require.NoError(t, source.Debit(decimal.RequireFromString("30")))
	require.NoError(t, target.Credit(decimal.RequireFromString("30")))
	require.NoError(t, s.Save(ctx, source, target))

	got, err := s.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("70")))

	// A missing account aborts the whole save
	ghost := &domain.Account{ID: -1, Balance: decimal.Zero}
	source.Balance = decimal.Zero
	assert.Error(t, s.Save(ctx, source, ghost))

	got, err = s.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("70")))

	// A copy read before another save is refused
	fresh, err := s.GetByID(ctx, source.ID)
	require.NoError(t, err)
	stale := *fresh
	require.NoError(t, fresh.Debit(decimal.RequireFromString("10")))
	require.NoError(t, s.Save(ctx, fresh))
	require.NoError(t, stale.Debit(decimal.RequireFromString("10")))
	assert.ErrorIs(t, s.Save(ctx, &stale), store.ErrConflict)

	got, err = s.GetByID(ctx, source.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.RequireFromString("60")))

	_, err = s.GetByID(ctx, 1<<60)
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestIntegration_TaskStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := NewPostgresTaskStore(db, testLogger())

	now := time.Now().UTC().Truncate(time.Microsecond)
	d := &task.Descriptor{
		ID:         uuid.New(),
		Kind:       task.KindCreateRiskAssessment,
		Payload:    []byte(`{"customer_id":1,"risk_score":5}`),
		MaxRetries: 3,
		ReadyAt:    now,
		Seq:        1,
		Status:     task.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.SaveTask(ctx, d, nil))

	// A stale write does not overwrite newer state
	d.Status = task.StatusSucceeded
	d.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.SaveTask(ctx, d, &task.Result{TaskID: d.ID, Status: task.StatusSucceeded, Attempts: 1}))

	stale := d.Clone()
	stale.Status = task.StatusRunning
	stale.UpdatedAt = now
	require.NoError(t, s.SaveTask(ctx, stale, nil))

	got, result, err := s.GetTask(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusSucceeded, got.Status)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Attempts)
}
