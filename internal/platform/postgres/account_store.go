package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/platform/logger"
	"github.com/phrazzld/bank-api/internal/store"
)

// PostgresAccountStore implements the store.AccountStore interface
// using a PostgreSQL database as the storage backend.
type PostgresAccountStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresAccountStore creates a new PostgreSQL implementation of the AccountStore interface.
// It needs a *sql.DB rather than a DBTX because Save opens its own transaction.
// If logger is nil, a default logger will be used.
func NewPostgresAccountStore(db *sql.DB, logger *slog.Logger) *PostgresAccountStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresAccountStore{
		db:     db,
		logger: logger.With(slog.String("component", "account_store")),
	}
}

// Ensure PostgresAccountStore implements store.AccountStore interface
var _ store.AccountStore = (*PostgresAccountStore)(nil)

// Create inserts a new account and assigns its ID.
func (s *PostgresAccountStore) Create(ctx context.Context, account *domain.Account) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if account.Balance.IsNegative() {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, domain.ErrNegativeBalance)
	}

	query := `
		INSERT INTO accounts (customer_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, version
	`
	err := s.db.QueryRowContext(ctx, query,
		account.CustomerID,
		account.Balance,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID, &account.Version)
	if err != nil {
		log.Error("failed to create account",
			slog.String("error", err.Error()),
			slog.Int64("customer_id", account.CustomerID))
		return MapError(err)
	}

	log.Info("account created",
		slog.Int64("account_id", account.ID),
		slog.Int64("customer_id", account.CustomerID))
	return nil
}

// GetByID implements store.AccountStore.GetByID
// Returns store.ErrAccountNotFound if the account does not exist.
func (s *PostgresAccountStore) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		SELECT id, customer_id, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	var account domain.Account
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&account.ID,
		&account.CustomerID,
		&account.Balance,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("account not found", slog.Int64("account_id", id))
			return nil, store.ErrAccountNotFound
		}
		log.Error("failed to get account",
			slog.String("error", err.Error()),
			slog.Int64("account_id", id))
		return nil, store.NewStoreError("account", "get", fmt.Sprintf("id %d", id), MapError(err))
	}

	return &account, nil
}

// Save implements store.AccountStore.Save
// All balances are written in one transaction; if any account is missing,
// would go negative or was changed since it was read, none are written.
func (s *PostgresAccountStore) Save(ctx context.Context, accounts ...*domain.Account) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	for _, a := range accounts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
	}

	now := time.Now().UTC()
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query := `
			UPDATE accounts
			SET balance = $1, updated_at = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`
		for _, a := range accounts {
			result, err := tx.ExecContext(ctx, query, a.Balance, now, a.ID, a.Version)
			if err != nil {
				return MapError(err)
			}
			if err := CheckRowsAffected(result, store.ErrConflict); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return conflictOrMissing(ctx, tx, a)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("failed to save accounts",
			slog.String("error", err.Error()),
			slog.Int("account_count", len(accounts)))
		return store.NewStoreError("account", "save", "balances not written", err)
	}

	for _, a := range accounts {
		a.Version++
		a.UpdatedAt = now
	}
	return nil
}

// conflictOrMissing explains why an update matched no rows.
func conflictOrMissing(ctx context.Context, tx *sql.Tx, a *domain.Account) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, a.ID).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrAccountNotFound
	}
	return fmt.Errorf("%w: account %d changed since version %d", store.ErrConflict, a.ID, a.Version)
}
