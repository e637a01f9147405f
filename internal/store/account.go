package store

import (
	"context"

	"github.com/phrazzld/bank-api/internal/domain"
)

// AccountStore defines the interface for account persistence.
// The asynchronous task core only needs lookup and atomic save.
type AccountStore interface {
	// GetByID retrieves an account by its ID.
	// Returns ErrAccountNotFound if the account does not exist.
	GetByID(ctx context.Context, id int64) (*domain.Account, error)

	// Save persists the current state of every given account as a single
	// atomic unit: either all accounts are written or none are.
	// Returns ErrAccountNotFound if any account does not exist, and
	// ErrConflict if any account's Version no longer matches the stored one.
	// On success each account's Version is incremented.
	Save(ctx context.Context, accounts ...*domain.Account) error
}
