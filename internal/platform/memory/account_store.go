package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/store"
)

// AccountStore implements store.AccountStore in memory.
// Returned accounts are copies; changes only take effect through Save.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[int64]domain.Account
	nextID   int64

	// GetErr and SaveErr, when set, are returned instead of touching the map.
	GetErr  error
	SaveErr error

	// saves counts successful Save calls.
	saves int
}

// NewAccountStore creates an empty AccountStore.
func NewAccountStore() *AccountStore {
	return &AccountStore{accounts: make(map[int64]domain.Account)}
}

// Create stores a new account and assigns its ID.
func (s *AccountStore) Create(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	account.ID = s.nextID
	if err := account.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	s.accounts[account.ID] = *account
	return nil
}

// Put stores account under its own ID, replacing any existing entry.
func (s *AccountStore) Put(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[account.ID] = account
	if account.ID > s.nextID {
		s.nextID = account.ID
	}
}

// GetByID implements store.AccountStore.
func (s *AccountStore) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.GetErr != nil {
		return nil, s.GetErr
	}

	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &account, nil
}

// Save implements store.AccountStore. Every account is checked, version
// included, before any is written.
func (s *AccountStore) Save(ctx context.Context, accounts ...*domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return s.SaveErr
	}

	for _, a := range accounts {
		current, ok := s.accounts[a.ID]
		if !ok {
			return store.ErrAccountNotFound
		}
		if current.Version != a.Version {
			return fmt.Errorf("%w: account %d at version %d, saved from %d",
				store.ErrConflict, a.ID, current.Version, a.Version)
		}
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
		}
	}

	now := time.Now().UTC()
	for _, a := range accounts {
		a.Version++
		a.UpdatedAt = now
		s.accounts[a.ID] = *a
	}
	s.saves++
	return nil
}

// Saves returns how many Save calls succeeded.
func (s *AccountStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

var _ store.AccountStore = (*AccountStore)(nil)
