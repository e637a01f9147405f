package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a customer's balance-holding account.
// The balance is an exact fixed-point decimal and never negative.
// Version counts saved balance changes; a save only succeeds against the
// version it was read at.
type Account struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	Balance    decimal.Decimal `json:"balance"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// NewAccount creates an Account for the given customer with an opening balance.
// The ID is left zero; the store assigns it on creation.
func NewAccount(customerID int64, opening decimal.Decimal) (*Account, error) {
	now := time.Now().UTC()
	a := &Account{
		CustomerID: customerID,
		Balance:    opening,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if customerID <= 0 {
		return nil, NewValidationError("customer_id", "must be positive", ErrInvalidID)
	}
	if opening.IsNegative() {
		return nil, NewValidationError("balance", "opening balance is negative", ErrNegativeBalance)
	}

	return a, nil
}

// Validate checks if the Account has valid data.
func (a *Account) Validate() error {
	if a.ID <= 0 {
		return NewValidationError("id", "must be positive", ErrInvalidID)
	}
	if a.Balance.IsNegative() {
		return NewValidationError("balance", a.Balance.String(), ErrNegativeBalance)
	}
	return nil
}

// CanDebit reports whether amount can be withdrawn without overdrawing.
func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// Debit withdraws amount from the account.
// The balance is left untouched when the amount is invalid or exceeds the balance.
func (a *Account) Debit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !a.CanDebit(amount) {
		return ErrInsufficientFunds
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Credit deposits amount into the account.
func (a *Account) Credit(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = time.Now().UTC()
	return nil
}
