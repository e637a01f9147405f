package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/bank-api/internal/domain"
	"github.com/phrazzld/bank-api/internal/store"
	"github.com/shopspring/decimal"
)

// TransferOutcome is the success value of a transfer: both balances after it.
type TransferOutcome struct {
	SourceAccountID int64           `json:"source_account_id"`
	SourceBalance   decimal.Decimal `json:"source_balance"`
	TargetAccountID int64           `json:"target_account_id"`
	TargetBalance   decimal.Decimal `json:"target_balance"`
}

// TransferFundsOperation moves money between two accounts.
type TransferFundsOperation struct {
	accounts store.AccountStore
	locks    *AccountLocker
	logger   *slog.Logger
}

// NewTransferFundsOperation creates the operation. Transfers sharing an
// account are serialized through locks.
func NewTransferFundsOperation(
	accounts store.AccountStore,
	locks *AccountLocker,
	logger *slog.Logger,
) (*TransferFundsOperation, error) {
	if accounts == nil {
		return nil, fmt.Errorf("accounts cannot be nil")
	}
	if locks == nil {
		return nil, fmt.Errorf("locks cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &TransferFundsOperation{
		accounts: accounts,
		locks:    locks,
		logger:   logger.With("component", "transfer_funds"),
	}, nil
}

// Execute decodes a TransferPayload and applies it. Both accounts are
// written in one atomic save, or neither is. A save refused because either
// account changed since it was read is retried from a fresh read.
func (op *TransferFundsOperation) Execute(ctx context.Context, raw json.RawMessage) Outcome {
	var p TransferPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Failure(ClassInvalidPayload, fmt.Errorf("decode transfer payload: %w", err))
	}
	if err := p.Validate(); err != nil {
		return Failure(ClassInvalidPayload, err)
	}

	log := op.logger.With(
		"source_account_id", p.SourceAccountID,
		"target_account_id", p.TargetAccountID,
		"amount", p.Amount.String(),
	)

	unlock := op.locks.Lock(p.SourceAccountID, p.TargetAccountID)
	defer unlock()

	// The locker only covers this process. Another runner sharing the
	// account store shows up as a version conflict on save.
	attempts := 1
	outcome, conflict := op.apply(ctx, p, log)
	for conflict && attempts < maxSaveAttempts && ctx.Err() == nil {
		log.Debug("accounts changed concurrently, retrying transfer", "attempt", attempts)
		attempts++
		outcome, conflict = op.apply(ctx, p, log)
	}
	if !conflict {
		return outcome
	}

	log.Error("transfer kept conflicting", "attempts", attempts)
	return outcome
}

// maxSaveAttempts bounds how often a transfer re-reads its accounts after
// losing a save to a concurrent writer.
const maxSaveAttempts = 32

// apply reads both accounts, moves the amount and saves them together.
// It reports conflict when the save lost to a concurrent writer.
func (op *TransferFundsOperation) apply(
	ctx context.Context,
	p TransferPayload,
	log *slog.Logger,
) (Outcome, bool) {
	source, outcome, ok := op.load(ctx, p.SourceAccountID)
	if !ok {
		return outcome, false
	}
	target, outcome, ok := op.load(ctx, p.TargetAccountID)
	if !ok {
		return outcome, false
	}

	if err := source.Debit(p.Amount); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			log.Info("transfer rejected", "balance", source.Balance.String())
			return Failure(ClassInsufficientFunds, fmt.Errorf(
				"account %d: %w", source.ID, err)), false
		}
		return Failure(ClassInvalidPayload, err), false
	}
	if err := target.Credit(p.Amount); err != nil {
		return Failure(ClassInvalidPayload, err), false
	}

	if err := op.accounts.Save(ctx, source, target); err != nil {
		outcome := Failure(ClassStoreFailure, fmt.Errorf("save accounts: %w", err))
		if errors.Is(err, store.ErrConflict) {
			return outcome, true
		}
		log.Error("failed to save transfer", "error", err)
		return outcome, false
	}

	log.Info("transfer applied")

	return Success(TransferOutcome{
		SourceAccountID: source.ID,
		SourceBalance:   source.Balance,
		TargetAccountID: target.ID,
		TargetBalance:   target.Balance,
	}), false
}

// load fetches one account, classifying lookup failures.
func (op *TransferFundsOperation) load(ctx context.Context, id int64) (*domain.Account, Outcome, bool) {
	account, err := op.accounts.GetByID(ctx, id)
	if err == nil {
		return account, Outcome{}, true
	}
	if store.IsNotFoundError(err) {
		return nil, Failure(ClassAccountNotFound, fmt.Errorf("account %d: %w", id, err)), false
	}
	return nil, Failure(ClassStoreFailure, fmt.Errorf("get account %d: %w", id, err)), false
}
