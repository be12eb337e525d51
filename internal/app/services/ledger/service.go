// Package ledger implements the account ledger: balances and append-only
// transaction history. Every movement of value in the application passes
// through this service.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/metrics"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
	"github.com/AshutoshXYadav/DecentralizedBank/pkg/logger"
)

var (
	// ErrInvalidAmount is returned when a movement amount is not positive.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidRecipient is returned when a transfer names an empty
	// recipient or the sender itself.
	ErrInvalidRecipient = errors.New("invalid recipient")
)

// Service owns account balances and history. Mutating operations are
// serialized by a single mutex so a balance check and its corresponding
// debit are atomic with respect to concurrent callers.
type Service struct {
	mu    sync.Mutex
	store storage.LedgerStore
	log   *logger.Logger
	now   func() time.Time
}

// New constructs a ledger service.
func New(store storage.LedgerStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Deposit credits an account, creating it on first use.
func (s *Service) Deposit(ctx context.Context, address string, amount int64) (ledger.Transaction, error) {
	address = normalizeAddress(address)
	if address == "" {
		return ledger.Transaction{}, fmt.Errorf("%w: address is required", ErrInvalidRecipient)
	}
	if amount <= 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.credit(ctx, address, amount); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.store.AppendTransaction(ctx, ledger.Transaction{
		Address:   address,
		Kind:      ledger.KindDeposit,
		Amount:    amount,
		Timestamp: s.now(),
	})
	if err != nil {
		// Take the credit back so a failed deposit leaves the balance
		// untouched.
		if rbErr := s.debit(ctx, address, amount); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("address", address).
				Error("deposit rollback failed")
		}
		return ledger.Transaction{}, fmt.Errorf("append deposit: %w", err)
	}

	metrics.RecordLedgerTransaction(string(ledger.KindDeposit))
	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("deposit applied")
	return tx, nil
}

// Withdraw debits an account. It fails without side effects when the balance
// does not cover the amount.
func (s *Service) Withdraw(ctx context.Context, address string, amount int64) (ledger.Transaction, error) {
	address = normalizeAddress(address)
	if amount <= 0 {
		return ledger.Transaction{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debit(ctx, address, amount); err != nil {
		return ledger.Transaction{}, err
	}

	tx, err := s.store.AppendTransaction(ctx, ledger.Transaction{
		Address:   address,
		Kind:      ledger.KindWithdraw,
		Amount:    amount,
		Timestamp: s.now(),
	})
	if err != nil {
		// Restore the debited funds so a failed withdrawal leaves the
		// balance untouched.
		if rbErr := s.credit(ctx, address, amount); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("address", address).
				Error("withdrawal rollback failed")
		}
		return ledger.Transaction{}, fmt.Errorf("append withdrawal: %w", err)
	}

	metrics.RecordLedgerTransaction(string(ledger.KindWithdraw))
	s.log.WithField("address", address).
		WithField("amount", amount).
		Info("withdrawal applied")
	return tx, nil
}

// Transfer moves value between two accounts, appending a linked pair of
// history entries that share one timestamp. Either both legs apply or
// neither does.
func (s *Service) Transfer(ctx context.Context, from, to string, amount int64) (ledger.Transaction, ledger.Transaction, error) {
	from = normalizeAddress(from)
	to = normalizeAddress(to)
	if amount <= 0 {
		return ledger.Transaction{}, ledger.Transaction{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	if to == "" || to == from {
		return ledger.Transaction{}, ledger.Transaction{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debit(ctx, from, amount); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	if err := s.credit(ctx, to, amount); err != nil {
		// Roll the debit back so a failing transfer leaves no trace.
		if rbErr := s.credit(ctx, from, amount); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("address", from).
				Error("transfer rollback failed")
		}
		return ledger.Transaction{}, ledger.Transaction{}, err
	}

	stamp := s.now()
	legs, err := s.store.AppendTransactions(ctx, []ledger.Transaction{
		{
			Address:      from,
			Kind:         ledger.KindTransferOut,
			Amount:       amount,
			Counterparty: to,
			Timestamp:    stamp,
		},
		{
			Address:      to,
			Kind:         ledger.KindTransferIn,
			Amount:       amount,
			Counterparty: from,
			Timestamp:    stamp,
		},
	})
	if err != nil {
		// Undo both balance movements so a failed transfer leaves no
		// value moved and no unmatched history leg.
		if rbErr := s.debit(ctx, to, amount); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("address", to).
				Error("transfer rollback failed")
		}
		if rbErr := s.credit(ctx, from, amount); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("address", from).
				Error("transfer rollback failed")
		}
		return ledger.Transaction{}, ledger.Transaction{}, fmt.Errorf("append transfer legs: %w", err)
	}
	out, in := legs[0], legs[1]

	metrics.RecordLedgerTransaction(string(ledger.KindTransferOut))
	metrics.RecordLedgerTransaction(string(ledger.KindTransferIn))
	s.log.WithField("from", from).
		WithField("to", to).
		WithField("amount", amount).
		Info("transfer applied")
	return out, in, nil
}

// BalanceOf returns the current balance; unknown addresses hold zero. Store
// failures other than not-found are propagated.
func (s *Service) BalanceOf(ctx context.Context, address string) (int64, error) {
	acct, err := s.store.GetLedgerAccount(ctx, normalizeAddress(address))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load account: %w", err)
	}
	return acct.Balance, nil
}

// HistoryOf returns the full ordered transaction history for an address.
func (s *Service) HistoryOf(ctx context.Context, address string) ([]ledger.Transaction, error) {
	return s.store.ListTransactions(ctx, normalizeAddress(address))
}

// credit adds to a balance, creating the account on first use. Callers hold
// the service mutex.
func (s *Service) credit(ctx context.Context, address string, amount int64) error {
	acct, err := s.store.GetLedgerAccount(ctx, address)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.store.CreateLedgerAccount(ctx, ledger.Account{Address: address, Balance: amount}); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	acct.Balance += amount
	if _, err := s.store.UpdateLedgerAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

// debit subtracts from a balance. Callers hold the service mutex.
func (s *Service) debit(ctx context.Context, address string, amount int64) error {
	acct, err := s.store.GetLedgerAccount(ctx, address)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: balance 0, need %d", ErrInsufficientFunds, amount)
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct.Balance < amount {
		return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, acct.Balance, amount)
	}

	acct.Balance -= amount
	if _, err := s.store.UpdateLedgerAccount(ctx, acct); err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}
