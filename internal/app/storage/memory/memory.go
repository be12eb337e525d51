package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/lending"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/payment"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	nextPaymentID  int64
	nextLoanID     int64
	accounts       map[string]ledger.Account
	transactions   map[string][]ledger.Transaction
	payments       map[int64]payment.ScheduledPayment
	positions      map[string]lending.Position
	loans          map[int64]lending.Loan
	loansByAddress map[string][]int64
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.LendingStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextPaymentID:  1,
		nextLoanID:     1,
		accounts:       make(map[string]ledger.Account),
		transactions:   make(map[string][]ledger.Transaction),
		payments:       make(map[int64]payment.ScheduledPayment),
		positions:      make(map[string]lending.Position),
		loans:          make(map[int64]lending.Loan),
		loansByAddress: make(map[string][]int64),
	}
}

func addressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// LedgerStore implementation -------------------------------------------------

func (s *Store) CreateLedgerAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(acct.Address)
	if key == "" {
		return ledger.Account{}, fmt.Errorf("account address is required")
	}
	if _, exists := s.accounts[key]; exists {
		return ledger.Account{}, fmt.Errorf("account %s already exists", acct.Address)
	}

	now := time.Now().UTC()
	acct.Address = key
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[key] = acct
	return acct, nil
}

func (s *Store) UpdateLedgerAccount(_ context.Context, acct ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(acct.Address)
	original, ok := s.accounts[key]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", acct.Address, sql.ErrNoRows)
	}

	acct.Address = key
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[key] = acct
	return acct, nil
}

func (s *Store) GetLedgerAccount(_ context.Context, address string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[addressKey(address)]
	if !ok {
		return ledger.Account{}, fmt.Errorf("account %s: %w", address, sql.ErrNoRows)
	}
	return acct, nil
}

func (s *Store) ListLedgerAccounts(_ context.Context) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]ledger.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (s *Store) AppendTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.appendTransactionLocked(tx)
}

// AppendTransactions validates every entry before writing any, so the batch
// lands whole or not at all.
func (s *Store) AppendTransactions(_ context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range txs {
		if addressKey(tx.Address) == "" {
			return nil, fmt.Errorf("transaction address is required")
		}
	}

	appended := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		stored, err := s.appendTransactionLocked(tx)
		if err != nil {
			return nil, err
		}
		appended = append(appended, stored)
	}
	return appended, nil
}

func (s *Store) appendTransactionLocked(tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	key := addressKey(tx.Address)
	if key == "" {
		return ledger.Transaction{}, fmt.Errorf("transaction address is required")
	}
	tx.Address = key
	tx.Counterparty = addressKey(tx.Counterparty)
	tx.CreatedAt = time.Now().UTC()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = tx.CreatedAt
	}

	s.transactions[key] = append(s.transactions[key], tx)
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, address string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]ledger.Transaction(nil), s.transactions[addressKey(address)]...), nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreateScheduledPayment(_ context.Context, p payment.ScheduledPayment) (payment.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		p.ID = s.nextPaymentID
		s.nextPaymentID++
	} else if _, exists := s.payments[p.ID]; exists {
		return payment.ScheduledPayment{}, fmt.Errorf("scheduled payment %d already exists", p.ID)
	} else if p.ID >= s.nextPaymentID {
		s.nextPaymentID = p.ID + 1
	}

	now := time.Now().UTC()
	p.Sender = addressKey(p.Sender)
	p.Recipient = addressKey(p.Recipient)
	p.CreatedAt = now
	p.UpdatedAt = now

	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdateScheduledPayment(_ context.Context, p payment.ScheduledPayment) (payment.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.ScheduledPayment{}, fmt.Errorf("scheduled payment %d: %w", p.ID, sql.ErrNoRows)
	}

	p.Sender = original.Sender
	p.Recipient = original.Recipient
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetScheduledPayment(_ context.Context, id int64) (payment.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.ScheduledPayment{}, fmt.Errorf("scheduled payment %d: %w", id, sql.ErrNoRows)
	}
	return p, nil
}

func (s *Store) ListScheduledPayments(_ context.Context, sender string) ([]payment.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := addressKey(sender)
	result := make([]payment.ScheduledPayment, 0)
	for _, p := range s.payments {
		if key == "" || p.Sender == key {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) ListReadyPayments(_ context.Context, now time.Time) ([]payment.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.ScheduledPayment, 0)
	for _, p := range s.payments {
		if p.Ready(now) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// LendingStore implementation -------------------------------------------------

func (s *Store) UpsertPosition(_ context.Context, pos lending.Position) (lending.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(pos.Address)
	if key == "" {
		return lending.Position{}, fmt.Errorf("position address is required")
	}

	now := time.Now().UTC()
	pos.Address = key
	if original, ok := s.positions[key]; ok {
		pos.CreatedAt = original.CreatedAt
	} else {
		pos.CreatedAt = now
	}
	pos.UpdatedAt = now

	s.positions[key] = pos
	return pos, nil
}

// GetPosition returns the stored position, or an empty position for an
// address that has never touched the lending engine.
func (s *Store) GetPosition(_ context.Context, address string) (lending.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := addressKey(address)
	if pos, ok := s.positions[key]; ok {
		return pos, nil
	}
	return lending.Position{Address: key}, nil
}

func (s *Store) ListPositions(_ context.Context) ([]lending.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]lending.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (s *Store) CreateLoan(_ context.Context, loan lending.Loan) (lending.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loan.ID == 0 {
		loan.ID = s.nextLoanID
		s.nextLoanID++
	} else if _, exists := s.loans[loan.ID]; exists {
		return lending.Loan{}, fmt.Errorf("loan %d already exists", loan.ID)
	} else if loan.ID >= s.nextLoanID {
		s.nextLoanID = loan.ID + 1
	}

	now := time.Now().UTC()
	loan.Borrower = addressKey(loan.Borrower)
	loan.CreatedAt = now
	loan.UpdatedAt = now

	s.loans[loan.ID] = loan
	s.loansByAddress[loan.Borrower] = append(s.loansByAddress[loan.Borrower], loan.ID)
	return loan, nil
}

func (s *Store) UpdateLoan(_ context.Context, loan lending.Loan) (lending.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.loans[loan.ID]
	if !ok {
		return lending.Loan{}, fmt.Errorf("loan %d: %w", loan.ID, sql.ErrNoRows)
	}

	loan.Borrower = original.Borrower
	loan.CreatedAt = original.CreatedAt
	loan.UpdatedAt = time.Now().UTC()

	s.loans[loan.ID] = loan
	return loan, nil
}

func (s *Store) GetLoan(_ context.Context, id int64) (lending.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loan, ok := s.loans[id]
	if !ok {
		return lending.Loan{}, fmt.Errorf("loan %d: %w", id, sql.ErrNoRows)
	}
	return loan, nil
}

func (s *Store) ListLoans(_ context.Context, borrower string) ([]lending.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := addressKey(borrower)
	if key == "" {
		result := make([]lending.Loan, 0, len(s.loans))
		for _, loan := range s.loans {
			result = append(result, loan)
		}
		sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
		return result, nil
	}

	ids := s.loansByAddress[key]
	result := make([]lending.Loan, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.loans[id])
	}
	return result, nil
}
