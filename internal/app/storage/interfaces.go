package storage

import (
	"context"
	"time"

	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/lending"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/payment"
)

// LedgerStore persists per-address balances and transaction history.
type LedgerStore interface {
	CreateLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	UpdateLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error)
	GetLedgerAccount(ctx context.Context, address string) (ledger.Account, error)
	ListLedgerAccounts(ctx context.Context) ([]ledger.Account, error)

	AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	// AppendTransactions appends every entry or none of them, so linked
	// transfer legs never land partially.
	AppendTransactions(ctx context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error)
	ListTransactions(ctx context.Context, address string) ([]ledger.Transaction, error)
}

// PaymentStore persists scheduled payment records.
type PaymentStore interface {
	CreateScheduledPayment(ctx context.Context, p payment.ScheduledPayment) (payment.ScheduledPayment, error)
	UpdateScheduledPayment(ctx context.Context, p payment.ScheduledPayment) (payment.ScheduledPayment, error)
	GetScheduledPayment(ctx context.Context, id int64) (payment.ScheduledPayment, error)
	ListScheduledPayments(ctx context.Context, sender string) ([]payment.ScheduledPayment, error)
	ListReadyPayments(ctx context.Context, now time.Time) ([]payment.ScheduledPayment, error)
}

// LendingStore persists collateral positions and loan records.
type LendingStore interface {
	UpsertPosition(ctx context.Context, pos lending.Position) (lending.Position, error)
	GetPosition(ctx context.Context, address string) (lending.Position, error)
	ListPositions(ctx context.Context) ([]lending.Position, error)

	CreateLoan(ctx context.Context, loan lending.Loan) (lending.Loan, error)
	UpdateLoan(ctx context.Context, loan lending.Loan) (lending.Loan, error)
	GetLoan(ctx context.Context, id int64) (lending.Loan, error)
	ListLoans(ctx context.Context, borrower string) ([]lending.Loan, error)
}
