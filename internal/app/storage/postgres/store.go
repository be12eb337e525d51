package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/lending"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/payment"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.LendingStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) CreateLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_accounts (address, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`, acct.Address, acct.Balance, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateLedgerAccount(ctx context.Context, acct ledger.Account) (ledger.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE bank_accounts
		SET balance = $2, updated_at = $3
		WHERE address = $1
	`, acct.Address, acct.Balance, acct.UpdatedAt)
	if err != nil {
		return ledger.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ledger.Account{}, sql.ErrNoRows
	}
	return acct, nil
}

func (s *Store) GetLedgerAccount(ctx context.Context, address string) (ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, balance, created_at, updated_at
		FROM bank_accounts
		WHERE address = $1
	`, address)

	var acct ledger.Account
	if err := row.Scan(&acct.Address, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

func (s *Store) ListLedgerAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, balance, created_at, updated_at
		FROM bank_accounts
		ORDER BY address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []ledger.Account
	for rows.Next() {
		var acct ledger.Account
		if err := rows.Scan(&acct.Address, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) AppendTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	tx.CreatedAt = time.Now().UTC()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = tx.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_transactions (id, address, kind, amount, counterparty, ts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID, tx.Address, string(tx.Kind), tx.Amount, tx.Counterparty, tx.Timestamp, tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

// AppendTransactions inserts every entry inside one database transaction, so
// linked transfer legs commit together or not at all.
func (s *Store) AppendTransactions(ctx context.Context, txs []ledger.Transaction) ([]ledger.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	appended := make([]ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.ID == "" {
			tx.ID = uuid.NewString()
		}
		tx.CreatedAt = now
		if tx.Timestamp.IsZero() {
			tx.Timestamp = now
		}

		_, err := dbtx.ExecContext(ctx, `
			INSERT INTO bank_transactions (id, address, kind, amount, counterparty, ts, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, tx.ID, tx.Address, string(tx.Kind), tx.Amount, tx.Counterparty, tx.Timestamp, tx.CreatedAt)
		if err != nil {
			dbtx.Rollback()
			return nil, err
		}
		appended = append(appended, tx)
	}

	if err := dbtx.Commit(); err != nil {
		return nil, err
	}
	return appended, nil
}

func (s *Store) ListTransactions(ctx context.Context, address string) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, kind, amount, counterparty, ts, created_at
		FROM bank_transactions
		WHERE address = $1
		ORDER BY ts, created_at
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var kind string
		if err := rows.Scan(&tx.ID, &tx.Address, &kind, &tx.Amount, &tx.Counterparty, &tx.Timestamp, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = ledger.TransactionKind(kind)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// --- PaymentStore -----------------------------------------------------------

func (s *Store) CreateScheduledPayment(ctx context.Context, p payment.ScheduledPayment) (payment.ScheduledPayment, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO scheduled_payments
			(sender, recipient, amount, frequency, total_payments, payments_made,
			 next_payment_time, active, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, p.Sender, p.Recipient, p.Amount, p.Frequency, p.TotalPayments, p.PaymentsMade,
		p.NextPaymentTime, p.Active, p.Description, p.CreatedAt, p.UpdatedAt)
	if err := row.Scan(&p.ID); err != nil {
		return payment.ScheduledPayment{}, err
	}
	return p, nil
}

func (s *Store) UpdateScheduledPayment(ctx context.Context, p payment.ScheduledPayment) (payment.ScheduledPayment, error) {
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_payments
		SET amount = $2, frequency = $3, total_payments = $4, payments_made = $5,
		    next_payment_time = $6, active = $7, description = $8, updated_at = $9
		WHERE id = $1
	`, p.ID, p.Amount, p.Frequency, p.TotalPayments, p.PaymentsMade,
		p.NextPaymentTime, p.Active, p.Description, p.UpdatedAt)
	if err != nil {
		return payment.ScheduledPayment{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return payment.ScheduledPayment{}, sql.ErrNoRows
	}
	return p, nil
}

func (s *Store) GetScheduledPayment(ctx context.Context, id int64) (payment.ScheduledPayment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sender, recipient, amount, frequency, total_payments, payments_made,
		       next_payment_time, active, description, created_at, updated_at
		FROM scheduled_payments
		WHERE id = $1
	`, id)
	return scanPayment(row)
}

func (s *Store) ListScheduledPayments(ctx context.Context, sender string) ([]payment.ScheduledPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, recipient, amount, frequency, total_payments, payments_made,
		       next_payment_time, active, description, created_at, updated_at
		FROM scheduled_payments
		WHERE sender = $1
		ORDER BY id
	`, sender)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *Store) ListReadyPayments(ctx context.Context, now time.Time) ([]payment.ScheduledPayment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, recipient, amount, frequency, total_payments, payments_made,
		       next_payment_time, active, description, created_at, updated_at
		FROM scheduled_payments
		WHERE active
		  AND next_payment_time <= $1
		  AND (total_payments = 0 OR payments_made < total_payments)
		ORDER BY id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (payment.ScheduledPayment, error) {
	var p payment.ScheduledPayment
	err := row.Scan(&p.ID, &p.Sender, &p.Recipient, &p.Amount, &p.Frequency,
		&p.TotalPayments, &p.PaymentsMade, &p.NextPaymentTime, &p.Active,
		&p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return payment.ScheduledPayment{}, err
	}
	return p, nil
}

func collectPayments(rows *sql.Rows) ([]payment.ScheduledPayment, error) {
	var payments []payment.ScheduledPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// --- LendingStore -----------------------------------------------------------

func (s *Store) UpsertPosition(ctx context.Context, pos lending.Position) (lending.Position, error) {
	now := time.Now().UTC()
	if pos.CreatedAt.IsZero() {
		pos.CreatedAt = now
	}
	pos.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collateral_positions
			(address, total_collateral, locked, total_loans, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE
		SET total_collateral = EXCLUDED.total_collateral,
		    locked = EXCLUDED.locked,
		    total_loans = EXCLUDED.total_loans,
		    updated_at = EXCLUDED.updated_at
	`, pos.Address, pos.TotalCollateral, pos.Locked, pos.TotalLoans, pos.CreatedAt, pos.UpdatedAt)
	if err != nil {
		return lending.Position{}, err
	}
	return pos, nil
}

func (s *Store) GetPosition(ctx context.Context, address string) (lending.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, total_collateral, locked, total_loans, created_at, updated_at
		FROM collateral_positions
		WHERE address = $1
	`, address)

	var pos lending.Position
	err := row.Scan(&pos.Address, &pos.TotalCollateral, &pos.Locked, &pos.TotalLoans,
		&pos.CreatedAt, &pos.UpdatedAt)
	if err == sql.ErrNoRows {
		return lending.Position{Address: address}, nil
	}
	if err != nil {
		return lending.Position{}, err
	}
	return pos, nil
}

func (s *Store) ListPositions(ctx context.Context) ([]lending.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, total_collateral, locked, total_loans, created_at, updated_at
		FROM collateral_positions
		ORDER BY address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []lending.Position
	for rows.Next() {
		var pos lending.Position
		if err := rows.Scan(&pos.Address, &pos.TotalCollateral, &pos.Locked,
			&pos.TotalLoans, &pos.CreatedAt, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func (s *Store) CreateLoan(ctx context.Context, loan lending.Loan) (lending.Loan, error) {
	now := time.Now().UTC()
	loan.CreatedAt = now
	loan.UpdatedAt = now

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO loans
			(borrower, collateral, principal, rate_bps, start_time, due_date,
			 active, liquidated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, loan.Borrower, loan.Collateral, loan.Principal, loan.RateBps, loan.StartTime,
		loan.DueDate, loan.Active, loan.Liquidated, loan.CreatedAt, loan.UpdatedAt)
	if err := row.Scan(&loan.ID); err != nil {
		return lending.Loan{}, err
	}
	return loan, nil
}

func (s *Store) UpdateLoan(ctx context.Context, loan lending.Loan) (lending.Loan, error) {
	loan.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE loans
		SET collateral = $2, principal = $3, rate_bps = $4, start_time = $5,
		    due_date = $6, active = $7, liquidated = $8, updated_at = $9
		WHERE id = $1
	`, loan.ID, loan.Collateral, loan.Principal, loan.RateBps, loan.StartTime,
		loan.DueDate, loan.Active, loan.Liquidated, loan.UpdatedAt)
	if err != nil {
		return lending.Loan{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return lending.Loan{}, sql.ErrNoRows
	}
	return loan, nil
}

func (s *Store) GetLoan(ctx context.Context, id int64) (lending.Loan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, borrower, collateral, principal, rate_bps, start_time, due_date,
		       active, liquidated, created_at, updated_at
		FROM loans
		WHERE id = $1
	`, id)

	var loan lending.Loan
	err := row.Scan(&loan.ID, &loan.Borrower, &loan.Collateral, &loan.Principal,
		&loan.RateBps, &loan.StartTime, &loan.DueDate, &loan.Active,
		&loan.Liquidated, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return lending.Loan{}, err
	}
	return loan, nil
}

func (s *Store) ListLoans(ctx context.Context, borrower string) ([]lending.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, borrower, collateral, principal, rate_bps, start_time, due_date,
		       active, liquidated, created_at, updated_at
		FROM loans
		WHERE borrower = $1
		ORDER BY id
	`, borrower)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []lending.Loan
	for rows.Next() {
		var loan lending.Loan
		if err := rows.Scan(&loan.ID, &loan.Borrower, &loan.Collateral, &loan.Principal,
			&loan.RateBps, &loan.StartTime, &loan.DueDate, &loan.Active,
			&loan.Liquidated, &loan.CreatedAt, &loan.UpdatedAt); err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	return loans, rows.Err()
}
