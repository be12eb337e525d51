package ledger

import "time"

// Account holds the balance for a single address. Accounts are created
// implicitly on first credit and are never deleted.
type Account struct {
	Address   string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransactionKind classifies a ledger movement.
type TransactionKind string

const (
	KindDeposit     TransactionKind = "deposit"
	KindWithdraw    TransactionKind = "withdraw"
	KindTransferOut TransactionKind = "transfer_out"
	KindTransferIn  TransactionKind = "transfer_in"
)

// Transaction is one immutable entry in an account's history. A transfer
// appends two linked entries, one per leg, sharing the same amount and
// timestamp and naming each other as counterparty.
type Transaction struct {
	ID           string
	Address      string
	Kind         TransactionKind
	Amount       int64
	Counterparty string
	Timestamp    time.Time
	CreatedAt    time.Time
}
