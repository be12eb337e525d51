package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage/memory"
)

// faultStore wraps the memory store and fails selected operations, for
// exercising the rollback paths.
type faultStore struct {
	storage.LedgerStore
	failAppend bool
	failBatch  bool
	getErr     error
}

func (f *faultStore) AppendTransaction(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	if f.failAppend {
		return domain.Transaction{}, errors.New("append rejected")
	}
	return f.LedgerStore.AppendTransaction(ctx, tx)
}

func (f *faultStore) AppendTransactions(ctx context.Context, txs []domain.Transaction) ([]domain.Transaction, error) {
	if f.failBatch {
		return nil, errors.New("append rejected")
	}
	return f.LedgerStore.AppendTransactions(ctx, txs)
}

func (f *faultStore) GetLedgerAccount(ctx context.Context, address string) (domain.Account, error) {
	if f.getErr != nil {
		return domain.Account{}, f.getErr
	}
	return f.LedgerStore.GetLedgerAccount(ctx, address)
}

func newTestService() *Service {
	return New(memory.New(), nil)
}

func TestDepositCreatesAccount(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	tx, err := svc.Deposit(ctx, "Alice", 500)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if tx.Kind != domain.KindDeposit || tx.Amount != 500 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if tx.Address != "alice" {
		t.Fatalf("expected normalized address, got %q", tx.Address)
	}

	balance, err := svc.BalanceOf(ctx, "ALICE")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected balance 500, got %d", balance)
	}
}

func TestDepositRejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService()
	for _, amount := range []int64{0, -1} {
		if _, err := svc.Deposit(context.Background(), "alice", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Withdraw(ctx, "alice", 101); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, _ := svc.BalanceOf(ctx, "alice")
	if balance != 100 {
		t.Fatalf("failed withdrawal changed balance: %d", balance)
	}
	history, err := svc.HistoryOf(ctx, "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("failed withdrawal left history entries: %d", len(history))
	}
}

func TestWithdrawUnknownAccount(t *testing.T) {
	svc := newTestService()
	if _, err := svc.Withdraw(context.Background(), "ghost", 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestWithdrawToZero(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Withdraw(ctx, "alice", 100); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	balance, _ := svc.BalanceOf(ctx, "alice")
	if balance != 0 {
		t.Fatalf("expected zero balance, got %d", balance)
	}
}

func TestTransferLinkedPair(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 300); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	out, in, err := svc.Transfer(ctx, "alice", "bob", 120)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if out.Kind != domain.KindTransferOut || out.Counterparty != "bob" {
		t.Fatalf("unexpected outgoing leg: %+v", out)
	}
	if in.Kind != domain.KindTransferIn || in.Counterparty != "alice" {
		t.Fatalf("unexpected incoming leg: %+v", in)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Fatalf("legs carry different timestamps: %v vs %v", out.Timestamp, in.Timestamp)
	}

	aliceBal, _ := svc.BalanceOf(ctx, "alice")
	bobBal, _ := svc.BalanceOf(ctx, "bob")
	if aliceBal != 180 || bobBal != 120 {
		t.Fatalf("unexpected balances: alice=%d bob=%d", aliceBal, bobBal)
	}
}

func TestTransferRejectsSelfAndEmptyRecipient(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := svc.Transfer(ctx, "alice", "ALICE", 10); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("self transfer: expected ErrInvalidRecipient, got %v", err)
	}
	if _, _, err := svc.Transfer(ctx, "alice", "  ", 10); !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("empty recipient: expected ErrInvalidRecipient, got %v", err)
	}
}

func TestTransferInsufficientFundsLeavesNoTrace(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 50); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, _, err := svc.Transfer(ctx, "alice", "bob", 51); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	bobHistory, err := svc.HistoryOf(ctx, "bob")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(bobHistory) != 0 {
		t.Fatalf("failed transfer credited recipient history: %d entries", len(bobHistory))
	}
}

func TestHistoryOrderedOldestFirst(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	step := 0
	svc.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := svc.Withdraw(ctx, "alice", 40); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, _, err := svc.Transfer(ctx, "alice", "bob", 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	history, err := svc.HistoryOf(ctx, "alice")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	wantKinds := []domain.TransactionKind{domain.KindDeposit, domain.KindWithdraw, domain.KindTransferOut}
	for i, kind := range wantKinds {
		if history[i].Kind != kind {
			t.Fatalf("entry %d: expected %s, got %s", i, kind, history[i].Kind)
		}
	}
	for i := 1; i < len(history); i++ {
		if history[i].Timestamp.Before(history[i-1].Timestamp) {
			t.Fatalf("history out of order at %d", i)
		}
	}
}

func TestDepositHistoryFailureRollsBackBalance(t *testing.T) {
	store := &faultStore{LedgerStore: memory.New(), failAppend: true}
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err == nil {
		t.Fatal("expected deposit to fail")
	}

	store.failAppend = false
	balance, err := svc.BalanceOf(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("failed deposit left balance %d", balance)
	}
	history, _ := svc.HistoryOf(ctx, "alice")
	if len(history) != 0 {
		t.Fatalf("failed deposit left history entries: %d", len(history))
	}
}

func TestWithdrawHistoryFailureRollsBackBalance(t *testing.T) {
	store := &faultStore{LedgerStore: memory.New()}
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	store.failAppend = true
	if _, err := svc.Withdraw(ctx, "alice", 60); err == nil {
		t.Fatal("expected withdrawal to fail")
	}
	store.failAppend = false

	balance, _ := svc.BalanceOf(ctx, "alice")
	if balance != 100 {
		t.Fatalf("failed withdrawal changed balance: %d", balance)
	}
}

func TestTransferHistoryFailureLeavesNoTrace(t *testing.T) {
	store := &faultStore{LedgerStore: memory.New()}
	svc := New(store, nil)
	ctx := context.Background()

	if _, err := svc.Deposit(ctx, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	store.failBatch = true
	if _, _, err := svc.Transfer(ctx, "alice", "bob", 40); err == nil {
		t.Fatal("expected transfer to fail")
	}
	store.failBatch = false

	aliceBal, _ := svc.BalanceOf(ctx, "alice")
	bobBal, _ := svc.BalanceOf(ctx, "bob")
	if aliceBal != 100 || bobBal != 0 {
		t.Fatalf("failed transfer moved value: alice=%d bob=%d", aliceBal, bobBal)
	}

	aliceHist, _ := svc.HistoryOf(ctx, "alice")
	bobHist, _ := svc.HistoryOf(ctx, "bob")
	if len(aliceHist) != 1 || len(bobHist) != 0 {
		t.Fatalf("failed transfer left legs: alice=%d bob=%d", len(aliceHist), len(bobHist))
	}
}

func TestBalanceConservation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var deposited, withdrawn int64
	deposit := func(addr string, amount int64) {
		if _, err := svc.Deposit(ctx, addr, amount); err != nil {
			t.Fatalf("deposit %s %d: %v", addr, amount, err)
		}
		deposited += amount
	}
	withdraw := func(addr string, amount int64) {
		if _, err := svc.Withdraw(ctx, addr, amount); err != nil {
			t.Fatalf("withdraw %s %d: %v", addr, amount, err)
		}
		withdrawn += amount
	}
	transfer := func(from, to string, amount int64) {
		if _, _, err := svc.Transfer(ctx, from, to, amount); err != nil {
			t.Fatalf("transfer %s->%s %d: %v", from, to, amount, err)
		}
	}

	deposit("alice", 500)
	deposit("bob", 250)
	transfer("alice", "bob", 120)
	withdraw("bob", 70)
	transfer("bob", "carol", 200)
	deposit("carol", 30)
	withdraw("carol", 15)
	transfer("carol", "alice", 100)

	var total int64
	for _, addr := range []string{"alice", "bob", "carol"} {
		balance, err := svc.BalanceOf(ctx, addr)
		if err != nil {
			t.Fatalf("balance %s: %v", addr, err)
		}
		total += balance
	}
	if total != deposited-withdrawn {
		t.Fatalf("conservation broken: balances sum to %d, deposits-withdrawals = %d", total, deposited-withdrawn)
	}
}

func TestBalanceOfPropagatesStoreFailure(t *testing.T) {
	boom := errors.New("connection reset")
	svc := New(&faultStore{LedgerStore: memory.New(), getErr: boom}, nil)

	if _, err := svc.BalanceOf(context.Background(), "alice"); !errors.Is(err, boom) {
		t.Fatalf("expected store failure to surface, got %v", err)
	}
}

func TestBalanceOfUnknownAddressIsZero(t *testing.T) {
	svc := newTestService()
	balance, err := svc.BalanceOf(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected 0, got %d", balance)
	}
}
