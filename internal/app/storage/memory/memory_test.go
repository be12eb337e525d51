package memory

import (
	"context"
	"testing"
	"time"

	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/payment"
)

func TestAccountRoundTripNormalizesAddresses(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateLedgerAccount(ctx, ledger.Account{Address: "  ALICE ", Balance: 10})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Address != "alice" {
		t.Fatalf("address = %q, want %q", created.Address, "alice")
	}

	got, err := store.GetLedgerAccount(ctx, "Alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Balance != 10 {
		t.Fatalf("balance = %d", got.Balance)
	}

	if _, err := store.CreateLedgerAccount(ctx, ledger.Account{Address: "alice"}); err == nil {
		t.Fatal("duplicate create should fail")
	}
}

func TestTransactionsAssignIDsAndKeepOrder(t *testing.T) {
	store := New()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tx, err := store.AppendTransaction(ctx, ledger.Transaction{
			Address:   "alice",
			Kind:      ledger.KindDeposit,
			Amount:    int64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if tx.ID == "" {
			t.Fatal("transaction id not assigned")
		}
	}

	txs, err := store.ListTransactions(ctx, "ALICE")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("transactions = %d, want 3", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].Timestamp.Before(txs[i-1].Timestamp) {
			t.Fatalf("transactions out of order at %d", i)
		}
	}
}

func TestAppendTransactionsAllOrNothing(t *testing.T) {
	store := New()
	ctx := context.Background()

	// An invalid entry anywhere in the batch rejects the whole batch.
	_, err := store.AppendTransactions(ctx, []ledger.Transaction{
		{Address: "alice", Kind: ledger.KindTransferOut, Amount: 10, Counterparty: "bob"},
		{Address: "  ", Kind: ledger.KindTransferIn, Amount: 10, Counterparty: "alice"},
	})
	if err == nil {
		t.Fatal("expected batch with empty address to fail")
	}
	txs, _ := store.ListTransactions(ctx, "alice")
	if len(txs) != 0 {
		t.Fatalf("rejected batch left %d entries", len(txs))
	}

	legs, err := store.AppendTransactions(ctx, []ledger.Transaction{
		{Address: "alice", Kind: ledger.KindTransferOut, Amount: 10, Counterparty: "bob"},
		{Address: "bob", Kind: ledger.KindTransferIn, Amount: 10, Counterparty: "alice"},
	})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if len(legs) != 2 || legs[0].ID == "" || legs[1].ID == "" {
		t.Fatalf("unexpected batch result: %+v", legs)
	}
}

func TestPaymentIDsAreMonotonic(t *testing.T) {
	store := New()
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		p, err := store.CreateScheduledPayment(ctx, payment.ScheduledPayment{
			Sender:          "alice",
			Recipient:       "bob",
			Amount:          10,
			Frequency:       payment.FrequencyDaily,
			NextPaymentTime: time.Now().UTC(),
			Active:          true,
		})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if p.ID <= last {
			t.Fatalf("id %d not monotonic after %d", p.ID, last)
		}
		last = p.ID
	}
}

func TestListReadyPaymentsFilters(t *testing.T) {
	store := New()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	mk := func(next time.Time, active bool, total, made int64) {
		t.Helper()
		if _, err := store.CreateScheduledPayment(ctx, payment.ScheduledPayment{
			Sender:          "alice",
			Recipient:       "bob",
			Amount:          10,
			Frequency:       payment.FrequencyDaily,
			TotalPayments:   total,
			PaymentsMade:    made,
			NextPaymentTime: next,
			Active:          active,
		}); err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}

	mk(now.Add(-time.Hour), true, 0, 0)  // due, unlimited
	mk(now.Add(time.Hour), true, 0, 0)   // not due yet
	mk(now.Add(-time.Hour), false, 0, 0) // inactive
	mk(now.Add(-time.Hour), true, 2, 2)  // limit reached

	ready, err := store.ListReadyPayments(ctx, now)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 1 {
		t.Fatalf("ready = %d, want 1 (%+v)", len(ready), ready)
	}
}

func TestGetPositionUnknownAddressIsEmpty(t *testing.T) {
	store := New()

	pos, err := store.GetPosition(context.Background(), "Nobody")
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if pos.Address != "nobody" || pos.TotalCollateral != 0 || pos.Locked != 0 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}
