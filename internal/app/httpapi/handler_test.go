package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/AshutoshXYadav/DecentralizedBank/internal/app"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/payment"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{
		DisableRunner: true,
		StaticPrice:   100_000_000, // 1 unit per satoshi
	}, nil)
	if err != nil {
		t.Fatalf("build application: %v", err)
	}
	return NewHandler(application)
}

func doJSON(t *testing.T, h http.Handler, method, path, caller string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestDepositAndBalance(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/accounts/alice/deposit", "alice", map[string]any{"amount": 500})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/accounts/alice", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	var balance struct {
		Balance int64 `json:"balance"`
	}
	decodeBody(t, rec, &balance)
	if balance.Balance != 500 {
		t.Fatalf("balance = %d, want 500", balance.Balance)
	}
}

func TestDepositRequiresMatchingCaller(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/accounts/alice/deposit", "", map[string]any{"amount": 500})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing caller status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/accounts/alice/deposit", "mallory", map[string]any{"amount": 500})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mismatched caller status = %d", rec.Code)
	}
}

func TestWithdrawOverdraft(t *testing.T) {
	h := newTestHandler(t)

	doJSON(t, h, http.MethodPost, "/accounts/alice/deposit", "alice", map[string]any{"amount": 100})
	rec := doJSON(t, h, http.MethodPost, "/accounts/alice/withdraw", "alice", map[string]any{"amount": 150})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraft status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTransferAndHistory(t *testing.T) {
	h := newTestHandler(t)

	doJSON(t, h, http.MethodPost, "/accounts/alice/deposit", "alice", map[string]any{"amount": 300})
	rec := doJSON(t, h, http.MethodPost, "/accounts/alice/transfer", "alice", map[string]any{"to": "bob", "amount": 120})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/accounts/bob/history", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var history []map[string]any
	decodeBody(t, rec, &history)
	if len(history) != 1 {
		t.Fatalf("history entries = %d, want 1", len(history))
	}
}

func TestPaymentLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	doJSON(t, h, http.MethodPost, "/accounts/alice/deposit", "alice", map[string]any{"amount": 10_000})

	rec := doJSON(t, h, http.MethodPost, "/payments", "alice", map[string]any{
		"recipient": "bob",
		"amount":    100,
		"frequency": payment.FrequencyDaily,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create payment status = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID int64 `json:"ID"`
	}
	decodeBody(t, rec, &created)
	if created.ID == 0 {
		t.Fatalf("payment id not assigned: %s", rec.Body.String())
	}

	// Not due yet: conflict.
	rec = doJSON(t, h, http.MethodPost, "/payments/1/execute", "keeper", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("premature execute status = %d: %s", rec.Code, rec.Body.String())
	}

	// Listing requires the caller identity.
	rec = doJSON(t, h, http.MethodGet, "/payments", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list payments status = %d", rec.Code)
	}
	var list []map[string]any
	decodeBody(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("payments listed = %d, want 1", len(list))
	}

	// Only the sender may cancel.
	rec = doJSON(t, h, http.MethodDelete, "/payments/1", "mallory", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign cancel status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, "/payments/1", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, h, http.MethodDelete, "/payments/1", "alice", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double cancel status = %d", rec.Code)
	}
}

func TestExecuteReadySweep(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/payments/execute-ready", "keeper", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep status = %d: %s", rec.Code, rec.Body.String())
	}
	var sweep struct {
		Executed int `json:"executed"`
	}
	decodeBody(t, rec, &sweep)
	if sweep.Executed != 0 {
		t.Fatalf("executed = %d, want 0", sweep.Executed)
	}
}

func TestLendingOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodPost, "/collateral/deposit", "alice", map[string]any{"satoshis": 1_000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add collateral status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/loans", "alice", map[string]any{
		"collateral":    200,
		"principal":     100,
		"duration_days": 30,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create loan status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/loans/1/ratio", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ratio status = %d", rec.Code)
	}
	var ratio struct {
		CollateralRatio int64 `json:"collateral_ratio"`
	}
	decodeBody(t, rec, &ratio)
	if ratio.CollateralRatio != 200 {
		t.Fatalf("ratio = %d, want 200", ratio.CollateralRatio)
	}

	// A healthy loan cannot be liquidated.
	rec = doJSON(t, h, http.MethodPost, "/loans/1/liquidate", "keeper", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("liquidate status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/loans/1/repayment", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repayment status = %d", rec.Code)
	}
	var due struct {
		RepaymentAmount int64 `json:"repayment_amount"`
	}
	decodeBody(t, rec, &due)
	if due.RepaymentAmount < 100 {
		t.Fatalf("repayment = %d, want >= 100", due.RepaymentAmount)
	}

	rec = doJSON(t, h, http.MethodPost, "/loans/1/repay", "alice", map[string]any{"value": due.RepaymentAmount + 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("repay status = %d: %s", rec.Code, rec.Body.String())
	}
	var repaid struct {
		Refund int64 `json:"refund"`
	}
	decodeBody(t, rec, &repaid)
	if repaid.Refund < 10 {
		t.Fatalf("refund = %d, want >= 10", repaid.Refund)
	}

	rec = doJSON(t, h, http.MethodGet, "/loans/totals", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("totals status = %d", rec.Code)
	}
	var totals struct {
		TotalLoans      int64 `json:"total_loans"`
		TotalCollateral int64 `json:"total_collateral"`
	}
	decodeBody(t, rec, &totals)
	if totals.TotalLoans != 0 {
		t.Fatalf("total loans = %d, want 0 after repayment", totals.TotalLoans)
	}
	if totals.TotalCollateral != 1_000 {
		t.Fatalf("total collateral = %d, want 1000", totals.TotalCollateral)
	}
}

func TestInsufficientCollateralOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	doJSON(t, h, http.MethodPost, "/collateral/deposit", "alice", map[string]any{"satoshis": 100})
	rec := doJSON(t, h, http.MethodPost, "/loans", "alice", map[string]any{
		"collateral":    100,
		"principal":     100,
		"duration_days": 30,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("undercollateralized loan status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := newTestHandler(t)

	rec := doJSON(t, h, http.MethodGet, "/payments/not-a-number", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("bad id status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/loans/1", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing loan status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
