// Package httpapi exposes the bank's services over a small REST surface. The
// caller's wallet address arrives pre-authenticated in the X-Caller-Address
// header; this layer only translates requests into service calls and the
// error taxonomy into HTTP statuses.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/AshutoshXYadav/DecentralizedBank/internal/app"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/metrics"
	ledgersvc "github.com/AshutoshXYadav/DecentralizedBank/internal/app/services/ledger"
	lendingsvc "github.com/AshutoshXYadav/DecentralizedBank/internal/app/services/lending"
	schedulersvc "github.com/AshutoshXYadav/DecentralizedBank/internal/app/services/scheduler"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/", h.accountResources)
	mux.HandleFunc("/payments", h.payments)
	mux.HandleFunc("/payments/", h.paymentResources)
	mux.HandleFunc("/collateral", h.collateral)
	mux.HandleFunc("/collateral/", h.collateralActions)
	mux.HandleFunc("/loans", h.loans)
	mux.HandleFunc("/loans/", h.loanResources)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", metrics.Handler())
	return metrics.InstrumentHandler(withCaller(mux))
}

// --- ledger -----------------------------------------------------------------

func (h *handler) accountResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	address := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		balance, err := h.app.Ledger.BalanceOf(r.Context(), address)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"address": address, "balance": balance})
		return
	}

	switch parts[1] {
	case "history":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		history, err := h.app.Ledger.HistoryOf(r.Context(), address)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, history)

	case "deposit":
		h.ledgerMovement(w, r, address, "deposit")

	case "withdraw":
		h.ledgerMovement(w, r, address, "withdraw")

	case "transfer":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !h.requireCaller(w, r, address) {
			return
		}
		var payload struct {
			To     string `json:"to"`
			Amount int64  `json:"amount"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		out, in, err := h.app.Ledger.Transfer(r.Context(), address, payload.To, payload.Amount)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"outgoing": out, "incoming": in})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) ledgerMovement(w http.ResponseWriter, r *http.Request, address, kind string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireCaller(w, r, address) {
		return
	}
	var payload struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	var tx any
	if kind == "deposit" {
		tx, err = h.app.Ledger.Deposit(r.Context(), address, payload.Amount)
	} else {
		tx, err = h.app.Ledger.Withdraw(r.Context(), address, payload.Amount)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// --- scheduler --------------------------------------------------------------

func (h *handler) payments(w http.ResponseWriter, r *http.Request) {
	caller := callerAddress(r)

	switch r.Method {
	case http.MethodPost:
		if caller == "" {
			writeError(w, http.StatusUnauthorized, errMissingCaller)
			return
		}
		var payload struct {
			Recipient     string `json:"recipient"`
			Amount        int64  `json:"amount"`
			Frequency     int64  `json:"frequency"`
			TotalPayments int64  `json:"total_payments"`
			Description   string `json:"description"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		p, err := h.app.Scheduler.Create(r.Context(), schedulersvc.CreateParams{
			Sender:        caller,
			Recipient:     payload.Recipient,
			Amount:        payload.Amount,
			Frequency:     payload.Frequency,
			TotalPayments: payload.TotalPayments,
			Description:   payload.Description,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	case http.MethodGet:
		if caller == "" {
			writeError(w, http.StatusUnauthorized, errMissingCaller)
			return
		}
		payments, err := h.app.Scheduler.ListForSender(r.Context(), caller)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, payments)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) paymentResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/payments"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[0] {
	case "ready":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ready, err := h.app.Scheduler.ListReady(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, ready)
		return

	case "execute-ready":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		executed, err := h.app.Scheduler.ExecuteReady(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"executed": len(executed), "ids": executed})
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			p, err := h.app.Scheduler.Get(r.Context(), id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, p)

		case http.MethodPut:
			caller := callerAddress(r)
			if caller == "" {
				writeError(w, http.StatusUnauthorized, errMissingCaller)
				return
			}
			var payload struct {
				Amount      *int64  `json:"amount"`
				Frequency   *int64  `json:"frequency"`
				Description *string `json:"description"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			p, err := h.app.Scheduler.Update(r.Context(), caller, id, schedulersvc.UpdateParams{
				Amount:      payload.Amount,
				Frequency:   payload.Frequency,
				Description: payload.Description,
			})
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, p)

		case http.MethodDelete:
			caller := callerAddress(r)
			if caller == "" {
				writeError(w, http.StatusUnauthorized, errMissingCaller)
				return
			}
			p, err := h.app.Scheduler.Cancel(r.Context(), caller, id)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, p)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if parts[1] == "execute" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, err := h.app.Scheduler.Execute(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	w.WriteHeader(http.StatusNotFound)
}

// --- lending ----------------------------------------------------------------

func (h *handler) collateral(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}
	pos, err := h.app.Lending.Position(r.Context(), caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (h *handler) collateralActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller := callerAddress(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/collateral"), "/")
	var payload struct {
		Satoshis int64 `json:"satoshis"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch action {
	case "deposit":
		pos, err := h.app.Lending.AddCollateral(r.Context(), caller, payload.Satoshis)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, pos)
	case "withdraw":
		pos, err := h.app.Lending.RemoveCollateral(r.Context(), caller, payload.Satoshis)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pos)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) loans(w http.ResponseWriter, r *http.Request) {
	caller := callerAddress(r)

	switch r.Method {
	case http.MethodPost:
		if caller == "" {
			writeError(w, http.StatusUnauthorized, errMissingCaller)
			return
		}
		var payload struct {
			Collateral   int64 `json:"collateral"`
			Principal    int64 `json:"principal"`
			DurationDays int64 `json:"duration_days"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		loan, err := h.app.Lending.CreateLoan(r.Context(), caller, payload.Collateral, payload.Principal, payload.DurationDays)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, loan)

	case http.MethodGet:
		if caller == "" {
			writeError(w, http.StatusUnauthorized, errMissingCaller)
			return
		}
		loans, err := h.app.Lending.ListLoansForBorrower(r.Context(), caller)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, loans)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) loanResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/loans"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if parts[0] == "totals" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		totalLoans, err := h.app.Lending.TotalLoans(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		totalCollateral, err := h.app.Lending.TotalCollateral(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{
			"total_loans":      totalLoans,
			"total_collateral": totalCollateral,
		})
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		loan, err := h.app.Lending.GetLoan(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)
		return
	}

	switch parts[1] {
	case "repayment":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		amount, err := h.app.Lending.RepaymentAmount(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"repayment_amount": amount})

	case "ratio":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ratio, err := h.app.Lending.CollateralRatio(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"collateral_ratio": ratio})

	case "repay":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if callerAddress(r) == "" {
			writeError(w, http.StatusUnauthorized, errMissingCaller)
			return
		}
		var payload struct {
			Value int64 `json:"value"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		refund, loan, err := h.app.Lending.RepayLoan(r.Context(), id, payload.Value)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"loan": loan, "refund": refund})

	case "liquidate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		loan, err := h.app.Lending.Liquidate(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loan)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// requireCaller rejects requests whose authenticated caller does not match
// the address being operated on.
func (h *handler) requireCaller(w http.ResponseWriter, r *http.Request, address string) bool {
	caller := callerAddress(r)
	if caller == "" {
		writeError(w, http.StatusUnauthorized, errMissingCaller)
		return false
	}
	if !strings.EqualFold(caller, address) {
		writeError(w, http.StatusForbidden, errCallerMismatch)
		return false
	}
	return true
}

// writeServiceError maps the service error taxonomy to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, schedulersvc.ErrNotFound),
		errors.Is(err, lendingsvc.ErrLoanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schedulersvc.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, ledgersvc.ErrInsufficientFunds),
		errors.Is(err, lendingsvc.ErrInsufficientCollateral),
		errors.Is(err, lendingsvc.ErrInsufficientPayment),
		errors.Is(err, schedulersvc.ErrPaymentFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, schedulersvc.ErrAlreadyInactive),
		errors.Is(err, schedulersvc.ErrNotReady),
		errors.Is(err, lendingsvc.ErrLoanInactive),
		errors.Is(err, lendingsvc.ErrNotLiquidatable):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
