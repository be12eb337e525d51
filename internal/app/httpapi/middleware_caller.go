package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CallerHeader carries the wallet address authenticated by the outer
// identity layer. The API trusts it as already verified.
const CallerHeader = "X-Caller-Address"

type ctxKey int

const ctxCallerKey ctxKey = iota

var (
	errMissingCaller  = errors.New("caller address required")
	errCallerMismatch = errors.New("caller does not own this account")
)

// withCaller lifts the caller header into the request context for downstream
// handlers.
func withCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := strings.ToLower(strings.TrimSpace(r.Header.Get(CallerHeader)))
		if caller != "" {
			r = r.WithContext(context.WithValue(r.Context(), ctxCallerKey, caller))
		}
		next.ServeHTTP(w, r)
	})
}

// callerAddress returns the authenticated caller, or "" when none was
// supplied.
func callerAddress(r *http.Request) string {
	caller, _ := r.Context().Value(ctxCallerKey).(string)
	return caller
}
