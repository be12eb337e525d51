package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bank",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bank",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: "ledger",
			Name:      "transactions_total",
			Help:      "Total number of ledger transactions applied.",
		},
		[]string{"kind"},
	)

	paymentExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: "scheduler",
			Name:      "payment_executions_total",
			Help:      "Total number of scheduled payment execution attempts.",
		},
		[]string{"success"},
	)

	paymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bank",
			Subsystem: "scheduler",
			Name:      "payment_execution_duration_seconds",
			Help:      "Duration of scheduled payment executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"success"},
	)

	loanEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bank",
			Subsystem: "lending",
			Name:      "loan_events_total",
			Help:      "Total number of loan lifecycle events.",
		},
		[]string{"event"},
	)

	outstandingLoans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bank",
			Subsystem: "lending",
			Name:      "outstanding_principal",
			Help:      "Sum of principal across active loans, in smallest units.",
		},
	)

	lockedCollateral = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bank",
			Subsystem: "lending",
			Name:      "locked_collateral_satoshis",
			Help:      "Total collateral locked against active loans, in satoshis.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerTransactions,
		paymentExecutions,
		paymentDuration,
		loanEvents,
		outstandingLoans,
		lockedCollateral,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordLedgerTransaction counts an applied ledger transaction by kind.
func RecordLedgerTransaction(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	ledgerTransactions.WithLabelValues(kind).Inc()
}

// RecordPaymentExecution records a scheduled payment execution attempt.
func RecordPaymentExecution(duration time.Duration, success bool) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	result := "false"
	if success {
		result = "true"
	}
	paymentExecutions.WithLabelValues(result).Inc()
	paymentDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordLoanEvent counts a loan lifecycle event (created, repaid, liquidated).
func RecordLoanEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	loanEvents.WithLabelValues(event).Inc()
}

// SetLendingExposure publishes the aggregate lending gauges.
func SetLendingExposure(principal, collateral int64) {
	outstandingLoans.Set(float64(principal))
	lockedCollateral.Set(float64(collateral))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "accounts":
		if len(parts) == 1 {
			return "/accounts"
		}
		if len(parts) == 2 {
			return "/accounts/:address"
		}
		return "/accounts/:address/" + parts[2]
	case "payments":
		if len(parts) == 1 {
			return "/payments"
		}
		if parts[1] == "execute-ready" || parts[1] == "ready" {
			return "/payments/" + parts[1]
		}
		if len(parts) == 2 {
			return "/payments/:id"
		}
		return "/payments/:id/" + parts[2]
	case "loans":
		if len(parts) == 1 {
			return "/loans"
		}
		switch parts[1] {
		case "totals":
			return "/loans/totals"
		}
		if len(parts) == 2 {
			return "/loans/:id"
		}
		return "/loans/:id/" + parts[2]
	case "collateral":
		if len(parts) == 1 {
			return "/collateral"
		}
		return "/collateral/" + parts[1]
	default:
		return "/" + parts[0]
	}
}
