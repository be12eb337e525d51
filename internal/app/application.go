// Package app wires the bank's services together: the ledger, the payment
// scheduler, and the lending engine, plus the lifecycle of their background
// runners.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	ledgersvc "github.com/AshutoshXYadav/DecentralizedBank/internal/app/services/ledger"
	lendingsvc "github.com/AshutoshXYadav/DecentralizedBank/internal/app/services/lending"
	schedulersvc "github.com/AshutoshXYadav/DecentralizedBank/internal/app/services/scheduler"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage/memory"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/system"
	"github.com/AshutoshXYadav/DecentralizedBank/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Ledger   storage.LedgerStore
	Payments storage.PaymentStore
	Lending  storage.LendingStore
}

// Options carries the tunables the services need beyond their stores.
type Options struct {
	// SchedulerInterval is the payment runner's sweep cadence. Zero picks
	// the runner's default.
	SchedulerInterval time.Duration

	// DisableRunner turns the in-process payment runner off, leaving due
	// payments to external automation callers.
	DisableRunner bool

	// OracleEndpoint, when set, selects the HTTP price oracle; OracleAPIKey
	// is sent as a bearer token.
	OracleEndpoint string
	OracleAPIKey   string

	// StaticPrice quotes collateral at a fixed price per BTC when no
	// endpoint is configured.
	StaticPrice int64

	// LiquidationSink receives seized collateral. Empty selects the
	// lending service's default.
	LiquidationSink string
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Ledger    *ledgersvc.Service
	Scheduler *schedulersvc.Service
	Lending   *lendingsvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Ledger == nil {
		stores.Ledger = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Lending == nil {
		stores.Lending = mem
	}

	manager := system.NewManager()

	ledgerService := ledgersvc.New(stores.Ledger, log)
	schedulerService := schedulersvc.New(stores.Payments, ledgerService, log)

	var oracle lendingsvc.PriceOracle
	if endpoint := strings.TrimSpace(opts.OracleEndpoint); endpoint != "" {
		oracle = lendingsvc.NewHTTPOracle(endpoint, opts.OracleAPIKey, log)
	} else {
		if opts.StaticPrice <= 0 {
			return nil, fmt.Errorf("no oracle endpoint and no static price configured")
		}
		log.WithField("price", opts.StaticPrice).Warn("no oracle endpoint set; quoting from static price")
		oracle = lendingsvc.NewStaticOracle(opts.StaticPrice)
	}
	lendingService := lendingsvc.New(stores.Lending, ledgerService, oracle, opts.LiquidationSink, log)

	for _, name := range []string{"ledger", "scheduler", "lending"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.DisableRunner {
		log.Warn("payment runner disabled; due payments need an external automation caller")
	} else {
		runner := schedulersvc.NewRunner(schedulerService, opts.SchedulerInterval, log)
		if err := manager.Register(runner); err != nil {
			return nil, fmt.Errorf("register %s: %w", runner.Name(), err)
		}
	}

	return &Application{
		manager:   manager,
		log:       log,
		Ledger:    ledgerService,
		Scheduler: schedulerService,
		Lending:   lendingService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
