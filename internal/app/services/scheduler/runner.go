package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/system"
	"github.com/AshutoshXYadav/DecentralizedBank/pkg/logger"
)

// Runner periodically sweeps due payments and executes them. It stands in for
// the external automation caller when the application runs self-contained.
type Runner struct {
	service  *Service
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Runner)(nil)

// NewRunner constructs a runner sweeping at the given interval.
func NewRunner(service *Service, interval time.Duration, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("scheduler-runner")
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Runner{
		service:  service,
		interval: interval,
		log:      log,
	}
}

func (r *Runner) Name() string { return "scheduler-runner" }

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				r.tick(runCtx)
			}
		}
	}()

	r.log.Info("payment runner started")
	return nil
}

func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *Runner) tick(ctx context.Context) {
	executed, err := r.service.ExecuteReady(ctx)
	if err != nil {
		r.log.WithError(err).Warn("payment sweep failed")
		return
	}
	if len(executed) > 0 {
		r.log.WithField("executed", len(executed)).Info("payment sweep completed")
	}
}
