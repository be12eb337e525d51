// Package scheduler manages recurring payment schedules. The service only
// records intent; transfers happen when a caller polls ListReady and invokes
// Execute, so delivery is at-least-once and every attempt is re-validated.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ledgerdomain "github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/payment"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/metrics"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
	"github.com/AshutoshXYadav/DecentralizedBank/pkg/logger"
)

var (
	// ErrInvalidParameters is returned when a schedule fails validation.
	ErrInvalidParameters = errors.New("invalid payment parameters")

	// ErrNotFound is returned when no schedule exists for an id.
	ErrNotFound = errors.New("scheduled payment not found")

	// ErrNotOwner is returned when a caller manipulates another sender's
	// schedule.
	ErrNotOwner = errors.New("caller does not own this payment")

	// ErrAlreadyInactive is returned when cancelling a cancelled or
	// completed schedule.
	ErrAlreadyInactive = errors.New("payment is not active")

	// ErrNotReady is returned when Execute is called before the schedule
	// is due.
	ErrNotReady = errors.New("payment is not ready")

	// ErrPaymentFailed wraps a ledger failure during execution. The
	// schedule stays due so a later attempt can retry.
	ErrPaymentFailed = errors.New("payment execution failed")
)

// Transferer moves funds between ledger accounts. Satisfied by the ledger
// service.
type Transferer interface {
	Transfer(ctx context.Context, from, to string, amount int64) (ledgerdomain.Transaction, ledgerdomain.Transaction, error)
}

// CreateParams describes a new recurring payment schedule.
type CreateParams struct {
	Sender        string
	Recipient     string
	Amount        int64
	Frequency     int64 // seconds between payments
	TotalPayments int64 // 0 means unlimited
	Description   string
	FirstPayment  time.Time // zero means now + frequency
}

// UpdateParams carries the mutable fields of a schedule. Nil fields are left
// unchanged.
type UpdateParams struct {
	Amount      *int64
	Frequency   *int64
	Description *string
}

// Service owns scheduled payment records and executes due ones against the
// ledger. Execution is serialized by a single mutex, so two concurrent
// Execute calls for one due slot produce exactly one transfer.
type Service struct {
	mu       sync.Mutex
	store    storage.PaymentStore
	transfer Transferer
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a scheduler service.
func New(store storage.PaymentStore, transfer Transferer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Service{
		store:    store,
		transfer: transfer,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Create validates and persists a new schedule. The first payment becomes due
// one frequency interval after creation unless FirstPayment says otherwise.
func (s *Service) Create(ctx context.Context, params CreateParams) (payment.ScheduledPayment, error) {
	sender := normalizeAddress(params.Sender)
	recipient := normalizeAddress(params.Recipient)

	switch {
	case sender == "":
		return payment.ScheduledPayment{}, fmt.Errorf("%w: sender is required", ErrInvalidParameters)
	case recipient == "":
		return payment.ScheduledPayment{}, fmt.Errorf("%w: recipient is required", ErrInvalidParameters)
	case recipient == sender:
		return payment.ScheduledPayment{}, fmt.Errorf("%w: recipient must differ from sender", ErrInvalidParameters)
	case params.Amount <= 0:
		return payment.ScheduledPayment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidParameters)
	case params.Frequency < payment.MinFrequency:
		return payment.ScheduledPayment{}, fmt.Errorf("%w: frequency %d below minimum %d", ErrInvalidParameters, params.Frequency, payment.MinFrequency)
	case params.TotalPayments < 0:
		return payment.ScheduledPayment{}, fmt.Errorf("%w: total payments must not be negative", ErrInvalidParameters)
	case len(params.Description) > payment.MaxDescriptionLength:
		return payment.ScheduledPayment{}, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidParameters, payment.MaxDescriptionLength)
	}

	next := params.FirstPayment
	if next.IsZero() {
		next = s.now().Add(time.Duration(params.Frequency) * time.Second)
	}

	created, err := s.store.CreateScheduledPayment(ctx, payment.ScheduledPayment{
		Sender:          sender,
		Recipient:       recipient,
		Amount:          params.Amount,
		Frequency:       params.Frequency,
		TotalPayments:   params.TotalPayments,
		NextPaymentTime: next.UTC(),
		Active:          true,
		Description:     strings.TrimSpace(params.Description),
	})
	if err != nil {
		return payment.ScheduledPayment{}, fmt.Errorf("create scheduled payment: %w", err)
	}

	s.log.WithField("payment_id", created.ID).
		WithField("sender", sender).
		WithField("recipient", recipient).
		WithField("frequency", params.Frequency).
		Info("scheduled payment created")
	return created, nil
}

// Cancel deactivates a schedule. History already accrued is kept.
func (s *Service) Cancel(ctx context.Context, caller string, id int64) (payment.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.owned(ctx, caller, id)
	if err != nil {
		return payment.ScheduledPayment{}, err
	}
	if !p.Active {
		return payment.ScheduledPayment{}, ErrAlreadyInactive
	}

	p.Active = false
	updated, err := s.store.UpdateScheduledPayment(ctx, p)
	if err != nil {
		return payment.ScheduledPayment{}, fmt.Errorf("cancel payment: %w", err)
	}

	s.log.WithField("payment_id", id).Info("scheduled payment cancelled")
	return updated, nil
}

// Update adjusts the mutable fields of an active schedule.
func (s *Service) Update(ctx context.Context, caller string, id int64, params UpdateParams) (payment.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.owned(ctx, caller, id)
	if err != nil {
		return payment.ScheduledPayment{}, err
	}
	if !p.Active {
		return payment.ScheduledPayment{}, ErrAlreadyInactive
	}

	if params.Amount != nil {
		if *params.Amount <= 0 {
			return payment.ScheduledPayment{}, fmt.Errorf("%w: amount must be positive", ErrInvalidParameters)
		}
		p.Amount = *params.Amount
	}
	if params.Frequency != nil {
		if *params.Frequency < payment.MinFrequency {
			return payment.ScheduledPayment{}, fmt.Errorf("%w: frequency %d below minimum %d", ErrInvalidParameters, *params.Frequency, payment.MinFrequency)
		}
		p.Frequency = *params.Frequency
	}
	if params.Description != nil {
		if len(*params.Description) > payment.MaxDescriptionLength {
			return payment.ScheduledPayment{}, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidParameters, payment.MaxDescriptionLength)
		}
		p.Description = strings.TrimSpace(*params.Description)
	}

	updated, err := s.store.UpdateScheduledPayment(ctx, p)
	if err != nil {
		return payment.ScheduledPayment{}, fmt.Errorf("update payment: %w", err)
	}

	s.log.WithField("payment_id", id).Info("scheduled payment updated")
	return updated, nil
}

// Get returns a schedule by id.
func (s *Service) Get(ctx context.Context, id int64) (payment.ScheduledPayment, error) {
	p, err := s.store.GetScheduledPayment(ctx, id)
	if err != nil {
		return payment.ScheduledPayment{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return p, nil
}

// ListForSender returns every schedule created by a sender, active or not.
func (s *Service) ListForSender(ctx context.Context, sender string) ([]payment.ScheduledPayment, error) {
	return s.store.ListScheduledPayments(ctx, normalizeAddress(sender))
}

// ListReady returns the schedules currently due for execution.
func (s *Service) ListReady(ctx context.Context) ([]payment.ScheduledPayment, error) {
	return s.store.ListReadyPayments(ctx, s.now())
}

// Execute runs one due payment. Readiness is re-checked under the lock, so a
// schedule reported ready by an earlier ListReady may legitimately come back
// ErrNotReady here. On ledger failure the schedule is left due and the error
// wraps ErrPaymentFailed.
func (s *Service) Execute(ctx context.Context, id int64) (payment.ScheduledPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeLocked(ctx, id)
}

// ExecuteReady runs every currently due payment once, in id order. It returns
// the ids that executed and keeps going past individual failures. This is the
// in-process equivalent of an external keeper sweep.
func (s *Service) ExecuteReady(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ready, err := s.store.ListReadyPayments(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list ready payments: %w", err)
	}

	executed := make([]int64, 0, len(ready))
	for _, p := range ready {
		if _, err := s.executeLocked(ctx, p.ID); err != nil {
			if errors.Is(err, ErrNotReady) {
				continue
			}
			s.log.WithError(err).
				WithField("payment_id", p.ID).
				Warn("scheduled payment execution failed")
			continue
		}
		executed = append(executed, p.ID)
	}
	return executed, nil
}

func (s *Service) executeLocked(ctx context.Context, id int64) (payment.ScheduledPayment, error) {
	p, err := s.store.GetScheduledPayment(ctx, id)
	if err != nil {
		return payment.ScheduledPayment{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	now := s.now()
	if !p.Ready(now) {
		return payment.ScheduledPayment{}, fmt.Errorf("%w: id %d", ErrNotReady, id)
	}

	start := time.Now()
	if _, _, err := s.transfer.Transfer(ctx, p.Sender, p.Recipient, p.Amount); err != nil {
		metrics.RecordPaymentExecution(time.Since(start), false)
		return payment.ScheduledPayment{}, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	// Advance from the previous due time, not from now, so slow sweeps do
	// not drift the schedule.
	p.PaymentsMade++
	p.NextPaymentTime = p.NextPaymentTime.Add(time.Duration(p.Frequency) * time.Second)
	if p.TotalPayments > 0 && p.PaymentsMade >= p.TotalPayments {
		p.Active = false
	}

	updated, err := s.store.UpdateScheduledPayment(ctx, p)
	if err != nil {
		// The schedule stays due, so a retry would pay this cycle again.
		// Return the funds before surfacing the failure.
		if _, _, rbErr := s.transfer.Transfer(ctx, p.Recipient, p.Sender, p.Amount); rbErr != nil {
			s.log.WithError(rbErr).
				WithField("payment_id", id).
				Error("payment execution rollback failed")
		}
		metrics.RecordPaymentExecution(time.Since(start), false)
		return payment.ScheduledPayment{}, fmt.Errorf("record payment execution: %w", err)
	}

	metrics.RecordPaymentExecution(time.Since(start), true)
	s.log.WithField("payment_id", id).
		WithField("payments_made", updated.PaymentsMade).
		WithField("active", updated.Active).
		Info("scheduled payment executed")
	return updated, nil
}

func (s *Service) owned(ctx context.Context, caller string, id int64) (payment.ScheduledPayment, error) {
	p, err := s.store.GetScheduledPayment(ctx, id)
	if err != nil {
		return payment.ScheduledPayment{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if p.Sender != normalizeAddress(caller) {
		return payment.ScheduledPayment{}, ErrNotOwner
	}
	return p, nil
}
