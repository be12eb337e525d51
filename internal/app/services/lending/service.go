// Package lending implements Bitcoin-collateralized loans: collateral
// positions, loan issuance against a 200% creation ratio, simple-interest
// repayment, and liquidation at a 150% ratio floor. Collateral is tracked in
// integer satoshis; loan values in the ledger's smallest unit.
package lending

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	ledgerdomain "github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/ledger"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/domain/lending"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/metrics"
	"github.com/AshutoshXYadav/DecentralizedBank/internal/app/storage"
	"github.com/AshutoshXYadav/DecentralizedBank/pkg/logger"
)

var (
	// ErrInvalidAmount is returned for non-positive amounts or durations.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientCollateral is returned when free collateral cannot
	// cover a requested earmark or removal.
	ErrInsufficientCollateral = errors.New("insufficient collateral")

	// ErrInsufficientPayment is returned when a repayment does not cover
	// the outstanding amount.
	ErrInsufficientPayment = errors.New("payment below outstanding amount")

	// ErrLoanInactive is returned when operating on a repaid or liquidated
	// loan.
	ErrLoanInactive = errors.New("loan is not active")

	// ErrLoanNotFound is returned when no loan exists for an id.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrNotLiquidatable is returned when a loan's collateral ratio is
	// still above the liquidation threshold.
	ErrNotLiquidatable = errors.New("loan is above the liquidation threshold")
)

// RatioInfinite is the collateral ratio reported when nothing is outstanding.
const RatioInfinite int64 = math.MaxInt64

// DefaultLiquidationSink receives seized collateral when no sink address is
// configured.
const DefaultLiquidationSink = "liquidation-pool"

// Bank credits loan proceeds to the borrower's ledger account. Satisfied by
// the ledger service.
type Bank interface {
	Deposit(ctx context.Context, address string, amount int64) (ledgerdomain.Transaction, error)
}

// Service owns collateral positions and loans. Mutating operations are
// serialized by a single mutex so ratio checks and the movements they gate
// are atomic with respect to concurrent callers.
type Service struct {
	mu     sync.Mutex
	store  storage.LendingStore
	bank   Bank
	oracle PriceOracle
	sink   string
	log    *logger.Logger
	now    func() time.Time
}

// New constructs a lending service. Seized collateral is parked under the
// sink address; an empty sink selects DefaultLiquidationSink.
func New(store storage.LendingStore, bank Bank, oracle PriceOracle, sink string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lending")
	}
	sink = normalizeAddress(sink)
	if sink == "" {
		sink = DefaultLiquidationSink
	}
	return &Service{
		store:  store,
		bank:   bank,
		oracle: oracle,
		sink:   sink,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// AddCollateral records deposited Bitcoin collateral for an address.
func (s *Service) AddCollateral(ctx context.Context, address string, satoshis int64) (lending.Position, error) {
	address = normalizeAddress(address)
	if address == "" {
		return lending.Position{}, fmt.Errorf("%w: address is required", ErrInvalidAmount)
	}
	if satoshis <= 0 {
		return lending.Position{}, fmt.Errorf("%w: got %d satoshis", ErrInvalidAmount, satoshis)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.store.GetPosition(ctx, address)
	if err != nil {
		return lending.Position{}, fmt.Errorf("load position: %w", err)
	}
	pos.TotalCollateral += satoshis
	updated, err := s.store.UpsertPosition(ctx, pos)
	if err != nil {
		return lending.Position{}, fmt.Errorf("store position: %w", err)
	}

	s.refreshExposure(ctx)
	s.log.WithField("address", address).
		WithField("satoshis", satoshis).
		Info("collateral added")
	return updated, nil
}

// RemoveCollateral releases free collateral. Removal fails when the remaining
// total would no longer cover, for every active loan of the address, the
// greater of its earmark and the collateral holding the creation ratio at the
// current price.
func (s *Service) RemoveCollateral(ctx context.Context, address string, satoshis int64) (lending.Position, error) {
	address = normalizeAddress(address)
	if satoshis <= 0 {
		return lending.Position{}, fmt.Errorf("%w: got %d satoshis", ErrInvalidAmount, satoshis)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.store.GetPosition(ctx, address)
	if err != nil {
		return lending.Position{}, fmt.Errorf("load position: %w", err)
	}
	if satoshis > pos.TotalCollateral {
		return lending.Position{}, fmt.Errorf("%w: have %d satoshis, want to remove %d", ErrInsufficientCollateral, pos.TotalCollateral, satoshis)
	}

	required, err := s.requiredCollateral(ctx, address)
	if err != nil {
		return lending.Position{}, err
	}
	if pos.TotalCollateral-satoshis < required {
		return lending.Position{}, fmt.Errorf("%w: %d satoshis must stay pledged", ErrInsufficientCollateral, required)
	}

	pos.TotalCollateral -= satoshis
	updated, err := s.store.UpsertPosition(ctx, pos)
	if err != nil {
		return lending.Position{}, fmt.Errorf("store position: %w", err)
	}

	s.refreshExposure(ctx)
	s.log.WithField("address", address).
		WithField("satoshis", satoshis).
		Info("collateral removed")
	return updated, nil
}

// CreateLoan earmarks collateral and issues a loan, crediting the principal
// to the borrower's ledger account. The earmark's quote value must reach the
// creation ratio against the principal, and the borrower's free collateral
// must cover the earmark.
func (s *Service) CreateLoan(ctx context.Context, borrower string, collateralEarmark, principal, durationDays int64) (lending.Loan, error) {
	borrower = normalizeAddress(borrower)
	switch {
	case borrower == "":
		return lending.Loan{}, fmt.Errorf("%w: borrower is required", ErrInvalidAmount)
	case collateralEarmark <= 0:
		return lending.Loan{}, fmt.Errorf("%w: collateral earmark %d", ErrInvalidAmount, collateralEarmark)
	case principal <= 0:
		return lending.Loan{}, fmt.Errorf("%w: principal %d", ErrInvalidAmount, principal)
	case durationDays <= 0:
		return lending.Loan{}, fmt.Errorf("%w: duration %d days", ErrInvalidAmount, durationDays)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	quote, err := s.oracle.QuoteValue(ctx, collateralEarmark)
	if err != nil {
		return lending.Loan{}, fmt.Errorf("quote collateral: %w", err)
	}
	// quote * 100 >= principal * CreationRatioPct, in big.Int to dodge
	// overflow on large positions.
	lhs := new(big.Int).Mul(big.NewInt(quote), big.NewInt(100))
	rhs := new(big.Int).Mul(big.NewInt(principal), big.NewInt(lending.CreationRatioPct))
	if lhs.Cmp(rhs) < 0 {
		return lending.Loan{}, fmt.Errorf("%w: earmark worth %d covers less than %d%% of principal %d", ErrInsufficientCollateral, quote, lending.CreationRatioPct, principal)
	}

	pos, err := s.store.GetPosition(ctx, borrower)
	if err != nil {
		return lending.Loan{}, fmt.Errorf("load position: %w", err)
	}
	if pos.Free() < collateralEarmark {
		return lending.Loan{}, fmt.Errorf("%w: free collateral %d, earmark %d", ErrInsufficientCollateral, pos.Free(), collateralEarmark)
	}

	pos.Locked += collateralEarmark
	pos.TotalLoans += principal
	if _, err := s.store.UpsertPosition(ctx, pos); err != nil {
		return lending.Loan{}, fmt.Errorf("store position: %w", err)
	}

	now := s.now()
	loan, err := s.store.CreateLoan(ctx, lending.Loan{
		Borrower:   borrower,
		Collateral: collateralEarmark,
		Principal:  principal,
		RateBps:    lending.InterestRateBps,
		StartTime:  now,
		DueDate:    now.Add(time.Duration(durationDays) * 24 * time.Hour),
		Active:     true,
	})
	if err != nil {
		pos.Locked -= collateralEarmark
		pos.TotalLoans -= principal
		if _, rbErr := s.store.UpsertPosition(ctx, pos); rbErr != nil {
			s.log.WithError(rbErr).WithField("borrower", borrower).Error("loan rollback failed")
		}
		return lending.Loan{}, fmt.Errorf("store loan: %w", err)
	}

	if _, err := s.bank.Deposit(ctx, borrower, principal); err != nil {
		loan.Active = false
		if _, rbErr := s.store.UpdateLoan(ctx, loan); rbErr != nil {
			s.log.WithError(rbErr).WithField("loan_id", loan.ID).Error("loan rollback failed")
		}
		pos.Locked -= collateralEarmark
		pos.TotalLoans -= principal
		if _, rbErr := s.store.UpsertPosition(ctx, pos); rbErr != nil {
			s.log.WithError(rbErr).WithField("borrower", borrower).Error("loan rollback failed")
		}
		return lending.Loan{}, fmt.Errorf("credit loan proceeds: %w", err)
	}

	metrics.RecordLoanEvent("created")
	s.refreshExposure(ctx)
	s.log.WithField("loan_id", loan.ID).
		WithField("borrower", borrower).
		WithField("principal", principal).
		WithField("collateral", collateralEarmark).
		Info("loan created")
	return loan, nil
}

// RepaymentAmount returns principal plus simple interest accrued up to now.
// It is recomputed from the clock on every call, never cached.
func (s *Service) RepaymentAmount(ctx context.Context, id int64) (int64, error) {
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	return s.outstanding(loan, s.now()), nil
}

// RepayLoan settles an active loan with the value sent by the caller. The
// sent value is consumed directly rather than pulled from a ledger balance;
// any excess over the outstanding amount is returned as a refund. The
// earmarked collateral goes back to the borrower's free collateral.
func (s *Service) RepayLoan(ctx context.Context, id, valueSent int64) (refund int64, loan lending.Loan, err error) {
	if valueSent <= 0 {
		return 0, lending.Loan{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, valueSent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loan, err = s.store.GetLoan(ctx, id)
	if err != nil {
		return 0, lending.Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	if !loan.Active {
		return 0, lending.Loan{}, fmt.Errorf("%w: id %d", ErrLoanInactive, id)
	}

	due := s.outstanding(loan, s.now())
	if valueSent < due {
		return 0, lending.Loan{}, fmt.Errorf("%w: sent %d, outstanding %d", ErrInsufficientPayment, valueSent, due)
	}

	loan.Active = false
	loan, err = s.store.UpdateLoan(ctx, loan)
	if err != nil {
		return 0, lending.Loan{}, fmt.Errorf("settle loan: %w", err)
	}

	pos, err := s.store.GetPosition(ctx, loan.Borrower)
	if err != nil {
		s.reactivateLoan(ctx, loan)
		return 0, lending.Loan{}, fmt.Errorf("load position: %w", err)
	}
	pos.Locked -= loan.Collateral
	pos.TotalLoans -= loan.Principal
	if _, err := s.store.UpsertPosition(ctx, pos); err != nil {
		// Put the loan back so the repayment can be retried; a settled
		// loan must never keep collateral locked.
		s.reactivateLoan(ctx, loan)
		return 0, lending.Loan{}, fmt.Errorf("release collateral: %w", err)
	}

	metrics.RecordLoanEvent("repaid")
	s.refreshExposure(ctx)
	s.log.WithField("loan_id", id).
		WithField("paid", due).
		WithField("refund", valueSent-due).
		Info("loan repaid")
	return valueSent - due, loan, nil
}

// CollateralRatio returns the loan's live collateral ratio in percent:
// earmark quote value over outstanding repayment. A fully settled loan
// reports RatioInfinite.
func (s *Service) CollateralRatio(ctx context.Context, id int64) (int64, error) {
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	return s.ratio(ctx, loan, s.now())
}

// Liquidate seizes an active loan's collateral once its ratio has fallen to
// the liquidation threshold. Any caller may trigger it; the borrower keeps
// nothing from the earmark.
func (s *Service) Liquidate(ctx context.Context, id int64) (lending.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return lending.Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	if !loan.Active {
		return lending.Loan{}, fmt.Errorf("%w: id %d", ErrLoanInactive, id)
	}

	ratio, err := s.ratio(ctx, loan, s.now())
	if err != nil {
		return lending.Loan{}, err
	}
	if ratio > lending.LiquidationRatioPct {
		return lending.Loan{}, fmt.Errorf("%w: ratio %d%%, threshold %d%%", ErrNotLiquidatable, ratio, lending.LiquidationRatioPct)
	}

	loan.Active = false
	loan.Liquidated = true
	loan, err = s.store.UpdateLoan(ctx, loan)
	if err != nil {
		return lending.Loan{}, fmt.Errorf("mark loan liquidated: %w", err)
	}

	pos, err := s.store.GetPosition(ctx, loan.Borrower)
	if err != nil {
		s.reactivateLoan(ctx, loan)
		return lending.Loan{}, fmt.Errorf("load position: %w", err)
	}
	pos.TotalCollateral -= loan.Collateral
	pos.Locked -= loan.Collateral
	pos.TotalLoans -= loan.Principal
	if _, err := s.store.UpsertPosition(ctx, pos); err != nil {
		s.reactivateLoan(ctx, loan)
		return lending.Loan{}, fmt.Errorf("seize collateral: %w", err)
	}

	sink, err := s.store.GetPosition(ctx, s.sink)
	if err != nil {
		// Seized collateral must not vanish: restore the borrower's
		// position before reverting the loan.
		pos.TotalCollateral += loan.Collateral
		pos.Locked += loan.Collateral
		pos.TotalLoans += loan.Principal
		if _, rbErr := s.store.UpsertPosition(ctx, pos); rbErr != nil {
			s.log.WithError(rbErr).WithField("loan_id", loan.ID).Error("liquidation rollback failed")
		}
		s.reactivateLoan(ctx, loan)
		return lending.Loan{}, fmt.Errorf("load sink position: %w", err)
	}
	sink.TotalCollateral += loan.Collateral
	if _, err := s.store.UpsertPosition(ctx, sink); err != nil {
		pos.TotalCollateral += loan.Collateral
		pos.Locked += loan.Collateral
		pos.TotalLoans += loan.Principal
		if _, rbErr := s.store.UpsertPosition(ctx, pos); rbErr != nil {
			s.log.WithError(rbErr).WithField("loan_id", loan.ID).Error("liquidation rollback failed")
		}
		s.reactivateLoan(ctx, loan)
		return lending.Loan{}, fmt.Errorf("credit sink position: %w", err)
	}

	metrics.RecordLoanEvent("liquidated")
	s.refreshExposure(ctx)
	s.log.WithField("loan_id", id).
		WithField("borrower", loan.Borrower).
		WithField("collateral", loan.Collateral).
		WithField("ratio", ratio).
		Warn("loan liquidated")
	return loan, nil
}

// GetLoan returns a loan by id.
func (s *Service) GetLoan(ctx context.Context, id int64) (lending.Loan, error) {
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return lending.Loan{}, fmt.Errorf("%w: id %d", ErrLoanNotFound, id)
	}
	return loan, nil
}

// Position returns the collateral position for an address. Unknown addresses
// hold an empty position.
func (s *Service) Position(ctx context.Context, address string) (lending.Position, error) {
	return s.store.GetPosition(ctx, normalizeAddress(address))
}

// ListLoansForBorrower returns every loan of a borrower, settled ones
// included.
func (s *Service) ListLoansForBorrower(ctx context.Context, borrower string) ([]lending.Loan, error) {
	return s.store.ListLoans(ctx, normalizeAddress(borrower))
}

// TotalLoans returns the outstanding principal summed over all positions.
func (s *Service) TotalLoans(ctx context.Context) (int64, error) {
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}
	var total int64
	for _, pos := range positions {
		total += pos.TotalLoans
	}
	return total, nil
}

// TotalCollateral returns the Bitcoin collateral held across all positions,
// in satoshis.
func (s *Service) TotalCollateral(ctx context.Context) (int64, error) {
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list positions: %w", err)
	}
	var total int64
	for _, pos := range positions {
		total += pos.TotalCollateral
	}
	return total, nil
}

// reactivateLoan reverts a settlement or liquidation marker after a later
// write failed, so the operation stays retryable. Callers hold the service
// mutex.
func (s *Service) reactivateLoan(ctx context.Context, loan lending.Loan) {
	loan.Active = true
	loan.Liquidated = false
	if _, err := s.store.UpdateLoan(ctx, loan); err != nil {
		s.log.WithError(err).WithField("loan_id", loan.ID).Error("loan reactivation failed")
	}
}

// outstanding computes principal + simple interest at the given instant.
func (s *Service) outstanding(loan lending.Loan, now time.Time) int64 {
	elapsed := int64(now.Sub(loan.StartTime) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}

	interest := new(big.Int).Mul(big.NewInt(loan.Principal), big.NewInt(loan.RateBps))
	interest.Mul(interest, big.NewInt(elapsed))
	interest.Quo(interest, big.NewInt(10_000*lending.SecondsPerYear))

	total := new(big.Int).Add(big.NewInt(loan.Principal), interest)
	if !total.IsInt64() {
		return math.MaxInt64
	}
	return total.Int64()
}

// ratio computes the live collateral ratio in percent for a loan.
func (s *Service) ratio(ctx context.Context, loan lending.Loan, now time.Time) (int64, error) {
	due := s.outstanding(loan, now)
	if due == 0 {
		return RatioInfinite, nil
	}

	quote, err := s.oracle.QuoteValue(ctx, loan.Collateral)
	if err != nil {
		return 0, fmt.Errorf("quote collateral: %w", err)
	}

	ratio := new(big.Int).Mul(big.NewInt(quote), big.NewInt(100))
	ratio.Quo(ratio, big.NewInt(due))
	if !ratio.IsInt64() {
		return RatioInfinite, nil
	}
	return ratio.Int64(), nil
}

// requiredCollateral sums, across the address's active loans, the greater of
// each loan's earmark and the satoshis holding the creation ratio for its
// outstanding amount at the current price.
func (s *Service) requiredCollateral(ctx context.Context, address string) (int64, error) {
	loans, err := s.store.ListLoans(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("list loans: %w", err)
	}

	now := s.now()
	var required int64
	for _, loan := range loans {
		if !loan.Active {
			continue
		}
		needed, err := s.satoshisForValue(ctx, s.creationValue(loan, now))
		if err != nil {
			return 0, err
		}
		if loan.Collateral > needed {
			needed = loan.Collateral
		}
		required += needed
	}
	return required, nil
}

// creationValue is the quote value a loan's collateral must hold: the
// creation ratio applied to its outstanding amount.
func (s *Service) creationValue(loan lending.Loan, now time.Time) int64 {
	value := new(big.Int).Mul(big.NewInt(s.outstanding(loan, now)), big.NewInt(lending.CreationRatioPct))
	value.Quo(value, big.NewInt(100))
	if !value.IsInt64() {
		return math.MaxInt64
	}
	return value.Int64()
}

// satoshisForValue inverts the oracle quote: the fewest satoshis whose quote
// value reaches the given value, derived from the current whole-coin price.
func (s *Service) satoshisForValue(ctx context.Context, value int64) (int64, error) {
	if value <= 0 {
		return 0, nil
	}
	price, err := s.oracle.QuoteValue(ctx, satoshisPerBTC)
	if err != nil {
		return 0, fmt.Errorf("quote price: %w", err)
	}
	if price <= 0 {
		return 0, fmt.Errorf("oracle returned non-positive price %d", price)
	}

	sats := new(big.Int).Mul(big.NewInt(value), big.NewInt(satoshisPerBTC))
	sats.Add(sats, big.NewInt(price-1))
	sats.Quo(sats, big.NewInt(price))
	if !sats.IsInt64() {
		return math.MaxInt64, nil
	}
	return sats.Int64(), nil
}

// refreshExposure republishes the aggregate lending gauges. Callers hold the
// service mutex.
func (s *Service) refreshExposure(ctx context.Context) {
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		return
	}
	var principal, locked int64
	for _, pos := range positions {
		principal += pos.TotalLoans
		locked += pos.Locked
	}
	metrics.SetLendingExposure(principal, locked)
}
