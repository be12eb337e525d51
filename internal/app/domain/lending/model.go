package lending

import "time"

const (
	// CreationRatioPct is the minimum collateral ratio, in percent, required
	// to open a loan and to keep free collateral removable.
	CreationRatioPct int64 = 200

	// LiquidationRatioPct is the collateral ratio, in percent, at or below
	// which a loan becomes liquidation-eligible.
	LiquidationRatioPct int64 = 150

	// InterestRateBps is the fixed simple-interest rate in basis points per
	// year applied to every loan.
	InterestRateBps int64 = 500

	// SecondsPerYear is the accrual denominator for simple interest.
	SecondsPerYear int64 = 365 * 24 * 3600
)

// Position aggregates an address's Bitcoin collateral and loan exposure.
// Collateral amounts are integer satoshis; Locked is the portion earmarked
// by active loans and unavailable for withdrawal or new earmarks.
type Position struct {
	Address         string
	TotalCollateral int64
	Locked          int64
	TotalLoans      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Free returns the collateral not earmarked by any active loan.
func (p Position) Free() int64 {
	return p.TotalCollateral - p.Locked
}

// Loan is a fixed-rate loan against earmarked Bitcoin collateral.
type Loan struct {
	ID         int64
	Borrower   string
	Collateral int64
	Principal  int64
	RateBps    int64
	StartTime  time.Time
	DueDate    time.Time
	Active     bool
	Liquidated bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
