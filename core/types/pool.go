package types

import "github.com/holiman/uint256"

// PoolStats aggregates the escrow's liabilities and cash flows. The counters are
// maintained by the coordinator on every mutating call and let the solvency of
// the pool be checked without iterating positions.
type PoolStats struct {
	// LenderPrincipal is the sum of principal across open lender positions.
	LenderPrincipal *uint256.Int `json:"lenderPrincipal"`
	// OutstandingLoans is the sum of principal across active loans.
	OutstandingLoans *uint256.Int `json:"outstandingLoans"`
	// InterestPaid is the cumulative interest paid out to lenders.
	InterestPaid *uint256.Int `json:"interestPaid"`
	// InterestCapitalised is the cumulative interest folded into principal by
	// re-deposits.
	InterestCapitalised *uint256.Int `json:"interestCapitalised"`
	// FeesCollected is the cumulative loan fees received on repayment.
	FeesCollected *uint256.Int `json:"feesCollected"`
	// DefaultedPrincipal is the cumulative principal lost to defaults.
	DefaultedPrincipal *uint256.Int `json:"defaultedPrincipal"`
	// SeizedCollateral is the cumulative token stake forfeited to the owner.
	SeizedCollateral *uint256.Int `json:"seizedCollateral"`
	// Seed is the native value the pool was funded with at genesis.
	Seed *uint256.Int `json:"seed"`
}

// NewPoolStats returns zeroed counters.
func NewPoolStats() *PoolStats {
	return &PoolStats{
		LenderPrincipal:     new(uint256.Int),
		OutstandingLoans:    new(uint256.Int),
		InterestPaid:        new(uint256.Int),
		InterestCapitalised: new(uint256.Int),
		FeesCollected:       new(uint256.Int),
		DefaultedPrincipal:  new(uint256.Int),
		SeizedCollateral:    new(uint256.Int),
		Seed:                new(uint256.Int),
	}
}

// Clone returns a deep copy of the counters.
func (p *PoolStats) Clone() *PoolStats {
	out := NewPoolStats()
	if p == nil {
		return out
	}
	copyInto := func(dst, src *uint256.Int) {
		if src != nil {
			dst.Set(src)
		}
	}
	copyInto(out.LenderPrincipal, p.LenderPrincipal)
	copyInto(out.OutstandingLoans, p.OutstandingLoans)
	copyInto(out.InterestPaid, p.InterestPaid)
	copyInto(out.InterestCapitalised, p.InterestCapitalised)
	copyInto(out.FeesCollected, p.FeesCollected)
	copyInto(out.DefaultedPrincipal, p.DefaultedPrincipal)
	copyInto(out.SeizedCollateral, p.SeizedCollateral)
	copyInto(out.Seed, p.Seed)
	return out
}
