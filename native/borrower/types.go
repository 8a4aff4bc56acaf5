package borrower

import (
	"fmt"

	"github.com/holiman/uint256"

	"stakeescrow/crypto"
)

const (
	// BasisPointsDenominator expresses ratios in hundredths of a percent.
	BasisPointsDenominator = 10_000

	DefaultCollateralRatioBps = 15_000
	DefaultLoanFeeBps         = 500
)

// Params captures the loan terms applied by the borrower ledger.
type Params struct {
	// CollateralRatioBps is the staked collateral required per unit of loan
	// principal. 15_000 lends 1 unit for every 1.5 units of collateral.
	CollateralRatioBps uint64 `toml:"CollateralRatioBps"`
	// LoanFeeBps is the flat fee charged on principal, independent of
	// duration.
	LoanFeeBps uint64 `toml:"LoanFeeBps"`
	// MaxDurationSeconds caps the loan term. Zero leaves it unbounded.
	MaxDurationSeconds uint64 `toml:"MaxDurationSeconds"`
}

// DefaultParams returns the stock loan terms.
func DefaultParams() Params {
	return Params{
		CollateralRatioBps: DefaultCollateralRatioBps,
		LoanFeeBps:         DefaultLoanFeeBps,
	}
}

// Validate ensures the parameters describe an over-collateralised loan.
func (p Params) Validate() error {
	if p.CollateralRatioBps < BasisPointsDenominator {
		return fmt.Errorf("borrower: collateral ratio %d bps below 100%%", p.CollateralRatioBps)
	}
	if p.LoanFeeBps > BasisPointsDenominator {
		return fmt.Errorf("borrower: loan fee %d bps above 100%%", p.LoanFeeBps)
	}
	return nil
}

// Status is the lifecycle state of a borrower.
type Status uint8

const (
	StatusNoStake Status = iota
	StatusStaked
	StatusBorrowing
)

func (s Status) String() string {
	switch s {
	case StatusNoStake:
		return "NoStake"
	case StatusStaked:
		return "Staked"
	case StatusBorrowing:
		return "Borrowing"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// MarshalText renders the status by name for JSON responses.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Position is the stake and loan record of a single borrower. Active is true
// exactly when DueTimestamp is non-zero.
type Position struct {
	Borrower        crypto.Address `json:"borrower"`
	StakedTokens    *uint256.Int   `json:"stakedTokens"`
	LoanPrincipal   *uint256.Int   `json:"loanPrincipal"`
	RepaymentAmount *uint256.Int   `json:"repaymentAmount"`
	DueTimestamp    uint64         `json:"dueTimestamp"`
	Active          bool           `json:"active"`
}

// NewPosition returns an empty position for addr.
func NewPosition(addr crypto.Address) *Position {
	return &Position{
		Borrower:        addr,
		StakedTokens:    new(uint256.Int),
		LoanPrincipal:   new(uint256.Int),
		RepaymentAmount: new(uint256.Int),
	}
}

// Empty reports whether the position carries neither stake nor loan.
func (p *Position) Empty() bool {
	return p == nil || (isZero(p.StakedTokens) && !p.Active)
}

// Status derives the lifecycle state from the record.
func (p *Position) Status() Status {
	switch {
	case p == nil:
		return StatusNoStake
	case p.Active:
		return StatusBorrowing
	case !isZero(p.StakedTokens):
		return StatusStaked
	default:
		return StatusNoStake
	}
}

func (p *Position) clearLoan() {
	p.LoanPrincipal = new(uint256.Int)
	p.RepaymentAmount = new(uint256.Int)
	p.DueTimestamp = 0
	p.Active = false
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := NewPosition(p.Borrower)
	clone.DueTimestamp = p.DueTimestamp
	clone.Active = p.Active
	if p.StakedTokens != nil {
		clone.StakedTokens.Set(p.StakedTokens)
	}
	if p.LoanPrincipal != nil {
		clone.LoanPrincipal.Set(p.LoanPrincipal)
	}
	if p.RepaymentAmount != nil {
		clone.RepaymentAmount.Set(p.RepaymentAmount)
	}
	return clone
}

// Loan describes a newly opened loan. Principal is owed to the borrower by
// the caller of Borrow.
type Loan struct {
	Borrower   crypto.Address `json:"borrower"`
	Collateral *uint256.Int   `json:"collateral"`
	Principal  *uint256.Int   `json:"principal"`
	Repayment  *uint256.Int   `json:"repayment"`
	Due        uint64         `json:"due"`
}

// Repayment describes a settled loan.
type Repayment struct {
	Borrower  crypto.Address `json:"borrower"`
	Principal *uint256.Int   `json:"principal"`
	Fee       *uint256.Int   `json:"fee"`
}

// Default describes a seized position. Seized tokens are held in custody
// until the caller forwards them to the collateral sink.
type Default struct {
	Borrower  crypto.Address `json:"borrower"`
	Seized    *uint256.Int   `json:"seized"`
	Principal *uint256.Int   `json:"principal"`
	Due       uint64         `json:"due"`
}

func isZero(v *uint256.Int) bool { return v == nil || v.IsZero() }
