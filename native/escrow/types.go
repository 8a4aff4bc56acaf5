package escrow

import (
	"github.com/holiman/uint256"

	"stakeescrow/crypto"
)

var (
	// PoolAddress holds the lending pool's native value. It is also the
	// token mint authority and the spender users approve before staking.
	PoolAddress = crypto.ModuleAddress("escrow-pool")
	// CustodyAddress holds staked tokens on behalf of borrowers.
	CustodyAddress = crypto.ModuleAddress("borrower-custody")
)

// Call carries the per-call context supplied by the executor. Value is the
// native amount already credited to the pool for this call.
type Call struct {
	Caller crypto.Address
	Value  *uint256.Int
}

func (c Call) hasValue() bool { return c.Value != nil && !c.Value.IsZero() }

// Solvency compares what the pool holds and is owed against what it owes
// lenders at a point in time.
type Solvency struct {
	Timestamp        uint64       `json:"timestamp"`
	PoolBalance      *uint256.Int `json:"poolBalance"`
	OutstandingLoans *uint256.Int `json:"outstandingLoans"`
	LenderPrincipal  *uint256.Int `json:"lenderPrincipal"`
	AccruedInterest  *uint256.Int `json:"accruedInterest"`
	Liabilities      *uint256.Int `json:"liabilities"`
	// Covered is true when pool balance plus outstanding loans is at least
	// the lender liabilities.
	Covered bool `json:"covered"`
}
