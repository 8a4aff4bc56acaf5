package lender

import (
	"github.com/holiman/uint256"

	"stakeescrow/crypto"
)

// Position is the deposit record of a single lender. A zero principal means
// the lender has no open position.
type Position struct {
	Lender           crypto.Address `json:"lender"`
	Principal        *uint256.Int   `json:"principal"`
	DepositTimestamp uint64         `json:"depositTimestamp"`
}

// NewPosition returns an empty position for addr.
func NewPosition(addr crypto.Address) *Position {
	return &Position{Lender: addr, Principal: new(uint256.Int)}
}

// Active reports whether the position holds principal.
func (p *Position) Active() bool {
	return p != nil && p.Principal != nil && !p.Principal.IsZero()
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Lender: p.Lender, DepositTimestamp: p.DepositTimestamp, Principal: new(uint256.Int)}
	if p.Principal != nil {
		clone.Principal.Set(p.Principal)
	}
	return clone
}

// DepositResult describes the outcome of a deposit. Folded is the interest
// that was capitalised into principal before the timestamp reset.
type DepositResult struct {
	Position *Position    `json:"position"`
	Folded   *uint256.Int `json:"folded"`
}

// WithdrawResult describes a closed position. Payout is the native value owed
// to the lender; the caller is responsible for transferring it.
type WithdrawResult struct {
	Lender    crypto.Address `json:"lender"`
	Principal *uint256.Int   `json:"principal"`
	Interest  *uint256.Int   `json:"interest"`
	Payout    *uint256.Int   `json:"payout"`
}
