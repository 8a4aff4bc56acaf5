package events

import (
	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
)

const (
	TypeBorrowerStaked    = "borrower.staked"
	TypeBorrowerUnstaked  = "borrower.unstaked"
	TypeBorrowerBorrowed  = "borrower.borrowed"
	TypeBorrowerRepaid    = "borrower.repaid"
	TypeBorrowerDefaulted = "borrower.defaulted"
)

// BorrowerStakeChanged backs both the staked and unstaked events.
type BorrowerStakeChanged struct {
	Unstake  bool
	Borrower crypto.Address
	Amount   *uint256.Int
	Staked   *uint256.Int
}

func (e BorrowerStakeChanged) EventType() string {
	if e.Unstake {
		return TypeBorrowerUnstaked
	}
	return TypeBorrowerStaked
}

func (e BorrowerStakeChanged) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"borrower": e.Borrower.String(),
			"amount":   formatAmount(e.Amount),
			"staked":   formatAmount(e.Staked),
		},
	}
}

type BorrowerBorrowed struct {
	Borrower   crypto.Address
	Collateral *uint256.Int
	Principal  *uint256.Int
	Repayment  *uint256.Int
	Due        uint64
}

func (BorrowerBorrowed) EventType() string { return TypeBorrowerBorrowed }

func (e BorrowerBorrowed) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowerBorrowed,
		Attributes: map[string]string{
			"borrower":   e.Borrower.String(),
			"collateral": formatAmount(e.Collateral),
			"principal":  formatAmount(e.Principal),
			"repayment":  formatAmount(e.Repayment),
			"due":        uintToString(e.Due),
		},
	}
}

type BorrowerRepaid struct {
	Borrower  crypto.Address
	Principal *uint256.Int
	Fee       *uint256.Int
}

func (BorrowerRepaid) EventType() string { return TypeBorrowerRepaid }

func (e BorrowerRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowerRepaid,
		Attributes: map[string]string{
			"borrower":  e.Borrower.String(),
			"principal": formatAmount(e.Principal),
			"fee":       formatAmount(e.Fee),
		},
	}
}

type BorrowerDefaulted struct {
	Borrower  crypto.Address
	Claimant  crypto.Address
	Seized    *uint256.Int
	Principal *uint256.Int
	Due       uint64
}

func (BorrowerDefaulted) EventType() string { return TypeBorrowerDefaulted }

func (e BorrowerDefaulted) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowerDefaulted,
		Attributes: map[string]string{
			"borrower":  e.Borrower.String(),
			"claimant":  e.Claimant.String(),
			"seized":    formatAmount(e.Seized),
			"principal": formatAmount(e.Principal),
			"due":       uintToString(e.Due),
		},
	}
}
