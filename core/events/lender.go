package events

import (
	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
)

const (
	TypeLenderDeposited   = "lender.deposited"
	TypeLenderWithdrawn   = "lender.withdrawn"
	TypeLenderRateUpdated = "lender.rate_updated"
)

// LenderDeposited reports the position after a deposit. Folded is the interest
// that was capitalised into principal by a re-deposit.
type LenderDeposited struct {
	Lender    crypto.Address
	Amount    *uint256.Int
	Folded    *uint256.Int
	Principal *uint256.Int
	Timestamp uint64
}

func (LenderDeposited) EventType() string { return TypeLenderDeposited }

func (e LenderDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeLenderDeposited,
		Attributes: map[string]string{
			"lender":    e.Lender.String(),
			"amount":    formatAmount(e.Amount),
			"folded":    formatAmount(e.Folded),
			"principal": formatAmount(e.Principal),
			"timestamp": uintToString(e.Timestamp),
		},
	}
}

type LenderWithdrawn struct {
	Lender    crypto.Address
	Principal *uint256.Int
	Interest  *uint256.Int
	Payout    *uint256.Int
}

func (LenderWithdrawn) EventType() string { return TypeLenderWithdrawn }

func (e LenderWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeLenderWithdrawn,
		Attributes: map[string]string{
			"lender":    e.Lender.String(),
			"principal": formatAmount(e.Principal),
			"interest":  formatAmount(e.Interest),
			"payout":    formatAmount(e.Payout),
		},
	}
}

type LenderRateUpdated struct {
	Previous uint64
	Current  uint64
}

func (LenderRateUpdated) EventType() string { return TypeLenderRateUpdated }

func (e LenderRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLenderRateUpdated,
		Attributes: map[string]string{
			"previousBps": uintToString(e.Previous),
			"currentBps":  uintToString(e.Current),
		},
	}
}
