package events

import (
	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
)

const (
	TypeTokenMinted      = "token.minted"
	TypeTokenApproved    = "token.approved"
	TypeTokenTransferred = "token.transferred"
)

type TokenMinted struct {
	To          crypto.Address
	Amount      *uint256.Int
	TotalSupply *uint256.Int
}

func (TokenMinted) EventType() string { return TypeTokenMinted }

func (e TokenMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMinted,
		Attributes: map[string]string{
			"to":          e.To.String(),
			"amount":      formatAmount(e.Amount),
			"totalSupply": formatAmount(e.TotalSupply),
		},
	}
}

type TokenApproved struct {
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *uint256.Int
}

func (TokenApproved) EventType() string { return TypeTokenApproved }

func (e TokenApproved) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproved,
		Attributes: map[string]string{
			"owner":   e.Owner.String(),
			"spender": e.Spender.String(),
			"amount":  formatAmount(e.Amount),
		},
	}
}

// TokenTransferred covers both direct and delegated transfers; Spender is the
// zero address for direct transfers.
type TokenTransferred struct {
	From    crypto.Address
	To      crypto.Address
	Spender crypto.Address
	Amount  *uint256.Int
}

func (TokenTransferred) EventType() string { return TypeTokenTransferred }

func (e TokenTransferred) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": formatAmount(e.Amount),
	}
	if !e.Spender.IsZero() {
		attrs["spender"] = e.Spender.String()
	}
	return &types.Event{Type: TypeTokenTransferred, Attributes: attrs}
}
