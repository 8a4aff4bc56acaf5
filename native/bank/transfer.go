package bank

import (
	"fmt"

	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

// Accounts is the slice of the state manager the bank needs.
type Accounts interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Transfer moves amount of native value from one account to another. A zero
// amount is a no-op. Nonces are left untouched.
func Transfer(state Accounts, from, to crypto.Address, amount *uint256.Int) error {
	if state == nil {
		return fmt.Errorf("bank: state required")
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	if to.IsZero() {
		return fmt.Errorf("bank: transfer to zero address: %w", nativecommon.ErrInvalidAddress)
	}
	sender, err := state.GetAccount(from)
	if err != nil {
		return fmt.Errorf("bank: load sender: %w", err)
	}
	if sender.Balance.Lt(amount) {
		return fmt.Errorf("bank: %s holds %s, needs %s: %w", from, sender.Balance.Dec(), amount.Dec(), nativecommon.ErrInsufficientBalance)
	}
	sender.Balance = new(uint256.Int).Sub(sender.Balance, amount)
	if err := state.PutAccount(from, sender); err != nil {
		return fmt.Errorf("bank: store sender: %w", err)
	}
	// Reloaded after the debit so a self-transfer nets to zero.
	recipient, err := state.GetAccount(to)
	if err != nil {
		return fmt.Errorf("bank: load recipient: %w", err)
	}
	credited, overflow := new(uint256.Int).AddOverflow(recipient.Balance, amount)
	if overflow {
		return fmt.Errorf("bank: credit %s: %w", to, nativecommon.ErrOverflow)
	}
	recipient.Balance = credited
	if err := state.PutAccount(to, recipient); err != nil {
		return fmt.Errorf("bank: store recipient: %w", err)
	}
	return nil
}

// Balance returns the native balance of addr.
func Balance(state Accounts, addr crypto.Address) (*uint256.Int, error) {
	if state == nil {
		return nil, fmt.Errorf("bank: state required")
	}
	account, err := state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance.Clone(), nil
}
