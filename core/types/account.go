package types

import "github.com/holiman/uint256"

// Account is the native-currency view of an address. Balance is denominated in
// wei; Nonce counts the transactions the address has successfully applied.
type Account struct {
	Nonce   uint64       `json:"nonce"`
	Balance *uint256.Int `json:"balance"`
}

// NewAccount returns an empty account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int)}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balance: new(uint256.Int)}
	if a.Balance != nil {
		clone.Balance.Set(a.Balance)
	}
	return clone
}
