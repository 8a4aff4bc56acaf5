package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
)

type accountRecord struct {
	Nonce   uint64
	Balance *big.Int
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: stored value %s exceeds 256 bits", v)
	}
	return out, nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

// GetAccount returns the native account stored under addr. Unknown addresses
// yield an empty account.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	var rec accountRecord
	ok, err := m.KVGet(addressKey(accountPrefix, addr), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	balance, err := toUint256(rec.Balance)
	if err != nil {
		return nil, err
	}
	return &types.Account{Nonce: rec.Nonce, Balance: balance}, nil
}

// PutAccount persists account under addr. Empty accounts are removed.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	key := addressKey(accountPrefix, addr)
	if account.Nonce == 0 && (account.Balance == nil || account.Balance.IsZero()) {
		return m.KVDelete(key)
	}
	return m.KVPut(key, &accountRecord{Nonce: account.Nonce, Balance: toBig(account.Balance)})
}

// NativeBalance returns the native balance of addr.
func (m *Manager) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}
