package state

import (
	"math/big"

	"github.com/holiman/uint256"

	"stakeescrow/crypto"
)

func (m *Manager) loadAmount(key []byte) (*uint256.Int, error) {
	var v big.Int
	ok, err := m.KVGet(key, &v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return toUint256(&v)
}

func (m *Manager) storeAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount.ToBig())
}

func (m *Manager) TokenBalance(addr crypto.Address) (*uint256.Int, error) {
	return m.loadAmount(addressKey(tokenBalancePrefix, addr))
}

func (m *Manager) PutTokenBalance(addr crypto.Address, amount *uint256.Int) error {
	return m.storeAmount(addressKey(tokenBalancePrefix, addr), amount)
}

func (m *Manager) TokenAllowance(owner, spender crypto.Address) (*uint256.Int, error) {
	return m.loadAmount(allowanceKey(owner, spender))
}

func (m *Manager) PutTokenAllowance(owner, spender crypto.Address, amount *uint256.Int) error {
	return m.storeAmount(allowanceKey(owner, spender), amount)
}

func (m *Manager) TokenSupply() (*uint256.Int, error) {
	return m.loadAmount(tokenSupplyKey)
}

func (m *Manager) PutTokenSupply(amount *uint256.Int) error {
	return m.storeAmount(tokenSupplyKey, amount)
}
