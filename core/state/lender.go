package state

import (
	"bytes"
	"math/big"
	"sort"

	"stakeescrow/crypto"
	"stakeescrow/native/lender"
)

type lenderRecord struct {
	Principal        *big.Int
	DepositTimestamp uint64
}

// LenderPosition returns the stored position of addr or nil when none exists.
func (m *Manager) LenderPosition(addr crypto.Address) (*lender.Position, error) {
	var rec lenderRecord
	ok, err := m.KVGet(addressKey(lenderPrefix, addr), &rec)
	if err != nil || !ok {
		return nil, err
	}
	principal, err := toUint256(rec.Principal)
	if err != nil {
		return nil, err
	}
	return &lender.Position{Lender: addr, Principal: principal, DepositTimestamp: rec.DepositTimestamp}, nil
}

// PutLenderPosition stores pos, removing it and its index entry once the
// principal reaches zero. The index is only rewritten when a position opens or
// closes.
func (m *Manager) PutLenderPosition(pos *lender.Position) error {
	key := addressKey(lenderPrefix, pos.Lender)
	existed, err := m.KVGet(key, nil)
	if err != nil {
		return err
	}
	if !pos.Active() {
		if !existed {
			return nil
		}
		if err := m.KVDelete(key); err != nil {
			return err
		}
		return m.updateLenderIndex(pos.Lender, false)
	}
	rec := &lenderRecord{Principal: toBig(pos.Principal), DepositTimestamp: pos.DepositTimestamp}
	if err := m.KVPut(key, rec); err != nil {
		return err
	}
	if existed {
		return nil
	}
	return m.updateLenderIndex(pos.Lender, true)
}

// LenderAddresses lists every address holding an open lender position in
// byte order. The list lives under a single key since state keys are hashed
// and cannot be scanned by prefix.
func (m *Manager) LenderAddresses() ([]crypto.Address, error) {
	var list []crypto.Address
	if _, err := m.KVGet(lenderIndexKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) updateLenderIndex(addr crypto.Address, present bool) error {
	list, err := m.LenderAddresses()
	if err != nil {
		return err
	}
	idx := sort.Search(len(list), func(i int) bool {
		return bytes.Compare(list[i][:], addr[:]) >= 0
	})
	found := idx < len(list) && list[idx] == addr
	switch {
	case present && !found:
		list = append(list, crypto.Address{})
		copy(list[idx+1:], list[idx:])
		list[idx] = addr
	case !present && found:
		list = append(list[:idx], list[idx+1:]...)
	default:
		return nil
	}
	if len(list) == 0 {
		return m.KVDelete(lenderIndexKey)
	}
	return m.KVPut(lenderIndexKey, list)
}

// InterestRate returns the lender rate in basis points.
func (m *Manager) InterestRate() (uint64, error) {
	var rate uint64
	if _, err := m.KVGet(interestRateKey, &rate); err != nil {
		return 0, err
	}
	return rate, nil
}

func (m *Manager) PutInterestRate(rateBps uint64) error {
	return m.KVPut(interestRateKey, rateBps)
}
