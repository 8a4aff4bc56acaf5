package state

import (
	"math/big"

	"stakeescrow/crypto"
	"stakeescrow/native/borrower"
)

type borrowerRecord struct {
	StakedTokens    *big.Int
	LoanPrincipal   *big.Int
	RepaymentAmount *big.Int
	DueTimestamp    uint64
	Active          bool
}

// BorrowerPosition returns the stored position of addr or nil when none
// exists.
func (m *Manager) BorrowerPosition(addr crypto.Address) (*borrower.Position, error) {
	var rec borrowerRecord
	ok, err := m.KVGet(addressKey(borrowerPrefix, addr), &rec)
	if err != nil || !ok {
		return nil, err
	}
	pos := borrower.NewPosition(addr)
	if pos.StakedTokens, err = toUint256(rec.StakedTokens); err != nil {
		return nil, err
	}
	if pos.LoanPrincipal, err = toUint256(rec.LoanPrincipal); err != nil {
		return nil, err
	}
	if pos.RepaymentAmount, err = toUint256(rec.RepaymentAmount); err != nil {
		return nil, err
	}
	pos.DueTimestamp = rec.DueTimestamp
	pos.Active = rec.Active
	return pos, nil
}

// PutBorrowerPosition stores pos. Positions with neither stake nor loan are
// removed.
func (m *Manager) PutBorrowerPosition(pos *borrower.Position) error {
	key := addressKey(borrowerPrefix, pos.Borrower)
	if pos.Empty() {
		return m.KVDelete(key)
	}
	return m.KVPut(key, &borrowerRecord{
		StakedTokens:    toBig(pos.StakedTokens),
		LoanPrincipal:   toBig(pos.LoanPrincipal),
		RepaymentAmount: toBig(pos.RepaymentAmount),
		DueTimestamp:    pos.DueTimestamp,
		Active:          pos.Active,
	})
}
