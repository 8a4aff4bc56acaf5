package bank

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

type mockAccounts map[crypto.Address]*types.Account

func (m mockAccounts) GetAccount(addr crypto.Address) (*types.Account, error) {
	if acc, ok := m[addr]; ok {
		return acc.Clone(), nil
	}
	return types.NewAccount(), nil
}

func (m mockAccounts) PutAccount(addr crypto.Address, account *types.Account) error {
	m[addr] = account.Clone()
	return nil
}

func addr(fill byte) crypto.Address {
	return crypto.MustBytesToAddress(bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

func TestTransfer(t *testing.T) {
	state := mockAccounts{addr(1): {Nonce: 7, Balance: uint256.NewInt(100)}}
	if err := Transfer(state, addr(1), addr(2), uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := state[addr(1)]; got.Balance.Uint64() != 60 || got.Nonce != 7 {
		t.Fatalf("unexpected sender %+v", got)
	}
	if got := state[addr(2)]; got.Balance.Uint64() != 40 {
		t.Fatalf("unexpected recipient balance %s", got.Balance.Dec())
	}
}

func TestTransferInsufficient(t *testing.T) {
	state := mockAccounts{addr(1): {Balance: uint256.NewInt(10)}}
	err := Transfer(state, addr(1), addr(2), uint256.NewInt(11))
	if !errors.Is(err, nativecommon.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if state[addr(1)].Balance.Uint64() != 10 {
		t.Fatalf("sender debited on failure")
	}
}

func TestTransferSelf(t *testing.T) {
	state := mockAccounts{addr(1): {Balance: uint256.NewInt(10)}}
	if err := Transfer(state, addr(1), addr(1), uint256.NewInt(10)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if state[addr(1)].Balance.Uint64() != 10 {
		t.Fatalf("self transfer changed balance to %s", state[addr(1)].Balance.Dec())
	}
}

func TestTransferOverflow(t *testing.T) {
	state := mockAccounts{
		addr(1): {Balance: uint256.NewInt(1)},
		addr(2): {Balance: new(uint256.Int).SetAllOne()},
	}
	if err := Transfer(state, addr(1), addr(2), uint256.NewInt(1)); !errors.Is(err, nativecommon.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestTransferZeroIsNoop(t *testing.T) {
	state := mockAccounts{}
	if err := Transfer(state, addr(1), addr(2), new(uint256.Int)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if len(state) != 0 {
		t.Fatalf("zero transfer touched state")
	}
}
