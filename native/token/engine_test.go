package token

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"stakeescrow/core/events"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

type allowanceKey struct {
	owner, spender crypto.Address
}

type mockState struct {
	balances   map[crypto.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		balances:   make(map[crypto.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

func (m *mockState) TokenBalance(addr crypto.Address) (*uint256.Int, error) {
	if v, ok := m.balances[addr]; ok {
		return v.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (m *mockState) PutTokenBalance(addr crypto.Address, amount *uint256.Int) error {
	m.balances[addr] = amount.Clone()
	return nil
}

func (m *mockState) TokenAllowance(owner, spender crypto.Address) (*uint256.Int, error) {
	if v, ok := m.allowances[allowanceKey{owner, spender}]; ok {
		return v.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (m *mockState) PutTokenAllowance(owner, spender crypto.Address, amount *uint256.Int) error {
	m.allowances[allowanceKey{owner, spender}] = amount.Clone()
	return nil
}

func (m *mockState) TokenSupply() (*uint256.Int, error) { return m.supply.Clone(), nil }

func (m *mockState) PutTokenSupply(amount *uint256.Int) error {
	m.supply = amount.Clone()
	return nil
}

func newTestAddress(fill byte) crypto.Address {
	return crypto.MustBytesToAddress(bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

func newTestEngine(t *testing.T) (*Engine, *mockState, *events.Buffer) {
	t.Helper()
	state := newMockState()
	engine := NewEngine(newTestAddress(0xEE))
	engine.SetState(state)
	buf := &events.Buffer{}
	engine.SetEmitter(buf)
	return engine, state, buf
}

func mustBalance(t *testing.T, e *Engine, addr crypto.Address) uint64 {
	t.Helper()
	bal, err := e.BalanceOf(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Uint64()
}

func TestMintIncreasesBalanceAndSupply(t *testing.T) {
	engine, _, buf := newTestEngine(t)
	alice := newTestAddress(0x01)

	if err := engine.Mint(engine.Minter(), alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := mustBalance(t, engine, alice); got != 100 {
		t.Fatalf("balance = %d, want 100", got)
	}
	supply, _ := engine.TotalSupply()
	if supply.Uint64() != 100 {
		t.Fatalf("supply = %d, want 100", supply.Uint64())
	}
	if types := buf.Types(); len(types) != 1 || types[0] != events.TypeTokenMinted {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestMintRequiresMinter(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	alice := newTestAddress(0x01)
	err := engine.Mint(alice, alice, uint256.NewInt(1))
	if !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestMintOverflow(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	alice := newTestAddress(0x01)
	max := new(uint256.Int).SetAllOne()
	state.supply = max.Clone()
	state.balances[alice] = max.Clone()

	err := engine.Mint(engine.Minter(), alice, uint256.NewInt(1))
	if !errors.Is(err, nativecommon.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if !state.supply.Eq(max) {
		t.Fatalf("supply mutated on failure")
	}
}

func TestMintZeroIsNoop(t *testing.T) {
	engine, state, buf := newTestEngine(t)
	alice := newTestAddress(0x01)
	if err := engine.Mint(engine.Minter(), alice, new(uint256.Int)); err != nil {
		t.Fatalf("mint zero: %v", err)
	}
	if got := mustBalance(t, engine, alice); got != 0 {
		t.Fatalf("balance = %d, want 0", got)
	}
	if !state.supply.IsZero() {
		t.Fatalf("supply changed: %s", state.supply.Dec())
	}
	if types := buf.Types(); len(types) != 1 || types[0] != events.TypeTokenMinted {
		t.Fatalf("unexpected events %v", types)
	}
	if err := engine.Mint(engine.Minter(), alice, nil); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for nil, got %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner := newTestAddress(0x01)
	spender := newTestAddress(0x02)
	custody := newTestAddress(0x03)

	if err := engine.Mint(engine.Minter(), owner, uint256.NewInt(150)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Approve(owner, spender, uint256.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.TransferFrom(spender, owner, custody, uint256.NewInt(100)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if got := mustBalance(t, engine, custody); got != 100 {
		t.Fatalf("custody balance = %d", got)
	}
	if got := mustBalance(t, engine, owner); got != 50 {
		t.Fatalf("owner balance = %d", got)
	}
	remaining, _ := engine.Allowance(owner, spender)
	if !remaining.IsZero() {
		t.Fatalf("allowance not consumed: %s", remaining.Dec())
	}

	err := engine.TransferFrom(spender, owner, custody, uint256.NewInt(1))
	if !errors.Is(err, nativecommon.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
}

func TestTransferFromChecksAllowanceBeforeBalance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner := newTestAddress(0x01)
	spender := newTestAddress(0x02)

	err := engine.TransferFrom(spender, owner, spender, uint256.NewInt(5))
	if !errors.Is(err, nativecommon.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := engine.Approve(owner, spender, uint256.NewInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err = engine.TransferFrom(spender, owner, spender, uint256.NewInt(5))
	if !errors.Is(err, nativecommon.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	allowance, _ := engine.Allowance(owner, spender)
	if allowance.Uint64() != 5 {
		t.Fatalf("allowance mutated on failure: %d", allowance.Uint64())
	}
}

func TestApproveOverwrites(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner := newTestAddress(0x01)
	spender := newTestAddress(0x02)
	for _, amount := range []uint64{10, 3, 0} {
		if err := engine.Approve(owner, spender, uint256.NewInt(amount)); err != nil {
			t.Fatalf("approve %d: %v", amount, err)
		}
		got, _ := engine.Allowance(owner, spender)
		if got.Uint64() != amount {
			t.Fatalf("allowance = %d, want %d", got.Uint64(), amount)
		}
	}
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	alice := newTestAddress(0x01)
	if err := engine.Mint(engine.Minter(), alice, uint256.NewInt(40)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Transfer(alice, alice, uint256.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := mustBalance(t, engine, alice); got != 40 {
		t.Fatalf("balance = %d, want 40", got)
	}
}

func TestTransferConservesSupply(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	a, b, c := newTestAddress(0x01), newTestAddress(0x02), newTestAddress(0x03)
	_ = engine.Mint(engine.Minter(), a, uint256.NewInt(70))
	_ = engine.Mint(engine.Minter(), b, uint256.NewInt(30))
	if err := engine.Transfer(a, c, uint256.NewInt(25)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := engine.Transfer(b, c, uint256.NewInt(31)); !errors.Is(err, nativecommon.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	sum := new(uint256.Int)
	for _, bal := range state.balances {
		sum.Add(sum, bal)
	}
	if !sum.Eq(state.supply) {
		t.Fatalf("sum of balances %s != supply %s", sum.Dec(), state.supply.Dec())
	}
}

func TestPausedLedgerRejectsWrites(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.SetPauses(nativecommon.StaticPauses{"token": true})
	err := engine.Mint(engine.Minter(), newTestAddress(0x01), uint256.NewInt(1))
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
}
