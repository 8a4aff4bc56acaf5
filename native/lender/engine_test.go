package lender

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"stakeescrow/core/events"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

type mockState struct {
	positions map[crypto.Address]*Position
	rate      uint64
	balances  map[crypto.Address]*uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		positions: make(map[crypto.Address]*Position),
		balances:  make(map[crypto.Address]*uint256.Int),
	}
}

func (m *mockState) LenderPosition(addr crypto.Address) (*Position, error) {
	if pos, ok := m.positions[addr]; ok {
		return pos.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutLenderPosition(pos *Position) error {
	if !pos.Active() {
		delete(m.positions, pos.Lender)
		return nil
	}
	m.positions[pos.Lender] = pos.Clone()
	return nil
}

func (m *mockState) InterestRate() (uint64, error) { return m.rate, nil }

func (m *mockState) PutInterestRate(rate uint64) error {
	m.rate = rate
	return nil
}

func (m *mockState) NativeBalance(addr crypto.Address) (*uint256.Int, error) {
	if bal, ok := m.balances[addr]; ok {
		return bal.Clone(), nil
	}
	return new(uint256.Int), nil
}

type clock struct{ now uint64 }

func (c *clock) Now() uint64 { return c.now }

func newTestAddress(fill byte) crypto.Address {
	return crypto.MustBytesToAddress(bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

var (
	testOwner = newTestAddress(0x01)
	testPool  = newTestAddress(0xEE)
	oneEther  = uint256.NewInt(1_000_000_000_000_000_000)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *clock, *events.Buffer) {
	t.Helper()
	state := newMockState()
	state.rate = 500
	state.balances[testPool] = new(uint256.Int).Mul(oneEther, uint256.NewInt(100))
	clk := &clock{now: 1_700_000_000}
	engine := NewEngine(testOwner, testPool)
	engine.SetState(state)
	engine.SetNowFunc(clk.Now)
	buf := &events.Buffer{}
	engine.SetEmitter(buf)
	return engine, state, clk, buf
}

func TestAccrueOneYear(t *testing.T) {
	interest, err := Accrue(oneEther, 500, 0, SecondsPerYear)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	want := uint256.NewInt(50_000_000_000_000_000)
	if !interest.Eq(want) {
		t.Fatalf("expected %s, got %s", want.Dec(), interest.Dec())
	}
}

func TestAccrueRoundsDown(t *testing.T) {
	// 1 wei at 1 bps for a year is 1/10000 of a wei.
	interest, err := Accrue(uint256.NewInt(1), 1, 0, SecondsPerYear)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !interest.IsZero() {
		t.Fatalf("expected zero, got %s", interest.Dec())
	}
}

func TestAccrueClockBeforeDeposit(t *testing.T) {
	interest, err := Accrue(oneEther, 500, 100, 50)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !interest.IsZero() {
		t.Fatalf("expected zero, got %s", interest.Dec())
	}
}

func TestAccrueOverflow(t *testing.T) {
	huge := new(uint256.Int).SetAllOne()
	if _, err := Accrue(huge, 1_000_000, 0, SecondsPerYear*10); !errors.Is(err, nativecommon.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestDepositAndInterest(t *testing.T) {
	engine, _, clk, buf := newTestEngine(t)
	lender := newTestAddress(0xA1)

	if _, err := engine.Deposit(lender, oneEther); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clk.now += SecondsPerYear
	interest, err := engine.InterestGained(lender)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if interest.Uint64() != 50_000_000_000_000_000 {
		t.Fatalf("expected 0.05 ether, got %s", interest.Dec())
	}
	if got := buf.Types(); len(got) != 1 || got[0] != events.TypeLenderDeposited {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestInterestMonotonic(t *testing.T) {
	engine, _, clk, _ := newTestEngine(t)
	lender := newTestAddress(0xA1)
	if _, err := engine.Deposit(lender, oneEther); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	prev := new(uint256.Int)
	for i := 0; i < 10; i++ {
		clk.now += 86_400 * 7
		interest, err := engine.InterestGained(lender)
		if err != nil {
			t.Fatalf("interest: %v", err)
		}
		if interest.Lt(prev) {
			t.Fatalf("interest decreased from %s to %s", prev.Dec(), interest.Dec())
		}
		prev = interest
	}
}

func TestInterestWithoutPosition(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	interest, err := engine.InterestGained(newTestAddress(0xB2))
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if !interest.IsZero() {
		t.Fatalf("expected zero, got %s", interest.Dec())
	}
}

func TestDepositRejectsZero(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	if _, err := engine.Deposit(newTestAddress(0xA1), new(uint256.Int)); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestRedepositFoldsInterest(t *testing.T) {
	engine, _, clk, _ := newTestEngine(t)
	lender := newTestAddress(0xA1)
	if _, err := engine.Deposit(lender, oneEther); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clk.now += SecondsPerYear
	result, err := engine.Deposit(lender, oneEther)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if result.Folded.Uint64() != 50_000_000_000_000_000 {
		t.Fatalf("expected folded 0.05 ether, got %s", result.Folded.Dec())
	}
	want := new(uint256.Int).Add(new(uint256.Int).Mul(oneEther, uint256.NewInt(2)), result.Folded)
	if !result.Position.Principal.Eq(want) {
		t.Fatalf("expected principal %s, got %s", want.Dec(), result.Position.Principal.Dec())
	}
	if result.Position.DepositTimestamp != clk.now {
		t.Fatalf("timestamp not reset: %d", result.Position.DepositTimestamp)
	}
	interest, err := engine.InterestGained(lender)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if !interest.IsZero() {
		t.Fatalf("expected interest to restart at zero, got %s", interest.Dec())
	}
}

func TestWithdrawRoundTrip(t *testing.T) {
	engine, state, clk, _ := newTestEngine(t)
	lender := newTestAddress(0xA1)
	if _, err := engine.Deposit(lender, oneEther); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clk.now += SecondsPerYear / 2
	expected, err := engine.InterestGained(lender)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	result, err := engine.Withdraw(lender)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !result.Interest.Eq(expected) {
		t.Fatalf("interest mismatch: %s vs %s", result.Interest.Dec(), expected.Dec())
	}
	if want := new(uint256.Int).Add(oneEther, expected); !result.Payout.Eq(want) {
		t.Fatalf("expected payout %s, got %s", want.Dec(), result.Payout.Dec())
	}
	if _, ok := state.positions[lender]; ok {
		t.Fatalf("position should be cleared")
	}
	if _, err := engine.Withdraw(lender); !errors.Is(err, nativecommon.ErrNoActivePosition) {
		t.Fatalf("expected no active position on second withdraw, got %v", err)
	}
}

func TestWithdrawWithoutElapsedTime(t *testing.T) {
	engine, state, _, _ := newTestEngine(t)
	lender := newTestAddress(0xA1)
	deposit := new(uint256.Int).Mul(oneEther, uint256.NewInt(3))
	if _, err := engine.Deposit(lender, deposit); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	result, err := engine.Withdraw(lender)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if !result.Interest.IsZero() {
		t.Fatalf("expected zero interest, got %s", result.Interest.Dec())
	}
	if !result.Payout.Eq(deposit) || !result.Principal.Eq(deposit) {
		t.Fatalf("expected payout %s, got %s", deposit.Dec(), result.Payout.Dec())
	}
	if _, ok := state.positions[lender]; ok {
		t.Fatalf("position should be cleared")
	}
}

func TestWithdrawInsufficientPool(t *testing.T) {
	engine, state, clk, _ := newTestEngine(t)
	lender := newTestAddress(0xA1)
	if _, err := engine.Deposit(lender, oneEther); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	state.balances[testPool] = oneEther.Clone()
	clk.now += SecondsPerYear
	if _, err := engine.Withdraw(lender); !errors.Is(err, nativecommon.ErrInsufficientPoolFunds) {
		t.Fatalf("expected insufficient pool funds, got %v", err)
	}
	if _, ok := state.positions[lender]; !ok {
		t.Fatalf("position must survive a failed withdraw")
	}
}

func TestSetInterestRate(t *testing.T) {
	engine, state, _, buf := newTestEngine(t)
	if err := engine.SetInterestRate(newTestAddress(0xA1), 900); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := engine.SetInterestRate(testOwner, 900); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	if state.rate != 900 {
		t.Fatalf("expected rate 900, got %d", state.rate)
	}
	drained := buf.Drain()
	if len(drained) != 1 {
		t.Fatalf("expected one event, got %d", len(drained))
	}
	evt := drained[0].Event()
	if evt.Attributes["previousBps"] != "500" || evt.Attributes["currentBps"] != "900" {
		t.Fatalf("unexpected attributes %v", evt.Attributes)
	}
}

func TestRateChangeAppliesRetroactively(t *testing.T) {
	engine, _, clk, _ := newTestEngine(t)
	lender := newTestAddress(0xA1)
	if _, err := engine.Deposit(lender, oneEther); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	clk.now += SecondsPerYear
	if err := engine.SetInterestRate(testOwner, 1_000); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	interest, err := engine.InterestGained(lender)
	if err != nil {
		t.Fatalf("interest: %v", err)
	}
	if interest.Uint64() != 100_000_000_000_000_000 {
		t.Fatalf("expected 0.1 ether, got %s", interest.Dec())
	}
}

func TestPausedLender(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)
	engine.SetPauses(nativecommon.StaticPauses{moduleName: true})
	if _, err := engine.Deposit(newTestAddress(0xA1), oneEther); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused, got %v", err)
	}
}
