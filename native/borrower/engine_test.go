package borrower

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
	balances  map[crypto.Address]*uint256.Int
}

func newMockState() *mockState {
	return &mockState{
		positions: make(map[crypto.Address]*Position),
		balances:  make(map[crypto.Address]*uint256.Int),
	}
}

func (m *mockState) BorrowerPosition(addr crypto.Address) (*Position, error) {
	if pos, ok := m.positions[addr]; ok {
		return pos.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutBorrowerPosition(pos *Position) error {
	if pos.Empty() {
		delete(m.positions, pos.Borrower)
		return nil
	}
	m.positions[pos.Borrower] = pos.Clone()
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

var testPool = newTestAddress(0xEE)

func newTestEngine(t *testing.T, params Params) (*Engine, *mockState, *clock, *events.Buffer) {
	t.Helper()
	state := newMockState()
	state.balances[testPool] = uint256.NewInt(1_000_000)
	clk := &clock{now: 1_000}
	engine := NewEngine(testPool, params)
	engine.SetState(state)
	engine.SetNowFunc(clk.Now)
	buf := &events.Buffer{}
	engine.SetEmitter(buf)
	return engine, state, clk, buf
}

func mustStake(t *testing.T, e *Engine, who crypto.Address, amount uint64) {
	t.Helper()
	if _, err := e.StakeTokens(who, uint256.NewInt(amount)); err != nil {
		t.Fatalf("stake: %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	if err := (Params{CollateralRatioBps: 9_000}).Validate(); err == nil {
		t.Fatalf("expected under-collateralised ratio to fail")
	}
	if err := (Params{CollateralRatioBps: 15_000, LoanFeeBps: 20_000}).Validate(); err == nil {
		t.Fatalf("expected oversized fee to fail")
	}
}

func TestQuote(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, DefaultParams())
	cases := []struct {
		collateral, principal, repayment uint64
	}{
		{1_500, 1_000, 1_050},
		{150, 100, 105},
		{1, 0, 0},
		{29, 19, 19},
	}
	for _, tc := range cases {
		principal, repayment, err := engine.Quote(uint256.NewInt(tc.collateral))
		if err != nil {
			t.Fatalf("quote %d: %v", tc.collateral, err)
		}
		if principal.Uint64() != tc.principal || repayment.Uint64() != tc.repayment {
			t.Fatalf("quote %d: got %s/%s want %d/%d", tc.collateral, principal.Dec(), repayment.Dec(), tc.principal, tc.repayment)
		}
	}
}

func TestStakeBorrowRepayCycle(t *testing.T) {
	engine, state, clk, buf := newTestEngine(t, DefaultParams())
	alice := newTestAddress(0xA1)

	if status, _ := engine.Status(alice); status != StatusNoStake {
		t.Fatalf("expected NoStake, got %s", status)
	}
	mustStake(t, engine, alice, 1_500)
	if status, _ := engine.Status(alice); status != StatusStaked {
		t.Fatalf("expected Staked, got %s", status)
	}

	loan, err := engine.Borrow(alice, uint256.NewInt(1_500), 3_600)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if loan.Principal.Uint64() != 1_000 || loan.Repayment.Uint64() != 1_050 || loan.Due != clk.now+3_600 {
		t.Fatalf("unexpected loan %+v", loan)
	}
	pos := state.positions[alice]
	if !pos.Active || pos.DueTimestamp == 0 {
		t.Fatalf("active flag and due timestamp disagree: %+v", pos)
	}

	if _, err := engine.Borrow(alice, uint256.NewInt(1), 10); !errors.Is(err, nativecommon.ErrAlreadyBorrowing) {
		t.Fatalf("expected already borrowing, got %v", err)
	}
	if _, err := engine.UnstakeTokens(alice, uint256.NewInt(1)); !errors.Is(err, nativecommon.ErrAlreadyBorrowing) {
		t.Fatalf("expected stake locked during loan, got %v", err)
	}
	if _, err := engine.Repay(alice, uint256.NewInt(1_000)); !errors.Is(err, nativecommon.ErrWrongAmount) {
		t.Fatalf("expected wrong amount, got %v", err)
	}

	repaid, err := engine.Repay(alice, uint256.NewInt(1_050))
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Fee.Uint64() != 50 {
		t.Fatalf("expected fee 50, got %s", repaid.Fee.Dec())
	}
	pos = state.positions[alice]
	if pos.Active || pos.DueTimestamp != 0 || !pos.LoanPrincipal.IsZero() {
		t.Fatalf("loan not cleared: %+v", pos)
	}
	if pos.StakedTokens.Uint64() != 1_500 {
		t.Fatalf("expected stake retained, got %s", pos.StakedTokens.Dec())
	}
	if _, err := engine.Repay(alice, uint256.NewInt(1_050)); !errors.Is(err, nativecommon.ErrNoActiveLoan) {
		t.Fatalf("expected no active loan, got %v", err)
	}

	if _, err := engine.UnstakeTokens(alice, uint256.NewInt(1_500)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	if status, _ := engine.Status(alice); status != StatusNoStake {
		t.Fatalf("expected NoStake after unstake, got %s", status)
	}

	want := []string{
		events.TypeBorrowerStaked,
		events.TypeBorrowerBorrowed,
		events.TypeBorrowerRepaid,
		events.TypeBorrowerUnstaked,
	}
	got := buf.Types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestBorrowValidation(t *testing.T) {
	params := DefaultParams()
	params.MaxDurationSeconds = 100
	engine, state, _, _ := newTestEngine(t, params)
	alice := newTestAddress(0xA1)
	mustStake(t, engine, alice, 1_500)

	cases := []struct {
		name       string
		collateral uint64
		duration   uint64
		want       error
	}{
		{"more than staked", 1_501, 10, nativecommon.ErrInsufficientStake},
		{"zero collateral", 0, 10, nativecommon.ErrInvalidAmount},
		{"zero duration", 1_500, 0, nativecommon.ErrInvalidAmount},
		{"above cap", 1_500, 101, nativecommon.ErrInvalidAmount},
		{"dust collateral", 1, 10, nativecommon.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.Borrow(alice, uint256.NewInt(tc.collateral), tc.duration); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	state.balances[testPool] = uint256.NewInt(999)
	if _, err := engine.Borrow(alice, uint256.NewInt(1_500), 10); !errors.Is(err, nativecommon.ErrInsufficientPoolFunds) {
		t.Fatalf("expected insufficient pool funds, got %v", err)
	}
	if state.positions[alice].Active {
		t.Fatalf("failed borrow must not open a loan")
	}
}

func TestClaimCollateral(t *testing.T) {
	engine, state, clk, _ := newTestEngine(t, DefaultParams())
	alice := newTestAddress(0xA1)
	keeper := newTestAddress(0xC3)
	mustStake(t, engine, alice, 3_000)
	loan, err := engine.Borrow(alice, uint256.NewInt(1_500), 60)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}

	clk.now = loan.Due
	if _, err := engine.ClaimCollateral(keeper, alice); !errors.Is(err, nativecommon.ErrLoanNotExpired) {
		t.Fatalf("expected loan not expired at due time, got %v", err)
	}

	clk.now = loan.Due + 1
	seized, err := engine.ClaimCollateral(keeper, alice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if seized.Seized.Uint64() != 3_000 || seized.Principal.Uint64() != 1_000 {
		t.Fatalf("unexpected default %+v", seized)
	}
	if _, ok := state.positions[alice]; ok {
		t.Fatalf("position should be empty after default")
	}
	if _, err := engine.Repay(alice, loan.Repayment); !errors.Is(err, nativecommon.ErrNoActiveLoan) {
		t.Fatalf("repay after default must fail, got %v", err)
	}
	if _, err := engine.ClaimCollateral(keeper, alice); !errors.Is(err, nativecommon.ErrNoActiveLoan) {
		t.Fatalf("second claim must fail, got %v", err)
	}
}

func TestRepayBlocksClaim(t *testing.T) {
	engine, _, clk, _ := newTestEngine(t, DefaultParams())
	alice := newTestAddress(0xA1)
	mustStake(t, engine, alice, 1_500)
	loan, err := engine.Borrow(alice, uint256.NewInt(1_500), 60)
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if _, err := engine.Repay(alice, loan.Repayment); err != nil {
		t.Fatalf("repay: %v", err)
	}
	clk.now = loan.Due + 1_000
	if _, err := engine.ClaimCollateral(alice, alice); !errors.Is(err, nativecommon.ErrNoActiveLoan) {
		t.Fatalf("claim after repay must fail, got %v", err)
	}
}

func TestStakeRejectsZero(t *testing.T) {
	engine, _, _, _ := newTestEngine(t, DefaultParams())
	if _, err := engine.StakeTokens(newTestAddress(0xA1), new(uint256.Int)); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := engine.UnstakeTokens(newTestAddress(0xA1), uint256.NewInt(1)); !errors.Is(err, nativecommon.ErrInsufficientStake) {
		t.Fatalf("expected insufficient stake, got %v", err)
	}
}
