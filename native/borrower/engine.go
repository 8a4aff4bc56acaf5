package borrower

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakeescrow/core/events"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

var errNilState = errors.New("borrower ledger: state not configured")

const moduleName = "borrower"

type engineState interface {
	BorrowerPosition(addr crypto.Address) (*Position, error)
	PutBorrowerPosition(pos *Position) error
	NativeBalance(addr crypto.Address) (*uint256.Int, error)
}

// Engine tracks staked collateral and the single loan each borrower may hold.
// Token custody and native disbursement are settled by the caller; the engine
// only validates and records.
type Engine struct {
	state   engineState
	params  Params
	pool    crypto.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() uint64
}

// NewEngine constructs a borrower ledger lending out of pool under params.
func NewEngine(pool crypto.Address, params Params) *Engine {
	return &Engine{pool: pool, params: params, emitter: events.NoopEmitter{}, nowFn: func() uint64 { return 0 }}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the clock used for due dates.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return 0 }
		return
	}
	e.nowFn = now
}

// Params returns the loan terms in force.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// StakeTokens records amount additional tokens held in custody for staker.
func (e *Engine) StakeTokens(staker crypto.Address, amount *uint256.Int) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("borrower ledger: stake must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	pos, err := e.position(staker)
	if err != nil {
		return nil, err
	}
	staked, overflow := new(uint256.Int).AddOverflow(pos.StakedTokens, amount)
	if overflow {
		return nil, fmt.Errorf("borrower ledger: stake: %w", nativecommon.ErrOverflow)
	}
	pos.StakedTokens = staked
	if err := e.state.PutBorrowerPosition(pos); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BorrowerStakeChanged{Borrower: staker, Amount: amount.Clone(), Staked: staked.Clone()})
	return pos.Clone(), nil
}

// UnstakeTokens releases free stake. Stake is locked while a loan is active.
func (e *Engine) UnstakeTokens(staker crypto.Address, amount *uint256.Int) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("borrower ledger: unstake must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	pos, err := e.position(staker)
	if err != nil {
		return nil, err
	}
	if pos.Active {
		return nil, fmt.Errorf("borrower ledger: unstake during loan: %w", nativecommon.ErrAlreadyBorrowing)
	}
	if pos.StakedTokens.Lt(amount) {
		return nil, fmt.Errorf("borrower ledger: staked %s below %s: %w", pos.StakedTokens.Dec(), amount.Dec(), nativecommon.ErrInsufficientStake)
	}
	pos.StakedTokens = new(uint256.Int).Sub(pos.StakedTokens, amount)
	if err := e.state.PutBorrowerPosition(pos); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BorrowerStakeChanged{Unstake: true, Borrower: staker, Amount: amount.Clone(), Staked: pos.StakedTokens.Clone()})
	return pos.Clone(), nil
}

// Quote derives the principal and repayment owed for collateral under the
// engine's parameters.
func (e *Engine) Quote(collateral *uint256.Int) (principal, repayment *uint256.Int, err error) {
	ratio := e.params.CollateralRatioBps
	if ratio == 0 {
		return nil, nil, fmt.Errorf("borrower ledger: collateral ratio unset: %w", nativecommon.ErrInvalidAmount)
	}
	scaled, overflow := new(uint256.Int).MulOverflow(collateral, uint256.NewInt(BasisPointsDenominator))
	if overflow {
		return nil, nil, fmt.Errorf("borrower ledger: principal: %w", nativecommon.ErrOverflow)
	}
	principal = scaled.Div(scaled, uint256.NewInt(ratio))
	fee, overflow := new(uint256.Int).MulOverflow(principal, uint256.NewInt(e.params.LoanFeeBps))
	if overflow {
		return nil, nil, fmt.Errorf("borrower ledger: fee: %w", nativecommon.ErrOverflow)
	}
	fee.Div(fee, uint256.NewInt(BasisPointsDenominator))
	repayment, overflow = new(uint256.Int).AddOverflow(principal, fee)
	if overflow {
		return nil, nil, fmt.Errorf("borrower ledger: repayment: %w", nativecommon.ErrOverflow)
	}
	return principal, repayment, nil
}

// Borrow opens a loan against collateral tokens of the borrower's stake for
// durationSeconds. The returned principal must be disbursed by the caller.
func (e *Engine) Borrow(borrower crypto.Address, collateral *uint256.Int, durationSeconds uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.position(borrower)
	if err != nil {
		return nil, err
	}
	if pos.Active {
		return nil, fmt.Errorf("borrower ledger: %s: %w", borrower, nativecommon.ErrAlreadyBorrowing)
	}
	if collateral == nil || collateral.IsZero() {
		return nil, fmt.Errorf("borrower ledger: collateral must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	if pos.StakedTokens.Lt(collateral) {
		return nil, fmt.Errorf("borrower ledger: staked %s below collateral %s: %w", pos.StakedTokens.Dec(), collateral.Dec(), nativecommon.ErrInsufficientStake)
	}
	if durationSeconds == 0 {
		return nil, fmt.Errorf("borrower ledger: duration must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	if limit := e.params.MaxDurationSeconds; limit != 0 && durationSeconds > limit {
		return nil, fmt.Errorf("borrower ledger: duration %d above cap %d: %w", durationSeconds, limit, nativecommon.ErrInvalidAmount)
	}
	principal, repayment, err := e.Quote(collateral)
	if err != nil {
		return nil, err
	}
	if principal.IsZero() {
		return nil, fmt.Errorf("borrower ledger: collateral %s too small for a loan: %w", collateral.Dec(), nativecommon.ErrInvalidAmount)
	}
	now := e.nowFn()
	due := now + durationSeconds
	if due < now {
		return nil, fmt.Errorf("borrower ledger: due timestamp: %w", nativecommon.ErrOverflow)
	}
	poolBalance, err := e.state.NativeBalance(e.pool)
	if err != nil {
		return nil, err
	}
	if poolBalance.Lt(principal) {
		return nil, fmt.Errorf("borrower ledger: pool holds %s, loan %s: %w", poolBalance.Dec(), principal.Dec(), nativecommon.ErrInsufficientPoolFunds)
	}
	pos.LoanPrincipal = principal
	pos.RepaymentAmount = repayment
	pos.DueTimestamp = due
	pos.Active = true
	if err := e.state.PutBorrowerPosition(pos); err != nil {
		return nil, err
	}
	loan := &Loan{
		Borrower:   borrower,
		Collateral: collateral.Clone(),
		Principal:  principal.Clone(),
		Repayment:  repayment.Clone(),
		Due:        due,
	}
	e.emitter.Emit(events.BorrowerBorrowed{
		Borrower:   borrower,
		Collateral: loan.Collateral.Clone(),
		Principal:  loan.Principal.Clone(),
		Repayment:  loan.Repayment.Clone(),
		Due:        due,
	})
	return loan, nil
}

// Repay settles the active loan. value must equal the repayment amount
// exactly. The stake remains with the borrower as free stake.
func (e *Engine) Repay(borrower crypto.Address, value *uint256.Int) (*Repayment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.position(borrower)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, fmt.Errorf("borrower ledger: repay %s: %w", borrower, nativecommon.ErrNoActiveLoan)
	}
	if value == nil || !value.Eq(pos.RepaymentAmount) {
		got := "0"
		if value != nil {
			got = value.Dec()
		}
		return nil, fmt.Errorf("borrower ledger: repayment %s, sent %s: %w", pos.RepaymentAmount.Dec(), got, nativecommon.ErrWrongAmount)
	}
	result := &Repayment{
		Borrower:  borrower,
		Principal: pos.LoanPrincipal.Clone(),
		Fee:       new(uint256.Int).Sub(pos.RepaymentAmount, pos.LoanPrincipal),
	}
	pos.clearLoan()
	if err := e.state.PutBorrowerPosition(pos); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BorrowerRepaid{Borrower: borrower, Principal: result.Principal.Clone(), Fee: result.Fee.Clone()})
	return result, nil
}

// ClaimCollateral forfeits the whole stake of a borrower whose loan is past
// due. Anyone may trigger it; claimant is recorded in the event only.
func (e *Engine) ClaimCollateral(claimant, borrower crypto.Address) (*Default, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.position(borrower)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, fmt.Errorf("borrower ledger: claim %s: %w", borrower, nativecommon.ErrNoActiveLoan)
	}
	now := e.nowFn()
	if now <= pos.DueTimestamp {
		return nil, fmt.Errorf("borrower ledger: due %d, now %d: %w", pos.DueTimestamp, now, nativecommon.ErrLoanNotExpired)
	}
	result := &Default{
		Borrower:  borrower,
		Seized:    pos.StakedTokens.Clone(),
		Principal: pos.LoanPrincipal.Clone(),
		Due:       pos.DueTimestamp,
	}
	pos.clearLoan()
	pos.StakedTokens = new(uint256.Int)
	if err := e.state.PutBorrowerPosition(pos); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.BorrowerDefaulted{
		Borrower:  borrower,
		Claimant:  claimant,
		Seized:    result.Seized.Clone(),
		Principal: result.Principal.Clone(),
		Due:       result.Due,
	})
	return result, nil
}

// Position returns a copy of addr's record. Unknown borrowers yield an empty
// position.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.position(addr)
}

// Status returns the lifecycle state of addr.
func (e *Engine) Status(addr crypto.Address) (Status, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return StatusNoStake, err
	}
	return pos.Status(), nil
}

func (e *Engine) position(addr crypto.Address) (*Position, error) {
	pos, err := e.state.BorrowerPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return NewPosition(addr), nil
	}
	pos = pos.Clone()
	pos.Borrower = addr
	return pos, nil
}
