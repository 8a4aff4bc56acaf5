package lender

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakeescrow/core/events"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

var errNilState = errors.New("lender ledger: state not configured")

const moduleName = "lender"

type engineState interface {
	LenderPosition(addr crypto.Address) (*Position, error)
	PutLenderPosition(pos *Position) error
	InterestRate() (uint64, error)
	PutInterestRate(rateBps uint64) error
	NativeBalance(addr crypto.Address) (*uint256.Int, error)
}

// Engine records lender deposits and accrues simple interest on them. The
// engine never moves native value itself: deposits are credited to the pool
// before Deposit runs and payouts are returned to the caller to settle.
type Engine struct {
	state   engineState
	owner   crypto.Address
	pool    crypto.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView
	nowFn   func() uint64
}

// NewEngine constructs a lender ledger. owner is the only identity allowed to
// change the interest rate and pool is the account whose balance backs
// withdrawals.
func NewEngine(owner, pool crypto.Address) *Engine {
	return &Engine{owner: owner, pool: pool, emitter: events.NoopEmitter{}, nowFn: func() uint64 { return 0 }}
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

// SetNowFunc overrides the clock used for accrual.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return 0 }
		return
	}
	e.nowFn = now
}

func (e *Engine) Owner() crypto.Address { return e.owner }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// Deposit adds amount to the depositor's position. Interest accrued on an
// existing position is folded into principal first and the accrual clock is
// reset to now.
func (e *Engine) Deposit(depositor crypto.Address, amount *uint256.Int) (*DepositResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("lender ledger: deposit must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	pos, err := e.position(depositor)
	if err != nil {
		return nil, err
	}
	now := e.nowFn()
	folded := new(uint256.Int)
	if pos.Active() {
		rate, err := e.state.InterestRate()
		if err != nil {
			return nil, err
		}
		folded, err = Accrue(pos.Principal, rate, pos.DepositTimestamp, now)
		if err != nil {
			return nil, err
		}
	}
	principal, overflow := new(uint256.Int).AddOverflow(pos.Principal, folded)
	if overflow {
		return nil, fmt.Errorf("lender ledger: principal: %w", nativecommon.ErrOverflow)
	}
	if _, overflow = principal.AddOverflow(principal, amount); overflow {
		return nil, fmt.Errorf("lender ledger: principal: %w", nativecommon.ErrOverflow)
	}
	pos.Principal = principal
	pos.DepositTimestamp = now
	if err := e.state.PutLenderPosition(pos); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LenderDeposited{
		Lender:    depositor,
		Amount:    amount.Clone(),
		Folded:    folded.Clone(),
		Principal: principal.Clone(),
		Timestamp: now,
	})
	return &DepositResult{Position: pos.Clone(), Folded: folded}, nil
}

// InterestGained returns the interest accrued on addr's position at the
// current time. Addresses without a position accrue nothing.
func (e *Engine) InterestGained(addr crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.position(addr)
	if err != nil {
		return nil, err
	}
	if !pos.Active() {
		return new(uint256.Int), nil
	}
	rate, err := e.state.InterestRate()
	if err != nil {
		return nil, err
	}
	return Accrue(pos.Principal, rate, pos.DepositTimestamp, e.nowFn())
}

// Withdraw closes addr's position and returns principal plus accrued
// interest. The position is zeroed before the result is handed back so the
// payout transfer can be the caller's final step.
func (e *Engine) Withdraw(addr crypto.Address) (*WithdrawResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.position(addr)
	if err != nil {
		return nil, err
	}
	if !pos.Active() {
		return nil, fmt.Errorf("lender ledger: withdraw %s: %w", addr, nativecommon.ErrNoActivePosition)
	}
	rate, err := e.state.InterestRate()
	if err != nil {
		return nil, err
	}
	interest, err := Accrue(pos.Principal, rate, pos.DepositTimestamp, e.nowFn())
	if err != nil {
		return nil, err
	}
	payout, overflow := new(uint256.Int).AddOverflow(pos.Principal, interest)
	if overflow {
		return nil, fmt.Errorf("lender ledger: payout: %w", nativecommon.ErrOverflow)
	}
	poolBalance, err := e.state.NativeBalance(e.pool)
	if err != nil {
		return nil, err
	}
	if poolBalance.Lt(payout) {
		return nil, fmt.Errorf("lender ledger: pool holds %s, payout %s: %w", poolBalance.Dec(), payout.Dec(), nativecommon.ErrInsufficientPoolFunds)
	}
	result := &WithdrawResult{
		Lender:    addr,
		Principal: pos.Principal.Clone(),
		Interest:  interest,
		Payout:    payout,
	}
	if err := e.state.PutLenderPosition(NewPosition(addr)); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.LenderWithdrawn{
		Lender:    addr,
		Principal: result.Principal.Clone(),
		Interest:  interest.Clone(),
		Payout:    payout.Clone(),
	})
	return result, nil
}

// SetInterestRate replaces the annual rate applied to every open position.
// Accrual is not checkpointed, so the new rate applies retroactively to the
// whole elapsed period of each position.
func (e *Engine) SetInterestRate(caller crypto.Address, rateBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.owner {
		return fmt.Errorf("lender ledger: set rate by %s: %w", caller, nativecommon.ErrUnauthorized)
	}
	previous, err := e.state.InterestRate()
	if err != nil {
		return err
	}
	if err := e.state.PutInterestRate(rateBps); err != nil {
		return err
	}
	e.emitter.Emit(events.LenderRateUpdated{Previous: previous, Current: rateBps})
	return nil
}

// Position returns a copy of addr's record. Unknown lenders yield an empty
// position.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.position(addr)
}

// InterestRate returns the current annual rate in basis points.
func (e *Engine) InterestRate() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.InterestRate()
}

func (e *Engine) position(addr crypto.Address) (*Position, error) {
	pos, err := e.state.LenderPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return NewPosition(addr), nil
	}
	pos = pos.Clone()
	pos.Lender = addr
	if pos.Principal == nil {
		pos.Principal = new(uint256.Int)
	}
	return pos, nil
}
