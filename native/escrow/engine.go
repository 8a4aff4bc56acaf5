package escrow

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakeescrow/core/events"
	"stakeescrow/core/types"
	"stakeescrow/crypto"
	"stakeescrow/native/bank"
	"stakeescrow/native/borrower"
	nativecommon "stakeescrow/native/common"
	"stakeescrow/native/lender"
	"stakeescrow/native/token"
)

var errNilState = errors.New("escrow: state not configured")

// State is everything the coordinator and its ledgers persist.
type State interface {
	bank.Accounts

	TokenBalance(addr crypto.Address) (*uint256.Int, error)
	PutTokenBalance(addr crypto.Address, amount *uint256.Int) error
	TokenAllowance(owner, spender crypto.Address) (*uint256.Int, error)
	PutTokenAllowance(owner, spender crypto.Address, amount *uint256.Int) error
	TokenSupply() (*uint256.Int, error)
	PutTokenSupply(amount *uint256.Int) error

	LenderPosition(addr crypto.Address) (*lender.Position, error)
	PutLenderPosition(pos *lender.Position) error
	LenderAddresses() ([]crypto.Address, error)
	InterestRate() (uint64, error)
	PutInterestRate(rateBps uint64) error

	BorrowerPosition(addr crypto.Address) (*borrower.Position, error)
	PutBorrowerPosition(pos *borrower.Position) error

	NativeBalance(addr crypto.Address) (*uint256.Int, error)
	PoolStats() (*types.PoolStats, error)
	PutPoolStats(stats *types.PoolStats) error
}

// Engine is the escrow coordinator. It owns the token, lender and borrower
// ledgers for its whole lifetime and is the only component that moves tokens
// between custody accounts or native value out of the pool.
type Engine struct {
	state    State
	owner    crypto.Address
	token    *token.Engine
	lender   *lender.Engine
	borrower *borrower.Engine
	nowFn    func() uint64
}

// NewEngine creates the coordinator and its ledgers. owner controls the
// interest rate and receives seized collateral.
func NewEngine(owner crypto.Address, params borrower.Params) (*Engine, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("escrow: owner required: %w", nativecommon.ErrInvalidAddress)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		owner:    owner,
		token:    token.NewEngine(PoolAddress),
		lender:   lender.NewEngine(owner, PoolAddress),
		borrower: borrower.NewEngine(PoolAddress, params),
		nowFn:    func() uint64 { return 0 },
	}
	e.lender.SetNowFunc(e.now)
	e.borrower.SetNowFunc(e.now)
	return e, nil
}

// SetState wires the coordinator and every ledger to the persistence layer.
func (e *Engine) SetState(state State) {
	e.state = state
	e.token.SetState(state)
	e.lender.SetState(state)
	e.borrower.SetState(state)
}

// SetEmitter routes the events of every ledger to emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.token.SetEmitter(emitter)
	e.lender.SetEmitter(emitter)
	e.borrower.SetEmitter(emitter)
}

// SetPauses applies the operator pause switches to every ledger.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.token.SetPauses(p)
	e.lender.SetPauses(p)
	e.borrower.SetPauses(p)
}

// SetNowFunc overrides the call clock shared by the ledgers.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return 0 }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 { return e.nowFn() }

func (e *Engine) Owner() crypto.Address   { return e.owner }
func (e *Engine) Params() borrower.Params { return e.borrower.Params() }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func rejectValue(call Call) error {
	if call.hasValue() {
		return fmt.Errorf("escrow: call does not accept value %s: %w", call.Value.Dec(), nativecommon.ErrInvalidAmount)
	}
	return nil
}

// GetTokens mints amount tokens to the caller. Minting is unbacked: any caller
// may mint any amount, zero included.
func (e *Engine) GetTokens(call Call, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := rejectValue(call); err != nil {
		return err
	}
	return e.token.Mint(PoolAddress, call.Caller, amount)
}

// Deposit opens or tops up the caller's lender position with the attached
// value.
func (e *Engine) Deposit(call Call) (*lender.DepositResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	result, err := e.lender.Deposit(call.Caller, call.Value)
	if err != nil {
		return nil, err
	}
	err = e.updateStats(func(s *types.PoolStats) error {
		if err := add(s.LenderPrincipal, call.Value); err != nil {
			return err
		}
		if err := add(s.LenderPrincipal, result.Folded); err != nil {
			return err
		}
		return add(s.InterestCapitalised, result.Folded)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Withdraw closes the caller's lender position and pays out principal plus
// interest from the pool.
func (e *Engine) Withdraw(call Call) (*lender.WithdrawResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rejectValue(call); err != nil {
		return nil, err
	}
	result, err := e.lender.Withdraw(call.Caller)
	if err != nil {
		return nil, err
	}
	err = e.updateStats(func(s *types.PoolStats) error {
		if err := sub(s.LenderPrincipal, result.Principal); err != nil {
			return err
		}
		return add(s.InterestPaid, result.Interest)
	})
	if err != nil {
		return nil, err
	}
	if err := bank.Transfer(e.state, PoolAddress, call.Caller, result.Payout); err != nil {
		return nil, err
	}
	return result, nil
}

// Approve sets the allowance spender may draw from the caller's tokens.
func (e *Engine) Approve(call Call, spender crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := rejectValue(call); err != nil {
		return err
	}
	return e.token.Approve(call.Caller, spender, amount)
}

// TransferTokens moves tokens from the caller to another address.
func (e *Engine) TransferTokens(call Call, to crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := rejectValue(call); err != nil {
		return err
	}
	return e.token.Transfer(call.Caller, to, amount)
}

// StakeTokens pulls amount tokens from the caller into custody using the
// allowance granted to PoolAddress and records them as stake.
func (e *Engine) StakeTokens(call Call, amount *uint256.Int) (*borrower.Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rejectValue(call); err != nil {
		return nil, err
	}
	if err := e.token.TransferFrom(PoolAddress, call.Caller, CustodyAddress, amount); err != nil {
		return nil, err
	}
	return e.borrower.StakeTokens(call.Caller, amount)
}

// UnstakeTokens returns free stake from custody to the caller.
func (e *Engine) UnstakeTokens(call Call, amount *uint256.Int) (*borrower.Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rejectValue(call); err != nil {
		return nil, err
	}
	pos, err := e.borrower.UnstakeTokens(call.Caller, amount)
	if err != nil {
		return nil, err
	}
	if err := e.token.Transfer(CustodyAddress, call.Caller, amount); err != nil {
		return nil, err
	}
	return pos, nil
}

// Borrow opens a loan against the caller's stake and disburses the principal
// from the pool.
func (e *Engine) Borrow(call Call, collateral *uint256.Int, durationSeconds uint64) (*borrower.Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rejectValue(call); err != nil {
		return nil, err
	}
	loan, err := e.borrower.Borrow(call.Caller, collateral, durationSeconds)
	if err != nil {
		return nil, err
	}
	err = e.updateStats(func(s *types.PoolStats) error {
		return add(s.OutstandingLoans, loan.Principal)
	})
	if err != nil {
		return nil, err
	}
	if err := bank.Transfer(e.state, PoolAddress, call.Caller, loan.Principal); err != nil {
		return nil, err
	}
	return loan, nil
}

// Repay settles the caller's loan with the attached value, which must equal
// the repayment amount.
func (e *Engine) Repay(call Call) (*borrower.Repayment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	result, err := e.borrower.Repay(call.Caller, call.Value)
	if err != nil {
		return nil, err
	}
	err = e.updateStats(func(s *types.PoolStats) error {
		if err := sub(s.OutstandingLoans, result.Principal); err != nil {
			return err
		}
		return add(s.FeesCollected, result.Fee)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimCollateral seizes the stake of a borrower whose loan is past due and
// forwards it to the owner. Any caller may trigger it.
func (e *Engine) ClaimCollateral(call Call, target crypto.Address) (*borrower.Default, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := rejectValue(call); err != nil {
		return nil, err
	}
	result, err := e.borrower.ClaimCollateral(call.Caller, target)
	if err != nil {
		return nil, err
	}
	err = e.updateStats(func(s *types.PoolStats) error {
		if err := sub(s.OutstandingLoans, result.Principal); err != nil {
			return err
		}
		if err := add(s.DefaultedPrincipal, result.Principal); err != nil {
			return err
		}
		return add(s.SeizedCollateral, result.Seized)
	})
	if err != nil {
		return nil, err
	}
	if !result.Seized.IsZero() {
		if err := e.token.Transfer(CustodyAddress, e.owner, result.Seized); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// SetInterestRate changes the lender rate. Only the owner may call it.
func (e *Engine) SetInterestRate(call Call, rateBps uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := rejectValue(call); err != nil {
		return err
	}
	return e.lender.SetInterestRate(call.Caller, rateBps)
}

func (e *Engine) InterestGained(addr crypto.Address) (*uint256.Int, error) {
	return e.lender.InterestGained(addr)
}

func (e *Engine) Lender(addr crypto.Address) (*lender.Position, error) {
	return e.lender.Position(addr)
}

func (e *Engine) Borrower(addr crypto.Address) (*borrower.Position, error) {
	return e.borrower.Position(addr)
}

func (e *Engine) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	return e.token.BalanceOf(addr)
}

func (e *Engine) Allowance(owner, spender crypto.Address) (*uint256.Int, error) {
	return e.token.Allowance(owner, spender)
}

func (e *Engine) TotalSupply() (*uint256.Int, error) { return e.token.TotalSupply() }

func (e *Engine) InterestRate() (uint64, error) { return e.lender.InterestRate() }

// PoolBalance returns the native value held by the pool.
func (e *Engine) PoolBalance() (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.NativeBalance(PoolAddress)
}

// Stats returns the aggregate pool counters.
func (e *Engine) Stats() (*types.PoolStats, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.PoolStats()
}

// Solvency reports whether the pool, together with the principal it is owed
// by borrowers, covers every lender's principal and accrued interest at the
// current time.
func (e *Engine) Solvency() (*Solvency, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	stats, err := e.state.PoolStats()
	if err != nil {
		return nil, err
	}
	pool, err := e.state.NativeBalance(PoolAddress)
	if err != nil {
		return nil, err
	}
	lenders, err := e.state.LenderAddresses()
	if err != nil {
		return nil, err
	}
	accrued := new(uint256.Int)
	for _, addr := range lenders {
		interest, err := e.lender.InterestGained(addr)
		if err != nil {
			return nil, err
		}
		if err := add(accrued, interest); err != nil {
			return nil, err
		}
	}
	liabilities := stats.LenderPrincipal.Clone()
	if err := add(liabilities, accrued); err != nil {
		return nil, err
	}
	assets := pool.Clone()
	if err := add(assets, stats.OutstandingLoans); err != nil {
		return nil, err
	}
	return &Solvency{
		Timestamp:        e.now(),
		PoolBalance:      pool,
		OutstandingLoans: stats.OutstandingLoans.Clone(),
		LenderPrincipal:  stats.LenderPrincipal.Clone(),
		AccruedInterest:  accrued,
		Liabilities:      liabilities,
		Covered:          !assets.Lt(liabilities),
	}, nil
}

func (e *Engine) updateStats(fn func(*types.PoolStats) error) error {
	stats, err := e.state.PoolStats()
	if err != nil {
		return err
	}
	stats = stats.Clone()
	if err := fn(stats); err != nil {
		return err
	}
	return e.state.PutPoolStats(stats)
}

func add(dst, v *uint256.Int) error {
	if v == nil {
		return nil
	}
	if _, overflow := dst.AddOverflow(dst, v); overflow {
		return fmt.Errorf("escrow: pool stats: %w", nativecommon.ErrOverflow)
	}
	return nil
}

func sub(dst, v *uint256.Int) error {
	if v == nil {
		return nil
	}
	if _, underflow := dst.SubOverflow(dst, v); underflow {
		return fmt.Errorf("escrow: pool stats underflow: %w", nativecommon.ErrOverflow)
	}
	return nil
}
