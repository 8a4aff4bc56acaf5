package token

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"stakeescrow/core/events"
	"stakeescrow/crypto"
	nativecommon "stakeescrow/native/common"
)

var errNilState = errors.New("token ledger: state not configured")

const moduleName = "token"

type engineState interface {
	TokenBalance(addr crypto.Address) (*uint256.Int, error)
	PutTokenBalance(addr crypto.Address, amount *uint256.Int) error
	TokenAllowance(owner, spender crypto.Address) (*uint256.Int, error)
	PutTokenAllowance(owner, spender crypto.Address, amount *uint256.Int) error
	TokenSupply() (*uint256.Int, error)
	PutTokenSupply(amount *uint256.Int) error
}

// Engine is the platform token ledger. Minting is restricted to a single
// authority, the escrow coordinator.
type Engine struct {
	state   engineState
	minter  crypto.Address
	emitter events.Emitter
	pauses  nativecommon.PauseView
}

// NewEngine constructs a token ledger whose mint authority is minter.
func NewEngine(minter crypto.Address) *Engine {
	return &Engine{minter: minter, emitter: events.NoopEmitter{}}
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

// Minter returns the mint authority.
func (e *Engine) Minter() crypto.Address { return e.minter }

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

// Mint credits amount new tokens to the recipient. Only the mint authority may
// call it. A zero amount succeeds and leaves balances unchanged.
func (e *Engine) Mint(caller, to crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if caller != e.minter {
		return fmt.Errorf("token ledger: mint by %s: %w", caller, nativecommon.ErrUnauthorized)
	}
	if to.IsZero() {
		return fmt.Errorf("token ledger: mint to zero address: %w", nativecommon.ErrInvalidAddress)
	}
	if amount == nil {
		return fmt.Errorf("token ledger: mint amount missing: %w", nativecommon.ErrInvalidAmount)
	}
	supply, err := e.state.TokenSupply()
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return fmt.Errorf("token ledger: total supply: %w", nativecommon.ErrOverflow)
	}
	balance, err := e.state.TokenBalance(to)
	if err != nil {
		return err
	}
	// Supply bounds every balance, so this cannot overflow once the supply
	// check passed; kept as checked arithmetic regardless.
	newBalance, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("token ledger: balance: %w", nativecommon.ErrOverflow)
	}
	if err := e.state.PutTokenBalance(to, newBalance); err != nil {
		return err
	}
	if err := e.state.PutTokenSupply(newSupply); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenMinted{To: to, Amount: amount.Clone(), TotalSupply: newSupply.Clone()})
	return nil
}

// Approve sets the allowance spender may draw from owner, replacing any
// previous value.
func (e *Engine) Approve(owner, spender crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	value := new(uint256.Int)
	if amount != nil {
		value.Set(amount)
	}
	if err := e.state.PutTokenAllowance(owner, spender, value); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenApproved{Owner: owner, Spender: spender, Amount: value.Clone()})
	return nil
}

// TransferFrom moves amount from one account to another on behalf of spender,
// consuming allowance.
func (e *Engine) TransferFrom(spender, from, to crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("token ledger: transfer amount must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	if to.IsZero() {
		return fmt.Errorf("token ledger: transfer to zero address: %w", nativecommon.ErrInvalidAddress)
	}
	allowance, err := e.state.TokenAllowance(from, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("token ledger: allowance %s below %s: %w", allowance.Dec(), amount.Dec(), nativecommon.ErrInsufficientAllowance)
	}
	balance, err := e.state.TokenBalance(from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("token ledger: balance %s below %s: %w", balance.Dec(), amount.Dec(), nativecommon.ErrInsufficientBalance)
	}
	if err := e.state.PutTokenAllowance(from, spender, new(uint256.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	if err := e.move(from, to, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenTransferred{From: from, To: to, Spender: spender, Amount: amount.Clone()})
	return nil
}

// Transfer moves amount directly from one account to another.
func (e *Engine) Transfer(from, to crypto.Address, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("token ledger: transfer amount must be positive: %w", nativecommon.ErrInvalidAmount)
	}
	if to.IsZero() {
		return fmt.Errorf("token ledger: transfer to zero address: %w", nativecommon.ErrInvalidAddress)
	}
	if err := e.move(from, to, amount); err != nil {
		return err
	}
	e.emitter.Emit(events.TokenTransferred{From: from, To: to, Amount: amount.Clone()})
	return nil
}

// move debits then credits, re-reading the recipient after the debit so a
// self-transfer leaves the balance unchanged.
func (e *Engine) move(from, to crypto.Address, amount *uint256.Int) error {
	fromBal, err := e.state.TokenBalance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(amount) {
		return fmt.Errorf("token ledger: balance %s below %s: %w", fromBal.Dec(), amount.Dec(), nativecommon.ErrInsufficientBalance)
	}
	if err := e.state.PutTokenBalance(from, new(uint256.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := e.state.TokenBalance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("token ledger: balance: %w", nativecommon.ErrOverflow)
	}
	return e.state.PutTokenBalance(to, credited)
}

// BalanceOf returns the token balance of addr.
func (e *Engine) BalanceOf(addr crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TokenBalance(addr)
}

// Allowance returns the amount spender may still draw from owner.
func (e *Engine) Allowance(owner, spender crypto.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TokenAllowance(owner, spender)
}

// TotalSupply returns the number of tokens minted so far.
func (e *Engine) TotalSupply() (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TokenSupply()
}
