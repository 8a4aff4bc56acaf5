package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"stakeescrow/core/events"
	nhbstate "stakeescrow/core/state"
	"stakeescrow/core/types"
	"stakeescrow/crypto"
	"stakeescrow/native/bank"
	"stakeescrow/native/borrower"
	nativecommon "stakeescrow/native/common"
	"stakeescrow/native/escrow"
	"stakeescrow/native/lender"
	"stakeescrow/observability"
	escrowotel "stakeescrow/observability/otel"
	"stakeescrow/storage"
)

var (
	// ErrNotInitialised is returned when the database has no genesis applied.
	ErrNotInitialised   = errors.New("core: database has no genesis")
	ErrNonceMismatch    = errors.New("nonce mismatch")
	ErrChainIDMismatch  = errors.New("chain id mismatch")
	ErrUnknownTxType    = errors.New("unknown transaction type")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// HighInterestRateBps is the rate above which a rate change is logged at
// WARN. Rates are not capped.
const HighInterestRateBps = 10_000

// Options configures a Node.
type Options struct {
	ChainID uint64
	Params  borrower.Params
	Pauses  nativecommon.PauseView
	Logger  *slog.Logger
	// Emitter receives ledger events once the call that produced them has
	// been committed.
	Emitter events.Emitter
	// Now overrides the wall clock. Tests use it to move time forward.
	Now func() time.Time
}

// Receipt describes an applied transaction.
type Receipt struct {
	TxHash    string         `json:"txHash"`
	Sender    crypto.Address `json:"sender"`
	Type      string         `json:"type"`
	Nonce     uint64         `json:"nonce"`
	Timestamp uint64         `json:"timestamp"`
	Events    []types.Event  `json:"events"`
	Result    interface{}    `json:"result,omitempty"`
}

// Node applies signed transactions to the escrow one at a time. Every call
// runs against the state overlay and is either committed whole or discarded.
type Node struct {
	mu       sync.Mutex
	db       storage.Database
	state    *nhbstate.Manager
	escrow   *escrow.Engine
	buffer   *events.Buffer
	emitter  events.Emitter
	chainID  uint64
	nowFn    func() time.Time
	callTime uint64
	logger   *slog.Logger
	metrics  *observability.EscrowMetrics
}

// NewNode opens the escrow over db. Genesis must already have been applied.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	state := nhbstate.NewManager(db)
	owner, ok, err := state.Owner()
	if err != nil {
		return nil, fmt.Errorf("core: load owner: %w", err)
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	engine, err := escrow.NewEngine(owner, opts.Params)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	n := &Node{
		db:      db,
		state:   state,
		escrow:  engine,
		buffer:  &events.Buffer{},
		emitter: emitter,
		chainID: opts.ChainID,
		nowFn:   nowFn,
		logger:  logger.With(slog.String("component", "core")),
		metrics: observability.Escrow(),
	}
	engine.SetState(state)
	engine.SetEmitter(n.buffer)
	engine.SetPauses(opts.Pauses)
	engine.SetNowFunc(func() uint64 { return n.callTime })
	return n, nil
}

func (n *Node) ChainID() uint64 { return n.chainID }

func (n *Node) Owner() crypto.Address { return n.escrow.Owner() }

func (n *Node) Params() borrower.Params { return n.escrow.Params() }

// PoolAddress is the account holding the lending pool and the spender users
// approve before staking.
func (n *Node) PoolAddress() crypto.Address { return escrow.PoolAddress }

func (n *Node) CustodyAddress() crypto.Address { return escrow.CustodyAddress }

// clock returns the wall clock in seconds, never earlier than the last
// committed call.
func (n *Node) clock() (uint64, error) {
	now := n.nowFn().Unix()
	if now < 0 {
		now = 0
	}
	last, err := n.state.LastTimestamp()
	if err != nil {
		return 0, err
	}
	if uint64(now) < last {
		return last, nil
	}
	return uint64(now), nil
}

// ApplyTransaction verifies and applies tx. On any failure the state is left
// as it was, except that a correctly signed transaction carrying the expected
// nonce still consumes that nonce.
func (n *Node) ApplyTransaction(ctx context.Context, tx *types.Transaction) (*Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("core: nil transaction")
	}
	_, span := escrowotel.Tracer().Start(ctx, "escrow.ApplyTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("escrow.tx_type", tx.Type.String()))

	start := time.Now()
	n.mu.Lock()
	defer n.mu.Unlock()

	receipt, nonceValid, err := n.apply(tx)
	if err == nil {
		err = n.state.Commit()
	}
	if err != nil {
		n.state.Discard()
		n.buffer.Reset()
		if nonceValid {
			n.consumeNonce(receipt.Sender)
		}
		kind := ErrorKind(err)
		n.metrics.ObserveTx(tx.Type.String(), kind, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		n.logger.Warn("transaction rejected",
			slog.String("type", tx.Type.String()),
			slog.String("sender", receipt.Sender.String()),
			slog.String("kind", kind),
			slog.String("error", err.Error()))
		return nil, err
	}

	for _, evt := range n.buffer.Drain() {
		if payload := evt.Event(); payload != nil {
			receipt.Events = append(receipt.Events, *payload.Clone())
		}
		n.emitter.Emit(evt)
		n.metrics.RecordEvent(evt.EventType())
	}
	n.metrics.ObserveTx(tx.Type.String(), "ok", time.Since(start))
	if pool, err := n.state.NativeBalance(escrow.PoolAddress); err == nil {
		n.metrics.SetPoolBalance(pool)
	}
	n.logger.Info("transaction applied",
		slog.String("type", receipt.Type),
		slog.String("sender", receipt.Sender.String()),
		slog.Uint64("nonce", receipt.Nonce),
		slog.Int("events", len(receipt.Events)))
	return receipt, nil
}

// apply runs tx against the overlay. The returned receipt is never nil so the
// sender is available for logging; nonceValid reports whether the signature
// and nonce checks passed.
func (n *Node) apply(tx *types.Transaction) (*Receipt, bool, error) {
	receipt := &Receipt{Type: tx.Type.String(), Nonce: tx.Nonce, Events: []types.Event{}}
	if hash, err := tx.Hash(); err == nil {
		receipt.TxHash = "0x" + hex.EncodeToString(hash)
	}
	if !tx.Type.Valid() {
		return receipt, false, fmt.Errorf("core: %w: 0x%02x", ErrUnknownTxType, byte(tx.Type))
	}
	if tx.ChainID != n.chainID {
		return receipt, false, fmt.Errorf("core: %w: got %d, want %d", ErrChainIDMismatch, tx.ChainID, n.chainID)
	}
	sender, err := tx.From()
	if err != nil {
		return receipt, false, fmt.Errorf("core: %w: %v", ErrInvalidSignature, err)
	}
	receipt.Sender = sender

	account, err := n.state.GetAccount(sender)
	if err != nil {
		return receipt, false, err
	}
	if tx.Nonce != account.Nonce {
		return receipt, false, fmt.Errorf("core: %w: got %d, want %d", ErrNonceMismatch, tx.Nonce, account.Nonce)
	}
	account.Nonce++
	if err := n.state.PutAccount(sender, account); err != nil {
		return receipt, true, err
	}

	ts, err := n.clock()
	if err != nil {
		return receipt, true, err
	}
	n.callTime = ts
	receipt.Timestamp = ts
	if err := n.state.PutLastTimestamp(ts); err != nil {
		return receipt, true, err
	}

	value, err := txValue(tx)
	if err != nil {
		return receipt, true, err
	}
	if !value.IsZero() {
		if !tx.Type.AcceptsValue() {
			return receipt, true, fmt.Errorf("core: %s does not accept value: %w", tx.Type, nativecommon.ErrInvalidAmount)
		}
		if err := bank.Transfer(n.state, sender, escrow.PoolAddress, value); err != nil {
			return receipt, true, err
		}
	}

	result, err := n.dispatch(escrow.Call{Caller: sender, Value: value}, tx)
	if err != nil {
		return receipt, true, err
	}
	receipt.Result = result
	return receipt, true, nil
}

func (n *Node) consumeNonce(sender crypto.Address) {
	account, err := n.state.GetAccount(sender)
	if err == nil {
		account.Nonce++
		err = n.state.PutAccount(sender, account)
	}
	if err == nil {
		err = n.state.Commit()
	}
	if err != nil {
		n.state.Discard()
		n.logger.Error("consume nonce", slog.String("sender", sender.String()), slog.String("error", err.Error()))
	}
}

func (n *Node) dispatch(call escrow.Call, tx *types.Transaction) (interface{}, error) {
	switch tx.Type {
	case types.TxTypeGetTokens:
		amount, err := decodeAmountPayload(tx)
		if err != nil {
			return nil, err
		}
		return nil, n.escrow.GetTokens(call, amount)
	case types.TxTypeDeposit:
		return n.escrow.Deposit(call)
	case types.TxTypeWithdraw:
		return n.escrow.Withdraw(call)
	case types.TxTypeApprove:
		var payload types.ApprovePayload
		if err := decodePayload(tx, &payload); err != nil {
			return nil, err
		}
		amount, err := ParseAmount(payload.Amount)
		if err != nil {
			return nil, err
		}
		return nil, n.escrow.Approve(call, payload.Spender, amount)
	case types.TxTypeTransfer:
		var payload types.TransferPayload
		if err := decodePayload(tx, &payload); err != nil {
			return nil, err
		}
		amount, err := ParseAmount(payload.Amount)
		if err != nil {
			return nil, err
		}
		return nil, n.escrow.TransferTokens(call, payload.To, amount)
	case types.TxTypeStake:
		amount, err := decodeAmountPayload(tx)
		if err != nil {
			return nil, err
		}
		return n.escrow.StakeTokens(call, amount)
	case types.TxTypeUnstake:
		amount, err := decodeAmountPayload(tx)
		if err != nil {
			return nil, err
		}
		return n.escrow.UnstakeTokens(call, amount)
	case types.TxTypeBorrow:
		var payload types.BorrowPayload
		if err := decodePayload(tx, &payload); err != nil {
			return nil, err
		}
		collateral, err := ParseAmount(payload.CollateralTokens)
		if err != nil {
			return nil, err
		}
		return n.escrow.Borrow(call, collateral, payload.DurationSeconds)
	case types.TxTypeRepay:
		return n.escrow.Repay(call)
	case types.TxTypeClaimCollateral:
		var payload types.ClaimCollateralPayload
		if err := decodePayload(tx, &payload); err != nil {
			return nil, err
		}
		return n.escrow.ClaimCollateral(call, payload.Borrower)
	case types.TxTypeSetInterestRate:
		var payload types.InterestRatePayload
		if err := decodePayload(tx, &payload); err != nil {
			return nil, err
		}
		if err := n.escrow.SetInterestRate(call, payload.RateBps); err != nil {
			return nil, err
		}
		if payload.RateBps > HighInterestRateBps {
			n.logger.Warn("interest rate above 100% per year",
				slog.Uint64("rate_bps", payload.RateBps),
				slog.String("sender", call.Caller.String()))
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("core: %w: %s", ErrUnknownTxType, tx.Type)
	}
}

func decodePayload(tx *types.Transaction, out interface{}) error {
	if err := tx.DecodePayload(out); err != nil {
		return fmt.Errorf("core: %w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func decodeAmountPayload(tx *types.Transaction) (*uint256.Int, error) {
	var payload types.AmountPayload
	if err := decodePayload(tx, &payload); err != nil {
		return nil, err
	}
	return ParseAmount(payload.Amount)
}

// ErrorKind extends the ledger failure taxonomy with the executor's own
// rejections.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNonceMismatch):
		return "NonceMismatch"
	case errors.Is(err, ErrChainIDMismatch):
		return "ChainIDMismatch"
	case errors.Is(err, ErrUnknownTxType):
		return "UnknownTxType"
	case errors.Is(err, ErrInvalidSignature):
		return "InvalidSignature"
	case errors.Is(err, ErrInvalidPayload):
		return "InvalidPayload"
	}
	return nativecommon.Kind(err)
}

// ParseAmount parses a decimal amount of base units.
func ParseAmount(raw string) (*uint256.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("core: amount required: %w", nativecommon.ErrInvalidAmount)
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("core: amount %q: %w", raw, nativecommon.ErrInvalidAmount)
	}
	return v, nil
}

func txValue(tx *types.Transaction) (*uint256.Int, error) {
	if tx.Value == nil {
		return new(uint256.Int), nil
	}
	if tx.Value.Sign() < 0 {
		return nil, fmt.Errorf("core: negative value: %w", nativecommon.ErrInvalidAmount)
	}
	v, overflow := uint256.FromBig(tx.Value)
	if overflow {
		return nil, fmt.Errorf("core: value: %w", nativecommon.ErrOverflow)
	}
	return v, nil
}

// read pins the call clock to the current time and runs fn under the node
// lock so it observes committed state only.
func (n *Node) read(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ts, err := n.clock()
	if err != nil {
		return err
	}
	n.callTime = ts
	return fn()
}

// Account returns the native account of addr.
func (n *Node) Account(addr crypto.Address) (acc *types.Account, err error) {
	err = n.read(func() error {
		acc, err = n.state.GetAccount(addr)
		return err
	})
	return acc, err
}

// LenderView is a lender position with the interest accrued so far.
type LenderView struct {
	*lender.Position
	InterestGained *uint256.Int `json:"interestGained"`
}

func (n *Node) Lender(addr crypto.Address) (view *LenderView, err error) {
	err = n.read(func() error {
		pos, err := n.escrow.Lender(addr)
		if err != nil {
			return err
		}
		interest, err := n.escrow.InterestGained(addr)
		if err != nil {
			return err
		}
		view = &LenderView{Position: pos, InterestGained: interest}
		return nil
	})
	return view, err
}

func (n *Node) InterestGained(addr crypto.Address) (out *uint256.Int, err error) {
	err = n.read(func() error {
		out, err = n.escrow.InterestGained(addr)
		return err
	})
	return out, err
}

// BorrowerView is a borrower position with its lifecycle status.
type BorrowerView struct {
	*borrower.Position
	Status borrower.Status `json:"status"`
}

func (n *Node) Borrower(addr crypto.Address) (view *BorrowerView, err error) {
	err = n.read(func() error {
		pos, err := n.escrow.Borrower(addr)
		if err != nil {
			return err
		}
		view = &BorrowerView{Position: pos, Status: pos.Status()}
		return nil
	})
	return view, err
}

func (n *Node) BalanceOf(addr crypto.Address) (out *uint256.Int, err error) {
	err = n.read(func() error {
		out, err = n.escrow.BalanceOf(addr)
		return err
	})
	return out, err
}

func (n *Node) Allowance(owner, spender crypto.Address) (out *uint256.Int, err error) {
	err = n.read(func() error {
		out, err = n.escrow.Allowance(owner, spender)
		return err
	})
	return out, err
}

func (n *Node) TotalSupply() (out *uint256.Int, err error) {
	err = n.read(func() error {
		out, err = n.escrow.TotalSupply()
		return err
	})
	return out, err
}

func (n *Node) InterestRate() (out uint64, err error) {
	err = n.read(func() error {
		out, err = n.escrow.InterestRate()
		return err
	})
	return out, err
}

func (n *Node) Stats() (out *types.PoolStats, err error) {
	err = n.read(func() error {
		out, err = n.escrow.Stats()
		return err
	})
	return out, err
}

func (n *Node) Solvency() (out *escrow.Solvency, err error) {
	err = n.read(func() error {
		out, err = n.escrow.Solvency()
		return err
	})
	return out, err
}
