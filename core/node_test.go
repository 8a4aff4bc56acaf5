package core

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeescrow/core/events"
	"stakeescrow/core/genesis"
	"stakeescrow/core/types"
	"stakeescrow/crypto"
	"stakeescrow/native/borrower"
	nativecommon "stakeescrow/native/common"
	"stakeescrow/native/escrow"
	"stakeescrow/native/lender"
	"stakeescrow/storage"
)

const testChainID = 31337

var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

func ether(n int64) *big.Int { return new(big.Int).Mul(oneEther, big.NewInt(n)) }

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

type testAccount struct {
	key   *crypto.PrivateKey
	addr  crypto.Address
	nonce uint64
}

type testNode struct {
	node      *Node
	db        *storage.MemDB
	clock     *testClock
	published *events.Buffer
	owner     *testAccount
	alice     *testAccount
	bob       *testAccount
	carol     *testAccount
}

func newTestAccount(t *testing.T) *testAccount {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return &testAccount{key: key, addr: key.PubKey().Address()}
}

func newTestNode(t *testing.T, pauses nativecommon.PauseView) *testNode {
	t.Helper()
	tn := &testNode{
		db:        storage.NewMemDB(),
		clock:     &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		published: &events.Buffer{},
		owner:     newTestAccount(t),
		alice:     newTestAccount(t),
		bob:       newTestAccount(t),
		carol:     newTestAccount(t),
	}
	spec := &genesis.Spec{
		GenesisTime: tn.clock.now.Format(time.RFC3339),
		ChainID:     testChainID,
		Owner:       tn.owner.addr.String(),
		Alloc: map[string]string{
			tn.owner.addr.String(): ether(10).String(),
			tn.alice.addr.String(): ether(100).String(),
			tn.bob.addr.String():   ether(100).String(),
			tn.carol.addr.String(): ether(100).String(),
		},
	}
	_, err := genesis.Apply(tn.db, spec)
	require.NoError(t, err)
	node, err := NewNode(tn.db, Options{
		ChainID: testChainID,
		Params:  borrower.DefaultParams(),
		Pauses:  pauses,
		Emitter: tn.published,
		Now:     tn.clock.Now,
	})
	require.NoError(t, err)
	tn.node = node
	return tn
}

func (tn *testNode) tx(t *testing.T, from *testAccount, txType types.TxType, value *big.Int, payload interface{}) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{ChainID: testChainID, Type: txType, Nonce: from.nonce, Value: value}
	require.NoError(t, tx.SetPayload(payload))
	require.NoError(t, tx.Sign(from.key.PrivateKey))
	return tx
}

// send signs and applies a transaction; the local nonce follows the node's
// rule that a well-formed transaction always consumes its nonce.
func (tn *testNode) send(t *testing.T, from *testAccount, txType types.TxType, value *big.Int, payload interface{}) (*Receipt, error) {
	t.Helper()
	receipt, err := tn.node.ApplyTransaction(context.Background(), tn.tx(t, from, txType, value, payload))
	from.nonce++
	return receipt, err
}

func (tn *testNode) mustSend(t *testing.T, from *testAccount, txType types.TxType, value *big.Int, payload interface{}) *Receipt {
	t.Helper()
	receipt, err := tn.send(t, from, txType, value, payload)
	require.NoError(t, err, "%s", txType)
	return receipt
}

func (tn *testNode) balance(t *testing.T, addr crypto.Address) *big.Int {
	t.Helper()
	acc, err := tn.node.Account(addr)
	require.NoError(t, err)
	return acc.Balance.ToBig()
}

func (tn *testNode) stake(t *testing.T, who *testAccount, amount string) {
	t.Helper()
	tn.mustSend(t, who, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: amount})
	tn.mustSend(t, who, types.TxTypeApprove, nil, types.ApprovePayload{Spender: tn.node.PoolAddress(), Amount: amount})
	tn.mustSend(t, who, types.TxTypeStake, nil, types.AmountPayload{Amount: amount})
}

func TestNewNodeRequiresGenesis(t *testing.T) {
	_, err := NewNode(storage.NewMemDB(), Options{Params: borrower.DefaultParams()})
	require.ErrorIs(t, err, ErrNotInitialised)
}

func TestLendBorrowRepayWithdraw(t *testing.T) {
	tn := newTestNode(t, nil)

	receipt := tn.mustSend(t, tn.bob, types.TxTypeDeposit, ether(10), nil)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, events.TypeLenderDeposited, receipt.Events[0].Type)
	require.Equal(t, ether(90), tn.balance(t, tn.bob.addr))
	require.Equal(t, ether(11), tn.balance(t, escrow.PoolAddress))

	tn.stake(t, tn.alice, "15000")
	receipt = tn.mustSend(t, tn.alice, types.TxTypeBorrow, nil, types.BorrowPayload{CollateralTokens: "15000", DurationSeconds: 86_400})
	loan, ok := receipt.Result.(*borrower.Loan)
	require.True(t, ok)
	require.Equal(t, uint64(10_000), loan.Principal.Uint64())
	require.Equal(t, uint64(10_500), loan.Repayment.Uint64())

	view, err := tn.node.Borrower(tn.alice.addr)
	require.NoError(t, err)
	require.Equal(t, borrower.StatusBorrowing, view.Status)

	tn.mustSend(t, tn.alice, types.TxTypeRepay, big.NewInt(10_500), nil)
	view, err = tn.node.Borrower(tn.alice.addr)
	require.NoError(t, err)
	require.Equal(t, borrower.StatusStaked, view.Status)

	tn.clock.now = tn.clock.now.Add(lender.SecondsPerYear * time.Second)
	interest, err := tn.node.InterestGained(tn.bob.addr)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Div(ether(1), big.NewInt(2)), interest.ToBig())

	receipt = tn.mustSend(t, tn.bob, types.TxTypeWithdraw, nil, nil)
	result, ok := receipt.Result.(*lender.WithdrawResult)
	require.True(t, ok)
	require.Equal(t, new(big.Int).Add(ether(10), interest.ToBig()), result.Payout.ToBig())
	require.Equal(t, new(big.Int).Add(ether(100), interest.ToBig()), tn.balance(t, tn.bob.addr))

	stats, err := tn.node.Stats()
	require.NoError(t, err)
	require.True(t, stats.LenderPrincipal.IsZero())
	require.Equal(t, uint64(500), stats.FeesCollected.Uint64())

	published := tn.published.Types()
	require.Contains(t, published, events.TypeBorrowerRepaid)
	require.Equal(t, events.TypeLenderWithdrawn, published[len(published)-1])
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	tn := newTestNode(t, nil)
	tn.mustSend(t, tn.alice, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: "100"})
	before := tn.balance(t, tn.alice.addr)
	publishedBefore := len(tn.published.Types())

	_, err := tn.send(t, tn.alice, types.TxTypeBorrow, nil, types.BorrowPayload{CollateralTokens: "100", DurationSeconds: 10})
	require.ErrorIs(t, err, nativecommon.ErrInsufficientStake)

	_, err = tn.send(t, tn.alice, types.TxTypeRepay, big.NewInt(5), nil)
	require.ErrorIs(t, err, nativecommon.ErrNoActiveLoan)
	require.Equal(t, before, tn.balance(t, tn.alice.addr), "value of a failed call must stay with the sender")
	require.Equal(t, publishedBefore, len(tn.published.Types()), "failed calls publish no events")

	acc, err := tn.node.Account(tn.alice.addr)
	require.NoError(t, err)
	require.Equal(t, tn.alice.nonce, acc.Nonce, "failed calls still consume their nonce")
}

func TestStakeWithoutAllowanceRollsBack(t *testing.T) {
	tn := newTestNode(t, nil)
	tn.mustSend(t, tn.alice, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: "100"})
	_, err := tn.send(t, tn.alice, types.TxTypeStake, nil, types.AmountPayload{Amount: "50"})
	require.ErrorIs(t, err, nativecommon.ErrInsufficientAllowance)

	bal, err := tn.node.BalanceOf(tn.alice.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bal.Uint64())
	custody, err := tn.node.BalanceOf(tn.node.CustodyAddress())
	require.NoError(t, err)
	require.True(t, custody.IsZero())
}

func TestReplayAndChainChecks(t *testing.T) {
	tn := newTestNode(t, nil)
	tx := tn.tx(t, tn.alice, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: "1"})
	_, err := tn.node.ApplyTransaction(context.Background(), tx)
	require.NoError(t, err)

	replay := &types.Transaction{ChainID: tx.ChainID, Type: tx.Type, Nonce: tx.Nonce, Data: tx.Data, R: tx.R, S: tx.S, V: tx.V}
	_, err = tn.node.ApplyTransaction(context.Background(), replay)
	require.ErrorIs(t, err, ErrNonceMismatch)

	wrongChain := &types.Transaction{ChainID: testChainID + 1, Type: types.TxTypeGetTokens, Nonce: 1}
	require.NoError(t, wrongChain.SetPayload(types.AmountPayload{Amount: "1"}))
	require.NoError(t, wrongChain.Sign(tn.alice.key.PrivateKey))
	_, err = tn.node.ApplyTransaction(context.Background(), wrongChain)
	require.ErrorIs(t, err, ErrChainIDMismatch)

	unknown := &types.Transaction{ChainID: testChainID, Type: types.TxType(0x7f), Nonce: 1}
	require.NoError(t, unknown.Sign(tn.alice.key.PrivateKey))
	_, err = tn.node.ApplyTransaction(context.Background(), unknown)
	require.ErrorIs(t, err, ErrUnknownTxType)

	unsigned := &types.Transaction{ChainID: testChainID, Type: types.TxTypeWithdraw, Nonce: 1}
	_, err = tn.node.ApplyTransaction(context.Background(), unsigned)
	require.Error(t, err)

	acc, err := tn.node.Account(tn.alice.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1), acc.Nonce, "rejected envelopes must not consume a nonce")
}

func TestValueOnlyForPayableCalls(t *testing.T) {
	tn := newTestNode(t, nil)
	before := tn.balance(t, tn.alice.addr)
	_, err := tn.send(t, tn.alice, types.TxTypeGetTokens, big.NewInt(1), types.AmountPayload{Amount: "5"})
	require.ErrorIs(t, err, nativecommon.ErrInvalidAmount)
	require.Equal(t, before, tn.balance(t, tn.alice.addr))

	_, err = tn.send(t, tn.alice, types.TxTypeDeposit, ether(1000), nil)
	require.ErrorIs(t, err, nativecommon.ErrInsufficientBalance)
}

func TestDefaultThroughNode(t *testing.T) {
	tn := newTestNode(t, nil)
	tn.stake(t, tn.alice, "3000")
	receipt := tn.mustSend(t, tn.alice, types.TxTypeBorrow, nil, types.BorrowPayload{CollateralTokens: "1500", DurationSeconds: 60})
	loan := receipt.Result.(*borrower.Loan)

	_, err := tn.send(t, tn.carol, types.TxTypeClaimCollateral, nil, types.ClaimCollateralPayload{Borrower: tn.alice.addr})
	require.ErrorIs(t, err, nativecommon.ErrLoanNotExpired)

	tn.clock.now = time.Unix(int64(loan.Due)+1, 0)
	tn.mustSend(t, tn.carol, types.TxTypeClaimCollateral, nil, types.ClaimCollateralPayload{Borrower: tn.alice.addr})

	ownerTokens, err := tn.node.BalanceOf(tn.owner.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3000), ownerTokens.Uint64())

	_, err = tn.send(t, tn.alice, types.TxTypeRepay, loan.Repayment.ToBig(), nil)
	require.ErrorIs(t, err, nativecommon.ErrNoActiveLoan)
}

func TestClockNeverRunsBackwards(t *testing.T) {
	tn := newTestNode(t, nil)
	first := tn.mustSend(t, tn.alice, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: "1"})
	tn.clock.now = tn.clock.now.Add(-time.Hour)
	second := tn.mustSend(t, tn.alice, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: "1"})
	require.GreaterOrEqual(t, second.Timestamp, first.Timestamp)
}

func TestSetInterestRateOwnerOnly(t *testing.T) {
	tn := newTestNode(t, nil)
	_, err := tn.send(t, tn.alice, types.TxTypeSetInterestRate, nil, types.InterestRatePayload{RateBps: 1})
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	tn.mustSend(t, tn.owner, types.TxTypeSetInterestRate, nil, types.InterestRatePayload{RateBps: 20_000})
	rate, err := tn.node.InterestRate()
	require.NoError(t, err)
	require.Equal(t, uint64(20_000), rate)
}

func TestPausedLedger(t *testing.T) {
	tn := newTestNode(t, nativecommon.StaticPauses{"lender": true})
	_, err := tn.send(t, tn.bob, types.TxTypeDeposit, ether(1), nil)
	require.True(t, errors.Is(err, nativecommon.ErrModulePaused))
	tn.mustSend(t, tn.alice, types.TxTypeGetTokens, nil, types.AmountPayload{Amount: "1"})
}

func TestSolvencyAfterGenesis(t *testing.T) {
	tn := newTestNode(t, nil)
	report, err := tn.node.Solvency()
	require.NoError(t, err)
	require.True(t, report.Covered)
	require.Equal(t, oneEther, report.PoolBalance.ToBig())
	require.True(t, report.Liabilities.IsZero())
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount("1000000000000000000000")
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", v.Dec())

	for _, bad := range []string{"", "-1", "1.5", "0x10", "abc"} {
		_, err := ParseAmount(bad)
		require.ErrorIs(t, err, nativecommon.ErrInvalidAmount, bad)
	}
}
