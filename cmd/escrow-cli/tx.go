package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
	"stakeescrow/rpc"
)

// txBuilder produces the payload and attached value of a transaction once the
// flags have been parsed.
type txBuilder func(ctx context.Context, client *rpc.Client, sender crypto.Address) (payload interface{}, value *big.Int, err error)

type txSpec struct {
	txType types.TxType
	setup  func(fs *flag.FlagSet) txBuilder
}

var txCommands = map[string]txSpec{
	"get-tokens": {types.TxTypeGetTokens, amountBuilder("amount", "Tokens to mint")},
	"deposit":    {types.TxTypeDeposit, valueBuilder("Native amount to lend, e.g. 10e18")},
	"withdraw":   {types.TxTypeWithdraw, noArgs},
	"approve": {types.TxTypeApprove, func(fs *flag.FlagSet) txBuilder {
		spender := fs.String("spender", "", "Address allowed to spend (defaults to the pool)")
		amount := fs.String("amount", "", "Allowance in token base units")
		return func(ctx context.Context, client *rpc.Client, _ crypto.Address) (interface{}, *big.Int, error) {
			amt, err := normalizeAmount(*amount, true)
			if err != nil {
				return nil, nil, err
			}
			addr, err := spenderOrPool(ctx, client, *spender)
			if err != nil {
				return nil, nil, err
			}
			return types.ApprovePayload{Spender: addr, Amount: amt}, nil, nil
		}
	}},
	"transfer": {types.TxTypeTransfer, func(fs *flag.FlagSet) txBuilder {
		to := fs.String("to", "", "Recipient address")
		amount := fs.String("amount", "", "Tokens to transfer")
		return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
			addr, err := parseAddressFlag("--to", *to)
			if err != nil {
				return nil, nil, err
			}
			amt, err := normalizeAmount(*amount, false)
			if err != nil {
				return nil, nil, err
			}
			return types.TransferPayload{To: addr, Amount: amt}, nil, nil
		}
	}},
	"stake":   {types.TxTypeStake, amountBuilder("amount", "Tokens to stake (requires an allowance for the pool)")},
	"unstake": {types.TxTypeUnstake, amountBuilder("amount", "Free staked tokens to release")},
	"borrow": {types.TxTypeBorrow, func(fs *flag.FlagSet) txBuilder {
		collateral := fs.String("collateral", "", "Staked tokens to lock as collateral")
		duration := fs.String("duration", "", "Loan duration in seconds or as a Go duration such as 72h")
		return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
			amt, err := normalizeAmount(*collateral, false)
			if err != nil {
				return nil, nil, fmt.Errorf("--collateral: %w", err)
			}
			secs, err := parseDurationSeconds(*duration)
			if err != nil {
				return nil, nil, err
			}
			return types.BorrowPayload{CollateralTokens: amt, DurationSeconds: secs}, nil, nil
		}
	}},
	"repay": {types.TxTypeRepay, func(fs *flag.FlagSet) txBuilder {
		value := fs.String("value", "", "Native amount to send (defaults to the outstanding repayment)")
		return func(ctx context.Context, client *rpc.Client, sender crypto.Address) (interface{}, *big.Int, error) {
			if strings.TrimSpace(*value) != "" {
				v, err := parseValue(*value)
				return nil, v, err
			}
			var view struct {
				Active          bool         `json:"active"`
				RepaymentAmount *uint256.Int `json:"repaymentAmount"`
			}
			if err := client.Call(ctx, "escrow_getBorrower", &view, sender.String()); err != nil {
				return nil, nil, err
			}
			if !view.Active || view.RepaymentAmount == nil {
				return nil, nil, fmt.Errorf("no active loan for %s", sender)
			}
			return nil, view.RepaymentAmount.ToBig(), nil
		}
	}},
	"claim-collateral": {types.TxTypeClaimCollateral, func(fs *flag.FlagSet) txBuilder {
		who := fs.String("borrower", "", "Defaulted borrower address")
		return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
			addr, err := parseAddressFlag("--borrower", *who)
			if err != nil {
				return nil, nil, err
			}
			return types.ClaimCollateralPayload{Borrower: addr}, nil, nil
		}
	}},
	"set-rate": {types.TxTypeSetInterestRate, func(fs *flag.FlagSet) txBuilder {
		bps := fs.Uint64("bps", 0, "Yearly lender interest rate in basis points")
		return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
			return types.InterestRatePayload{RateBps: *bps}, nil, nil
		}
	}},
}

func noArgs(*flag.FlagSet) txBuilder {
	return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
		return nil, nil, nil
	}
}

func amountBuilder(name, help string) func(fs *flag.FlagSet) txBuilder {
	return func(fs *flag.FlagSet) txBuilder {
		amount := fs.String(name, "", help)
		return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
			amt, err := normalizeAmount(*amount, false)
			if err != nil {
				return nil, nil, fmt.Errorf("--%s: %w", name, err)
			}
			return types.AmountPayload{Amount: amt}, nil, nil
		}
	}
}

func valueBuilder(help string) func(fs *flag.FlagSet) txBuilder {
	return func(fs *flag.FlagSet) txBuilder {
		value := fs.String("value", "", help)
		return func(context.Context, *rpc.Client, crypto.Address) (interface{}, *big.Int, error) {
			v, err := parseValue(*value)
			return nil, v, err
		}
	}
}

func runTxCommand(name string, spec txSpec, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	keyPath := fs.String("key", "wallet.keystore", "Keystore that signs the transaction")
	build := spec.setup(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, fmt.Sprintf("unexpected arguments: %s", strings.Join(fs.Args(), " ")))
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	sender := key.PubKey().Address()

	ctx, cancel := callContext()
	defer cancel()
	client := newClient()
	payload, value, err := build(ctx, client, sender)
	if err != nil {
		return handleBuildError(stderr, err)
	}
	receipt, err := sendTx(ctx, client, key, spec.txType, payload, value)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, receipt)
	return 0
}

// sendTx fills in the chain id and nonce, signs and submits the transaction.
func sendTx(ctx context.Context, client *rpc.Client, key *crypto.PrivateKey, txType types.TxType, payload interface{}, value *big.Int) (json.RawMessage, error) {
	info, err := client.PoolInfo(ctx)
	if err != nil {
		return nil, err
	}
	account, err := client.Account(ctx, key.PubKey().Address())
	if err != nil {
		return nil, err
	}
	tx := &types.Transaction{
		ChainID: info.ChainID,
		Type:    txType,
		Nonce:   account.Nonce,
		Value:   value,
	}
	if err := tx.SetPayload(payload); err != nil {
		return nil, err
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return client.SendTransaction(ctx, tx)
}

func handleBuildError(w io.Writer, err error) int {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		return handleCallError(w, err)
	}
	return printError(w, err.Error())
}

func spenderOrPool(ctx context.Context, client *rpc.Client, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) != "" {
		return parseAddressFlag("--spender", raw)
	}
	info, err := client.PoolInfo(ctx)
	if err != nil {
		return crypto.Address{}, err
	}
	return info.Pool, nil
}

func parseAddressFlag(name, raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s is required", name)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func parseValue(raw string) (*big.Int, error) {
	digits, err := normalizeAmount(raw, false)
	if err != nil {
		return nil, fmt.Errorf("--value: %w", err)
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("--value: invalid amount")
	}
	return value, nil
}

func parseDurationSeconds(raw string) (uint64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("--duration is required")
	}
	if secs, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
		if secs == 0 {
			return 0, fmt.Errorf("--duration must be positive")
		}
		return secs, nil
	}
	d, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("--duration: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("--duration must be positive")
	}
	return uint64(d.Seconds()), nil
}

// normalizeAmount converts a decimal amount, optionally in scientific
// notation such as 1.5e18, into a string of base units. allowZero permits
// "0", which approve uses to revoke an allowance.
func normalizeAmount(value string, allowZero bool) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil {
			return "", fmt.Errorf("invalid scientific notation")
		}
		exponent = int(expValue)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return "", fmt.Errorf("amount must not be negative")
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("invalid amount format")
	}
	fractional := ""
	if len(parts) == 2 {
		fractional = parts[1]
	}
	digits := parts[0] + fractional
	if digits == "" || !isDigits(digits) {
		return "", fmt.Errorf("invalid amount format")
	}
	digits = strings.TrimLeft(digits, "0")
	fracLen := len(fractional)
	for fracLen > 0 && len(digits) > 0 && digits[len(digits)-1] == '0' {
		digits = digits[:len(digits)-1]
		fracLen--
	}
	if digits == "" {
		if allowZero {
			return "0", nil
		}
		return "", fmt.Errorf("amount must be positive")
	}
	total := exponent - fracLen
	if total < 0 {
		return "", fmt.Errorf("amount must be a whole number of base units")
	}
	return digits + strings.Repeat("0", total), nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
