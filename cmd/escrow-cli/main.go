package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stakeescrow/rpc"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("ESCROW_RPC_TOKEN"))

	// newClient is swapped out by tests.
	newClient = func() *rpc.Client { return rpc.NewClient(rpcEndpoint, rpcAuthToken) }
)

const callTimeout = 30 * time.Second

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return runKeygen(rest, stdout, stderr)
	case "address":
		return runAddress(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	}
	if spec, ok := txCommands[cmd]; ok {
		return runTxCommand(cmd, spec, rest, stdout, stderr)
	}
	if spec, ok := queryCommands[cmd]; ok {
		return runQueryCommand(cmd, spec, rest, stdout, stderr)
	}
	fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
	fmt.Fprintln(stderr, usage())
	return 1
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("ESCROW_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			if arg == "--rpc" {
				rpcEndpoint = args[i+1]
			} else {
				rpcAuthToken = args[i+1]
			}
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			rpcAuthToken = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleCallError(w io.Writer, err error) int {
	var rpcErr *rpc.RPCError
	if errors.As(err, &rpcErr) {
		if kind := rpcErr.Kind(); kind != "" {
			fmt.Fprintf(w, "RPC error %d (%s): %s\n", rpcErr.Code, kind, rpcErr.Message)
		} else {
			fmt.Fprintf(w, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		}
		return 1
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	if _, err := w.Write(result); err == nil {
		if result[len(result)-1] != '\n' {
			fmt.Fprintln(w)
		}
	}
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func usage() string {
	return strings.TrimSpace(`Usage:
  escrow-cli [--rpc URL] [--token JWT] <command> [flags]

Keys:
  keygen            Create an encrypted keystore
  address           Print the address held by a keystore

Transactions (require --key):
  get-tokens        Mint platform tokens to yourself
  deposit           Lend native currency to the pool
  withdraw          Withdraw principal plus interest
  approve           Set a token allowance
  transfer          Transfer platform tokens
  stake             Stake platform tokens as collateral
  unstake           Release free staked tokens
  borrow            Borrow against staked tokens
  repay             Repay the active loan
  claim-collateral  Seize the stake of a defaulted borrower
  set-rate          Set the lender interest rate (owner only)

Queries:
  account, lender, borrower, balance, allowance, supply, rate,
  stats, solvency, pool, events
`)
}
