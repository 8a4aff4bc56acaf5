package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"stakeescrow/indexer"
)

// querySpec registers the flags of a read-only command and returns a func
// yielding the RPC method and its params.
type querySpec func(fs *flag.FlagSet) func() (method string, params []interface{}, err error)

var queryCommands = map[string]querySpec{
	"account":  addressQuery("escrow_getAccount"),
	"lender":   addressQuery("escrow_getLender"),
	"borrower": addressQuery("escrow_getBorrower"),
	"balance":  addressQuery("escrow_balanceOf"),
	"allowance": func(fs *flag.FlagSet) func() (string, []interface{}, error) {
		owner := fs.String("owner", "", "Token owner")
		spender := fs.String("spender", "", "Spender")
		return func() (string, []interface{}, error) {
			o, err := parseAddressFlag("--owner", *owner)
			if err != nil {
				return "", nil, err
			}
			s, err := parseAddressFlag("--spender", *spender)
			if err != nil {
				return "", nil, err
			}
			return "escrow_allowance", []interface{}{o.String(), s.String()}, nil
		}
	},
	"supply":   staticQuery("escrow_totalSupply"),
	"rate":     staticQuery("escrow_interestRate"),
	"stats":    staticQuery("escrow_poolStats"),
	"solvency": staticQuery("escrow_solvency"),
	"pool":     staticQuery("escrow_poolInfo"),
	"events": func(fs *flag.FlagSet) func() (string, []interface{}, error) {
		account := fs.String("account", "", "Only events touching this address")
		eventType := fs.String("type", "", "Only events of this type, e.g. lender.deposited")
		after := fs.Uint64("after", 0, "Only events with a larger id")
		limit := fs.Int("limit", 0, "Maximum number of events")
		return func() (string, []interface{}, error) {
			q := indexer.Query{
				Account: strings.TrimSpace(*account),
				Type:    strings.TrimSpace(*eventType),
				AfterID: *after,
				Limit:   *limit,
			}
			if q.Account != "" {
				if _, err := parseAddressFlag("--account", q.Account); err != nil {
					return "", nil, err
				}
			}
			return "escrow_listEvents", []interface{}{q}, nil
		}
	},
}

func addressQuery(method string) querySpec {
	return func(fs *flag.FlagSet) func() (string, []interface{}, error) {
		address := fs.String("address", "", "Address to query")
		return func() (string, []interface{}, error) {
			addr, err := parseAddressFlag("--address", *address)
			if err != nil {
				return "", nil, err
			}
			return method, []interface{}{addr.String()}, nil
		}
	}
}

func staticQuery(method string) querySpec {
	return func(*flag.FlagSet) func() (string, []interface{}, error) {
		return func() (string, []interface{}, error) { return method, nil, nil }
	}
}

func runQueryCommand(name string, spec querySpec, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(name, stderr)
	build := spec(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printError(stderr, fmt.Sprintf("unexpected arguments: %s", strings.Join(fs.Args(), " ")))
	}
	method, params, err := build()
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := callContext()
	defer cancel()
	var result json.RawMessage
	if err := newClient().Call(ctx, method, &result, params...); err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, result)
	return 0
}
