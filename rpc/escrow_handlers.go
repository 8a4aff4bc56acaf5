package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"

	"stakeescrow/core"
	"stakeescrow/core/types"
	"stakeescrow/crypto"
	"stakeescrow/indexer"
	nativecommon "stakeescrow/native/common"
)

var gwei = big.NewInt(1_000_000_000)

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"escrow_sendTransaction": s.handleSendTransaction,
		"escrow_getAccount":      s.addressQuery(func(addr crypto.Address) (interface{}, error) { return s.node.Account(addr) }),
		"escrow_getLender":       s.addressQuery(func(addr crypto.Address) (interface{}, error) { return s.node.Lender(addr) }),
		"escrow_interestGained":  s.addressQuery(func(addr crypto.Address) (interface{}, error) { return s.node.InterestGained(addr) }),
		"escrow_getBorrower":     s.addressQuery(func(addr crypto.Address) (interface{}, error) { return s.node.Borrower(addr) }),
		"escrow_balanceOf":       s.addressQuery(func(addr crypto.Address) (interface{}, error) { return s.node.BalanceOf(addr) }),
		"escrow_allowance":       s.handleAllowance,
		"escrow_totalSupply":     s.noParams(func() (interface{}, error) { return s.node.TotalSupply() }),
		"escrow_interestRate":    s.noParams(func() (interface{}, error) { return s.node.InterestRate() }),
		"escrow_poolStats":       s.noParams(func() (interface{}, error) { return s.node.Stats() }),
		"escrow_solvency":        s.noParams(func() (interface{}, error) { return s.node.Solvency() }),
		"escrow_poolInfo":        s.noParams(s.poolInfo),
		"escrow_listEvents":      s.handleListEvents,
	}
}

func (s *Server) handleSendTransaction(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if len(req.Params) != 1 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "transaction parameter required"}
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid transaction format", Data: err.Error()}
	}
	from, err := tx.From()
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid transaction signature", Data: ErrorData{Kind: "InvalidSignature"}}
	}
	var valueGwei uint64
	if tx.Value != nil && tx.Value.Sign() > 0 {
		scaled := new(big.Int).Quo(tx.Value, gwei)
		if scaled.IsUint64() {
			valueGwei = scaled.Uint64()
		} else {
			valueGwei = ^uint64(0)
		}
	}
	if err := s.allowSender(from, valueGwei); err != nil {
		reason := "requests"
		if errors.Is(err, nativecommon.ErrQuotaValueExceeded) {
			reason = "value"
		}
		s.metrics.RecordThrottle(reason)
		return nil, &RPCError{Code: codeRateLimited, Message: err.Error(), Data: ErrorData{Kind: "RateLimited"}}
	}

	receipt, err := s.node.ApplyTransaction(ctx, &tx)
	if err != nil {
		return nil, s.txError(ctx, err)
	}
	return receipt, nil
}

func (s *Server) txError(ctx context.Context, err error) *RPCError {
	kind := core.ErrorKind(err)
	if kind == "Internal" {
		s.logger.Error("transaction failed",
			slog.String("request_id", requestIDFrom(ctx)),
			slog.String("error", err.Error()))
		return &RPCError{Code: codeServerError, Message: "internal error", Data: ErrorData{Kind: kind}}
	}
	return &RPCError{Code: codeTxRejected, Message: err.Error(), Data: ErrorData{Kind: kind}}
}

func (s *Server) addressQuery(fn func(crypto.Address) (interface{}, error)) handlerFunc {
	return func(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
		if len(req.Params) != 1 {
			return nil, &RPCError{Code: codeInvalidParams, Message: "address parameter required"}
		}
		addr, err := parseAddressParam(req.Params[0])
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: ErrorData{Kind: "InvalidAddress"}}
		}
		result, err := fn(addr)
		if err != nil {
			return nil, s.txError(ctx, err)
		}
		return result, nil
	}
}

func (s *Server) noParams(fn func() (interface{}, error)) handlerFunc {
	return func(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
		if len(req.Params) != 0 {
			return nil, &RPCError{Code: codeInvalidParams, Message: "method takes no parameters"}
		}
		result, err := fn()
		if err != nil {
			return nil, s.txError(ctx, err)
		}
		return result, nil
	}
}

func (s *Server) handleAllowance(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if len(req.Params) != 2 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "owner and spender parameters required"}
	}
	owner, err := parseAddressParam(req.Params[0])
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: ErrorData{Kind: "InvalidAddress"}}
	}
	spender, err := parseAddressParam(req.Params[1])
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: ErrorData{Kind: "InvalidAddress"}}
	}
	allowance, err := s.node.Allowance(owner, spender)
	if err != nil {
		return nil, s.txError(ctx, err)
	}
	return allowance, nil
}

func (s *Server) poolInfo() (interface{}, error) {
	rate, err := s.node.InterestRate()
	if err != nil {
		return nil, err
	}
	account, err := s.node.Account(s.node.PoolAddress())
	if err != nil {
		return nil, err
	}
	params := s.node.Params()
	return &PoolInfo{
		ChainID:            s.node.ChainID(),
		Owner:              s.node.Owner(),
		Pool:               s.node.PoolAddress(),
		Custody:            s.node.CustodyAddress(),
		PoolBalance:        account.Balance.Dec(),
		InterestRateBps:    rate,
		CollateralRatioBps: params.CollateralRatioBps,
		LoanFeeBps:         params.LoanFeeBps,
		MaxDurationSeconds: params.MaxDurationSeconds,
	}, nil
}

func (s *Server) handleListEvents(ctx context.Context, req *RPCRequest) (interface{}, *RPCError) {
	if s.cfg.Events == nil {
		return nil, &RPCError{Code: codeMethodNotFound, Message: "event index disabled"}
	}
	var q indexer.Query
	if len(req.Params) > 1 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "at most one filter object allowed"}
	}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &q); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "invalid filter", Data: err.Error()}
		}
	}
	if q.Account != "" {
		if _, err := crypto.DecodeAddress(q.Account); err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: err.Error(), Data: ErrorData{Kind: "InvalidAddress"}}
		}
	}
	entries, err := s.cfg.Events.List(ctx, q)
	if err != nil {
		return nil, s.txError(ctx, err)
	}
	return entries, nil
}
