package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"stakeescrow/crypto"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeTxRejected     = -32010
	codeRateLimited    = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	if kind := e.Kind(); kind != "" {
		return fmt.Sprintf("rpc error %d (%s): %s", e.Code, kind, e.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Kind returns the failure kind carried in Data, if any.
func (e *RPCError) Kind() string {
	if e == nil {
		return ""
	}
	switch data := e.Data.(type) {
	case ErrorData:
		return data.Kind
	case *ErrorData:
		return data.Kind
	case map[string]interface{}:
		if kind, ok := data["kind"].(string); ok {
			return kind
		}
	}
	return ""
}

// ErrorData is attached to errors raised by the escrow itself.
type ErrorData struct {
	Kind      string `json:"kind"`
	RequestID string `json:"requestId,omitempty"`
}

// PoolInfo describes the module accounts and the current loan terms.
type PoolInfo struct {
	ChainID            uint64         `json:"chainId"`
	Owner              crypto.Address `json:"owner"`
	Pool               crypto.Address `json:"pool"`
	Custody            crypto.Address `json:"custody"`
	PoolBalance        string         `json:"poolBalance"`
	InterestRateBps    uint64         `json:"interestRateBps"`
	CollateralRatioBps uint64         `json:"collateralRatioBps"`
	LoanFeeBps         uint64         `json:"loanFeeBps"`
	MaxDurationSeconds uint64         `json:"maxDurationSeconds,omitempty"`
}

func parseAddressParam(raw json.RawMessage) (crypto.Address, error) {
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return crypto.Address{}, fmt.Errorf("address parameter must be a string")
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q: %w", value, err)
	}
	return addr, nil
}
