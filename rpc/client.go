package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"stakeescrow/core/types"
	"stakeescrow/crypto"
)

// Client is a minimal JSON-RPC client for the escrow daemon.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Uint64
}

// NewClient returns a client for endpoint. token, when set, is sent as a
// bearer credential.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/") + "/",
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and decodes the result into out. Errors returned by the
// server are *RPCError values.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	rawParams := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		rawParams = append(rawParams, raw)
	}
	body, err := json.Marshal(RPCRequest{
		JSONRPC: jsonRPCVersion,
		Method:  method,
		Params:  rawParams,
		ID:      c.nextID.Add(1),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}
	var decoded RPCResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("%s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Account fetches the native account of addr.
func (c *Client) Account(ctx context.Context, addr crypto.Address) (*types.Account, error) {
	var account types.Account
	if err := c.Call(ctx, "escrow_getAccount", &account, addr.String()); err != nil {
		return nil, err
	}
	return &account, nil
}

// SendTransaction submits a signed transaction and returns the raw receipt.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (json.RawMessage, error) {
	var receipt json.RawMessage
	if err := c.Call(ctx, "escrow_sendTransaction", &receipt, tx); err != nil {
		return nil, err
	}
	return receipt, nil
}

// PoolInfo fetches the module accounts and loan terms.
func (c *Client) PoolInfo(ctx context.Context) (*PoolInfo, error) {
	var info PoolInfo
	if err := c.Call(ctx, "escrow_poolInfo", &info); err != nil {
		return nil, err
	}
	return &info, nil
}
