package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"FansDFS/internal/ledger"
)

// Config describes how to reach the ledger gateway. The gateway is a relayer
// service exposing account, call and view operations over JSON-RPC; it owns
// transaction signing so no private key material passes through this process.
type Config struct {
	RPCURL      string
	CallTimeout time.Duration
	ViewRetries int
}

// Client implements ledger.Client against a JSON-RPC gateway endpoint.
type Client struct {
	rpc         *gethrpc.Client
	callTimeout time.Duration
	viewRetries int
}

// callResponse mirrors the gateway's execution outcome shape. Status carries
// exactly one key; "SuccessValue" marks success.
type callResponse struct {
	Status      map[string]json.RawMessage `json:"status"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (r callResponse) outcome() ledger.Outcome {
	_, ok := r.Status["SuccessValue"]
	return ledger.Outcome{
		Success:         ok,
		TransactionHash: r.Transaction.Hash,
		Value:           r.Result,
	}
}

// NewClient dials the configured gateway endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置账本网关 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接账本网关失败: %w", err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.ViewRetries
	if retries <= 0 {
		retries = 3
	}

	return &Client{rpc: rpcClient, callTimeout: timeout, viewRetries: retries}, nil
}

// GenerateKey requests a fresh ed25519 key pair from the gateway.
func (c *Client) GenerateKey(ctx context.Context) (ledger.KeyPair, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var pair ledger.KeyPair
	if err := c.rpc.CallContext(callCtx, &pair, "dfs_generateKey"); err != nil {
		return ledger.KeyPair{}, fmt.Errorf("生成密钥对失败: %w", err)
	}
	if pair.PublicKey == "" {
		return ledger.KeyPair{}, errors.New("网关返回了空公钥")
	}
	return pair, nil
}

// CreateAccount provisions a funded sub-account. Balances travel as decimal
// strings because yocto amounts exceed uint64.
func (c *Client) CreateAccount(ctx context.Context, accountID, publicKey string, initialBalance *big.Int) (ledger.Outcome, error) {
	if strings.TrimSpace(accountID) == "" {
		return ledger.Outcome{}, errors.New("账户名不能为空")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var resp callResponse
	err := c.rpc.CallContext(callCtx, &resp, "dfs_createAccount", map[string]any{
		"account_id":      accountID,
		"public_key":      publicKey,
		"initial_balance": bigToString(initialBalance),
	})
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("创建账户失败: %w", err)
	}
	return resp.outcome(), nil
}

// Call submits a state-changing contract call. Mutations are never retried
// here: a timed-out mint or transfer must not be replayed.
func (c *Client) Call(ctx context.Context, contractID, method string, args any, gas uint64, deposit *big.Int) (ledger.Outcome, error) {
	if strings.TrimSpace(contractID) == "" || strings.TrimSpace(method) == "" {
		return ledger.Outcome{}, errors.New("合约地址与方法名不能为空")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	var resp callResponse
	err := c.rpc.CallContext(callCtx, &resp, "dfs_call", map[string]any{
		"contract_id": contractID,
		"method_name": method,
		"args":        args,
		"gas":         gas,
		"deposit":     bigToString(deposit),
	})
	if err != nil {
		return ledger.Outcome{}, fmt.Errorf("合约调用 %s 失败: %w", method, err)
	}
	return resp.outcome(), nil
}

// View runs a read-only query, retrying transient failures up to the
// configured count with a short backoff.
func (c *Client) View(ctx context.Context, contractID, method string, args any) (json.RawMessage, error) {
	if strings.TrimSpace(contractID) == "" || strings.TrimSpace(method) == "" {
		return nil, errors.New("合约地址与方法名不能为空")
	}

	var lastErr error
	for attempt := 0; attempt < c.viewRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		var result json.RawMessage
		err := c.rpc.CallContext(callCtx, &result, "dfs_view", map[string]any{
			"contract_id": contractID,
			"method_name": method,
			"args":        args,
		})
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("视图查询 %s 失败: %w", method, lastErr)
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c == nil || c.rpc == nil {
		return
	}
	c.rpc.Close()
	c.rpc = nil
}

func bigToString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
