package gateway

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newGatewayServer runs a minimal JSON-RPC endpoint driven by a dispatch
// function returning (result, errorMessage).
func newGatewayServer(t *testing.T, dispatch func(req rpcRequest) (any, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, errMsg := dispatch(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if errMsg != "" {
			resp["error"] = map[string]any{"code": -32000, "message": errMsg}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, server *httptest.Server, retries int) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{
		RPCURL:      server.URL,
		CallTimeout: 5 * time.Second,
		ViewRetries: retries,
	})
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestGenerateKey(t *testing.T) {
	server := newGatewayServer(t, func(req rpcRequest) (any, string) {
		if req.Method != "dfs_generateKey" {
			return nil, "unexpected method " + req.Method
		}
		return map[string]string{"public_key": "ed25519:pub", "private_key": "ed25519:priv"}, ""
	})
	defer server.Close()

	client := newTestClient(t, server, 1)
	pair, err := client.GenerateKey(context.Background())
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if pair.PublicKey != "ed25519:pub" || pair.PrivateKey != "ed25519:priv" {
		t.Fatalf("unexpected key pair: %+v", pair)
	}
}

func TestCallParsesOutcome(t *testing.T) {
	server := newGatewayServer(t, func(req rpcRequest) (any, string) {
		if req.Method != "dfs_call" {
			return nil, "unexpected method " + req.Method
		}
		var params map[string]any
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			return nil, err.Error()
		}
		if params["method_name"] != "nft_mint" || params["deposit"] != "6370000000000000000000" {
			return nil, "unexpected params"
		}
		return map[string]any{
			"status":      map[string]any{"SuccessValue": ""},
			"transaction": map[string]any{"hash": "0xabc"},
			"result":      map[string]any{"token_id": "fan1"},
		}, ""
	})
	defer server.Close()

	client := newTestClient(t, server, 1)
	deposit, _ := new(big.Int).SetString("6370000000000000000000", 10)
	outcome, err := client.Call(context.Background(), "1000fans.testnet", "nft_mint",
		map[string]any{"token_owner_id": "alice.testnet"}, 30_000_000_000_000, deposit)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if !outcome.Success || outcome.TransactionHash != "0xabc" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if !strings.Contains(string(outcome.Value), "fan1") {
		t.Fatalf("unexpected value: %s", outcome.Value)
	}
}

func TestCallReportsFailureStatus(t *testing.T) {
	server := newGatewayServer(t, func(rpcRequest) (any, string) {
		return map[string]any{
			"status":      map[string]any{"Failure": map[string]any{"error_message": "deposit too low"}},
			"transaction": map[string]any{"hash": "0xdef"},
		}, ""
	})
	defer server.Close()

	client := newTestClient(t, server, 1)
	outcome, err := client.Call(context.Background(), "1000fans.testnet", "nft_mint", nil, 1, big.NewInt(1))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if outcome.Success {
		t.Fatal("failure status must not report success")
	}
}

func TestViewRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	server := newGatewayServer(t, func(req rpcRequest) (any, string) {
		if req.Method != "dfs_view" {
			return nil, "unexpected method " + req.Method
		}
		if calls.Add(1) == 1 {
			return nil, "temporarily unavailable"
		}
		return []map[string]string{{"token_id": "fan1"}}, ""
	})
	defer server.Close()

	client := newTestClient(t, server, 3)
	raw, err := client.View(context.Background(), "1000fans.testnet", "nft_tokens_for_owner",
		map[string]any{"account_id": "alice.testnet", "limit": 1})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected a retry, got %d calls", calls.Load())
	}
	if !strings.Contains(string(raw), "fan1") {
		t.Fatalf("unexpected result: %s", raw)
	}
}

func TestViewExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := newGatewayServer(t, func(rpcRequest) (any, string) {
		calls.Add(1)
		return nil, "still down"
	})
	defer server.Close()

	client := newTestClient(t, server, 2)
	_, err := client.View(context.Background(), "1000fans.testnet", "nft_tokens_for_owner", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}
}
