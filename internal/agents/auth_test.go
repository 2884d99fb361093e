package agents

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/ledger"
	"FansDFS/internal/session"
)

func TestAuthCheckAccessWithoutSigner(t *testing.T) {
	agent := NewAuthAgent(&stubLedger{}, AuthConfig{TokenContractID: "1000fans.testnet"})
	sess := session.New("t1")

	result := agent.Handle(context.Background(), command.New(command.VerbCheckAccess), sess)
	if result.Err == nil {
		t.Fatal("expected an error for unauthenticated signer")
	}
	if xerrors.CodeOf(result.Err) != xerrors.CodeNotAuthenticated {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(result.Err))
	}
	if !strings.Contains(result.Reply, "create wallet") {
		t.Fatalf("reply should point at wallet creation: %q", result.Reply)
	}
}

func TestAuthCheckAccessGrantsAndPatchesSession(t *testing.T) {
	led := &stubLedger{
		viewFn: func(_ context.Context, contractID, method string, args any) (json.RawMessage, error) {
			if contractID != "1000fans.testnet" || method != "nft_tokens_for_owner" {
				t.Fatalf("unexpected view %s.%s", contractID, method)
			}
			return json.RawMessage(`[{"token_id":"fan42"}]`), nil
		},
	}
	agent := NewAuthAgent(led, AuthConfig{TokenContractID: "1000fans.testnet"})
	sess := session.New("t1")

	cmd := command.New(command.VerbCheckAccess, command.ArgSignerID, "alice.testnet")
	result := agent.Handle(context.Background(), cmd, sess)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if !strings.Contains(result.Reply, "Access granted") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if result.Patch.AuthStatus == nil || !result.Patch.AuthStatus.Authorized {
		t.Fatalf("expected authorized patch, got %+v", result.Patch.AuthStatus)
	}
	if result.Patch.AuthStatus.TokenID != "fan42" {
		t.Fatalf("unexpected token id: %s", result.Patch.AuthStatus.TokenID)
	}

	found := false
	for _, att := range result.Patch.Attachments {
		if att.Filename == "auth_status.json" {
			found = true
		}
	}
	if !found {
		t.Fatal("auth_status.json attachment missing from patch")
	}
}

func TestAuthCheckAccessDeniedWithoutToken(t *testing.T) {
	led := &stubLedger{
		viewFn: func(context.Context, string, string, any) (json.RawMessage, error) {
			return json.RawMessage(`[]`), nil
		},
	}
	agent := NewAuthAgent(led, AuthConfig{TokenContractID: "1000fans.testnet"})

	cmd := command.New(command.VerbCheckAccess, command.ArgSignerID, "bob.testnet")
	result := agent.Handle(context.Background(), cmd, session.New("t1"))
	if !strings.Contains(result.Reply, "Access denied") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	if result.Patch.AuthStatus == nil || result.Patch.AuthStatus.Authorized {
		t.Fatalf("expected unauthorized patch, got %+v", result.Patch.AuthStatus)
	}
}

func TestAuthCreateWalletHandsOffToMinting(t *testing.T) {
	led := &stubLedger{
		generateKeyFn: func(context.Context) (ledger.KeyPair, error) {
			return ledger.KeyPair{PublicKey: "pub", PrivateKey: "priv"}, nil
		},
	}
	agent := NewAuthAgent(led, AuthConfig{TokenContractID: "1000fans.testnet", AccountSuffix: "1000fans.testnet"})

	result := agent.Handle(context.Background(), command.New(command.VerbCreateWallet), session.New("t1"))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.HandOff == nil || result.HandOff.Target != command.AgentNFT {
		t.Fatalf("expected hand-off to nft agent, got %+v", result.HandOff)
	}
	cmd := result.HandOff.Command
	if cmd.Verb != command.VerbMintToken {
		t.Fatalf("unexpected hand-off verb: %s", cmd.Verb)
	}
	if cmd.Arg(command.ArgFlow) != "create_wallet" || cmd.Arg(command.ArgPublicKey) != "pub" {
		t.Fatalf("hand-off args incomplete: %+v", cmd.Args)
	}
}

func TestAuthFinalizeWalletCreatesAccount(t *testing.T) {
	var createdAccount string
	var createdBalance *big.Int
	led := &stubLedger{
		createAccountFn: func(_ context.Context, accountID, publicKey string, balance *big.Int) (ledger.Outcome, error) {
			createdAccount = accountID
			createdBalance = balance
			return ledger.Outcome{Success: true, TransactionHash: "0xabc"}, nil
		},
		viewFn: func(context.Context, string, string, any) (json.RawMessage, error) {
			return json.RawMessage(`[]`), nil
		},
	}
	agent := NewAuthAgent(led, AuthConfig{TokenContractID: "1000fans.testnet", AccountSuffix: "1000fans.testnet"})

	cmd := command.New(command.VerbCreateWallet,
		command.ArgPhase, "finalize",
		command.ArgTokenID, "fan7",
		command.ArgPublicKey, "pub",
		command.ArgPrivateKey, "priv",
	)
	result := agent.Handle(context.Background(), cmd, session.New("t1"))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if createdAccount != "fan7.1000fans.testnet" {
		t.Fatalf("unexpected account id: %s", createdAccount)
	}
	if createdBalance == nil || createdBalance.Cmp(initialAccountBalance) != 0 {
		t.Fatalf("unexpected initial balance: %v", createdBalance)
	}
	if !strings.Contains(result.Reply, "Wallet created successfully!") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}

	var credentials []byte
	for _, att := range result.Patch.Attachments {
		if att.Filename == "wallet_credentials.json" {
			credentials = att.Bytes
		}
	}
	if credentials == nil {
		t.Fatal("wallet_credentials.json attachment missing")
	}
	var doc map[string]string
	if err := json.Unmarshal(credentials, &doc); err != nil {
		t.Fatalf("decode credentials: %v", err)
	}
	if doc["account_id"] != "fan7.1000fans.testnet" || doc["private_key"] != "priv" {
		t.Fatalf("unexpected credentials: %+v", doc)
	}
}

func TestAuthFinalizeWalletRequiresToken(t *testing.T) {
	agent := NewAuthAgent(&stubLedger{}, AuthConfig{AccountSuffix: "1000fans.testnet"})

	cmd := command.New(command.VerbCreateWallet, command.ArgPhase, "finalize")
	result := agent.Handle(context.Background(), cmd, session.New("t1"))
	if xerrors.CodeOf(result.Err) != xerrors.CodeMalformedCommandArgs {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(result.Err))
	}
}

func TestWalletCreationFailureLeavesSessionClean(t *testing.T) {
	led := &stubLedger{
		generateKeyFn: func(context.Context) (ledger.KeyPair, error) {
			return ledger.KeyPair{PublicKey: "pub", PrivateKey: "priv"}, nil
		},
		callFn: func(_ context.Context, _, method string, _ any, _ uint64, _ *big.Int) (ledger.Outcome, error) {
			if method != "nft_mint" {
				t.Fatalf("unexpected call: %s", method)
			}
			return ledger.Outcome{Success: true, Value: json.RawMessage(`{"token_id":"fan1"}`)}, nil
		},
		createAccountFn: func(context.Context, string, string, *big.Int) (ledger.Outcome, error) {
			return ledger.Outcome{}, errors.New("rpc timeout")
		},
	}
	authAgent := NewAuthAgent(led, AuthConfig{TokenContractID: "1000fans.testnet", AccountSuffix: "1000fans.testnet"})
	nftAgent := NewNFTAgent(led, NFTConfig{TokenContractID: "1000fans.testnet", CustodyAccountID: "theosis.testnet"})
	sess := session.New("t1")

	// 逐跳执行创建链，补丁在每跳之间生效，与编排器的行为一致。
	start := authAgent.Handle(context.Background(), command.New(command.VerbCreateWallet), sess)
	sess.Apply(start.Patch)
	if start.HandOff == nil || start.HandOff.Target != command.AgentNFT {
		t.Fatalf("expected hand-off to nft, got %+v", start.HandOff)
	}

	mint := nftAgent.Handle(context.Background(), start.HandOff.Command, sess)
	sess.Apply(mint.Patch)
	if mint.HandOff == nil || mint.HandOff.Target != command.AgentAuth {
		t.Fatalf("expected hand-off back to auth, got %+v", mint.HandOff)
	}

	finalize := authAgent.Handle(context.Background(), mint.HandOff.Command, sess)
	sess.Apply(finalize.Patch)
	if xerrors.CodeOf(finalize.Err) != xerrors.CodeLedgerCallFailed {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(finalize.Err))
	}
	if !strings.Contains(finalize.Reply, "Error creating wallet") {
		t.Fatalf("unexpected reply: %q", finalize.Reply)
	}

	// 收尾失败后会话必须保持未认证，前序步骤不得留下任何痕迹。
	if sess.AuthStatus != nil {
		t.Fatalf("failed chain must not authorize the session, got %+v", sess.AuthStatus)
	}
	if _, ok := sess.Attachment("auth_status.json"); ok {
		t.Fatal("failed chain must not write auth_status.json")
	}
	if _, ok := sess.Attachment("wallet_credentials.json"); ok {
		t.Fatal("failed chain must not write credentials")
	}
}
