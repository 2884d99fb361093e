package ledger

import (
	"context"
	"encoding/json"
	"math/big"
)

// KeyPair is a signing key pair issued by the gateway. Private keys are only
// ever surfaced to the user as thread credentials, never persisted server side.
type KeyPair struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// Outcome captures the result of a state-changing ledger call.
type Outcome struct {
	Success         bool            `json:"success"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	Value           json.RawMessage `json:"value,omitempty"`
}

// Client defines the common interface any ledger implementation must provide
// so the agent layer can interact with the chain without knowing the wire
// format. Signing and consensus stay behind the implementation.
type Client interface {
	// GenerateKey asks the gateway for a fresh signing key pair.
	GenerateKey(ctx context.Context) (KeyPair, error)
	// CreateAccount provisions a named account funded with initialBalance.
	CreateAccount(ctx context.Context, accountID, publicKey string, initialBalance *big.Int) (Outcome, error)
	// Call invokes a state-changing contract method. Never retried.
	Call(ctx context.Context, contractID, method string, args any, gas uint64, deposit *big.Int) (Outcome, error)
	// View invokes a read-only contract method. Safe to retry.
	View(ctx context.Context, contractID, method string, args any) (json.RawMessage, error)
	Close()
}
