package agents

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/ledger"
	"FansDFS/internal/session"
)

func storageSession(filename string, content []byte) *session.Session {
	sess := session.New("t1")
	sess.PutAttachment(session.Attachment{Filename: filename, Bytes: content})
	return sess
}

func TestStorageProcessFilePipeline(t *testing.T) {
	content := []byte("audio bytes")
	wantHash := hex.EncodeToString(func() []byte { d := sha256.Sum256(content); return d[:] }())

	pinner := &stubPinner{cid: "QmDemo"}
	var gotArgs map[string]any
	var gotDeposit *big.Int
	led := &stubLedger{
		callFn: func(_ context.Context, contractID, method string, args any, _ uint64, deposit *big.Int) (ledger.Outcome, error) {
			if contractID != "1000fans.testnet" || method != "record_transaction" {
				t.Fatalf("unexpected call %s.%s", contractID, method)
			}
			gotArgs = args.(map[string]any)
			gotDeposit = deposit
			return ledger.Outcome{Success: true, TransactionHash: "0xdeadbeef"}, nil
		},
	}
	agent := NewStorageAgent(pinner, led, StorageConfig{
		ContractID: "1000fans.testnet",
		GroupID:    "theosis",
	})

	cmd := command.New(command.VerbProcessFile,
		command.ArgFilename, "track.mp3",
		command.ArgSignerID, "alice.testnet",
	)
	result := agent.Handle(context.Background(), cmd, storageSession("track.mp3", content))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if pinner.calls != 1 {
		t.Fatalf("expected one pin call, got %d", pinner.calls)
	}
	// 未配置群组密钥时内容按原样固定。
	if !bytes.Equal(pinner.last, content) {
		t.Fatal("plaintext upload must pin the raw bytes")
	}
	if gotArgs["group_id"] != "theosis" || gotArgs["user_id"] != "alice.testnet" {
		t.Fatalf("unexpected transaction args: %+v", gotArgs)
	}
	if gotArgs["file_hash"] != wantHash {
		t.Fatalf("file hash mismatch: %v", gotArgs["file_hash"])
	}
	if gotArgs["ipfs_hash"] != "QmDemo" {
		t.Fatalf("unexpected ipfs hash: %v", gotArgs["ipfs_hash"])
	}
	if gotDeposit == nil || gotDeposit.Cmp(oneYocto) != 0 {
		t.Fatalf("record_transaction must attach one yocto, got %v", gotDeposit)
	}
	if !strings.Contains(result.Reply, "uploaded to IPFS: QmDemo") || !strings.Contains(result.Reply, "0xdeadbeef") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}

	processed := false
	for _, att := range result.Patch.Attachments {
		if att.Filename == "track.mp3.processed" {
			processed = true
		}
	}
	if !processed {
		t.Fatal("processed marker missing from patch")
	}
}

func TestStorageContentHashIsDeterministic(t *testing.T) {
	content := []byte("same bytes")
	first := sha256.Sum256(content)
	second := sha256.Sum256(append([]byte(nil), content...))
	if first != second {
		t.Fatal("identical content must hash identically")
	}
}

func TestStorageEncryptsWithGroupKey(t *testing.T) {
	content := []byte("secret audio")
	key := bytes.Repeat([]byte("k"), 32)
	pinner := &stubPinner{cid: "QmEnc"}
	led := &stubLedger{
		callFn: func(context.Context, string, string, any, uint64, *big.Int) (ledger.Outcome, error) {
			return ledger.Outcome{Success: true, TransactionHash: "0x1"}, nil
		},
	}
	agent := NewStorageAgent(pinner, led, StorageConfig{
		ContractID: "1000fans.testnet",
		GroupID:    "theosis",
		GroupKey:   key,
	})

	cmd := command.New(command.VerbProcessFile, command.ArgFilename, "track.mp3")
	result := agent.Handle(context.Background(), cmd, storageSession("track.mp3", content))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if bytes.Equal(pinner.last, content) {
		t.Fatal("encrypted upload must not pin the raw bytes")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("new gcm: %v", err)
	}
	nonce := pinner.last[:gcm.NonceSize()]
	plain, err := gcm.Open(nil, nonce, pinner.last[gcm.NonceSize():], nil)
	if err != nil {
		t.Fatalf("decrypt pinned payload: %v", err)
	}
	if !bytes.Equal(plain, content) {
		t.Fatal("decrypted payload differs from original content")
	}
}

func TestStoragePinFailureSkipsLedger(t *testing.T) {
	pinner := &stubPinner{err: errors.New("gateway timeout")}
	led := &stubLedger{
		callFn: func(context.Context, string, string, any, uint64, *big.Int) (ledger.Outcome, error) {
			t.Fatal("ledger must not be called when pinning fails")
			return ledger.Outcome{}, nil
		},
	}
	agent := NewStorageAgent(pinner, led, StorageConfig{ContractID: "1000fans.testnet"})

	cmd := command.New(command.VerbProcessFile, command.ArgFilename, "track.mp3")
	result := agent.Handle(context.Background(), cmd, storageSession("track.mp3", []byte("audio")))
	if xerrors.CodeOf(result.Err) != xerrors.CodePinningFailure {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(result.Err))
	}
	if !strings.Contains(result.Reply, "Failed to upload file to IPFS") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
	// 失败回合不留下任何会话变更。
	if !result.Patch.IsZero() {
		t.Fatalf("failed pipeline must not patch the session: %+v", result.Patch)
	}
}

func TestStorageRejectsUnsupportedExtension(t *testing.T) {
	agent := NewStorageAgent(&stubPinner{cid: "Qm"}, &stubLedger{}, StorageConfig{ContractID: "1000fans.testnet"})

	cmd := command.New(command.VerbProcessFile, command.ArgFilename, "notes.txt")
	result := agent.Handle(context.Background(), cmd, storageSession("notes.txt", []byte("text")))
	if xerrors.CodeOf(result.Err) != xerrors.CodeUnsupportedFileType {
		t.Fatalf("unexpected code: %s", xerrors.CodeOf(result.Err))
	}
}

func TestStorageRequiresAttachment(t *testing.T) {
	agent := NewStorageAgent(&stubPinner{cid: "Qm"}, &stubLedger{}, StorageConfig{ContractID: "1000fans.testnet"})

	cmd := command.New(command.VerbProcessFile, command.ArgFilename, "ghost.mp3")
	result := agent.Handle(context.Background(), cmd, session.New("t1"))
	if result.Err == nil {
		t.Fatal("missing attachment must fail")
	}
	if !strings.Contains(result.Reply, "not found in thread") {
		t.Fatalf("unexpected reply: %q", result.Reply)
	}
}
