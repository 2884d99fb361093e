package agents

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"FansDFS/internal/ledger"
	"FansDFS/internal/llm"
)

// stubLedger 按需覆盖各个账本操作，未覆盖的操作返回失败。
type stubLedger struct {
	generateKeyFn   func(ctx context.Context) (ledger.KeyPair, error)
	createAccountFn func(ctx context.Context, accountID, publicKey string, balance *big.Int) (ledger.Outcome, error)
	callFn          func(ctx context.Context, contractID, method string, args any, gas uint64, deposit *big.Int) (ledger.Outcome, error)
	viewFn          func(ctx context.Context, contractID, method string, args any) (json.RawMessage, error)
}

func (s *stubLedger) GenerateKey(ctx context.Context) (ledger.KeyPair, error) {
	if s.generateKeyFn == nil {
		return ledger.KeyPair{}, errors.New("generate key not stubbed")
	}
	return s.generateKeyFn(ctx)
}

func (s *stubLedger) CreateAccount(ctx context.Context, accountID, publicKey string, balance *big.Int) (ledger.Outcome, error) {
	if s.createAccountFn == nil {
		return ledger.Outcome{}, errors.New("create account not stubbed")
	}
	return s.createAccountFn(ctx, accountID, publicKey, balance)
}

func (s *stubLedger) Call(ctx context.Context, contractID, method string, args any, gas uint64, deposit *big.Int) (ledger.Outcome, error) {
	if s.callFn == nil {
		return ledger.Outcome{}, errors.New("call not stubbed")
	}
	return s.callFn(ctx, contractID, method, args, gas, deposit)
}

func (s *stubLedger) View(ctx context.Context, contractID, method string, args any) (json.RawMessage, error) {
	if s.viewFn == nil {
		return nil, errors.New("view not stubbed")
	}
	return s.viewFn(ctx, contractID, method, args)
}

func (s *stubLedger) Close() {}

// stubPinner 记录固定请求并返回预设结果。
type stubPinner struct {
	cid   string
	err   error
	calls int
	last  []byte
}

func (s *stubPinner) Pin(_ context.Context, _ string, data []byte) (string, error) {
	s.calls++
	s.last = append([]byte(nil), data...)
	if s.err != nil {
		return "", s.err
	}
	return s.cid, nil
}

// stubLLM 返回固定补全或错误。
type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Complete(context.Context, llm.Request) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}
