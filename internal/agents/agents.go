package agents

import (
	"context"
	"encoding/json"
	"math/big"

	"FansDFS/internal/command"
	"FansDFS/internal/session"
)

// 账本调用的固定预算，与合约端约定保持一致。
const (
	// defaultGas 是所有合约调用使用的 30 Tgas 预算。
	defaultGas = uint64(30_000_000_000_000)
)

var (
	// oneYocto 是 payable 方法要求的最小转账额。
	oneYocto = big.NewInt(1)
	// mintStorageDeposit 是铸造 NFT 需要的存储押金（0.00637 NEAR）。
	mintStorageDeposit = mustBig("6370000000000000000000")
	// initialAccountBalance 是新建子账户的初始余额（0.1 NEAR）。
	initialAccountBalance = mustBig("100000000000000000000000")
)

func mustBig(decimal string) *big.Int {
	n, ok := new(big.Int).SetString(decimal, 10)
	if !ok {
		panic("invalid big integer literal: " + decimal)
	}
	return n
}

// Result 是一次智能体执行的完整输出。失败同样通过 Reply 反馈给用户：
// Err 只用于日志与事件，不会向上传播。
type Result struct {
	Reply         string
	Patch         session.Patch
	HandOff       *command.RouteDecision
	AwaitingInput bool
	Err           error
}

// Agent 定义智能体状态机的统一接口。实现必须是纯函数式的：
// 不直接修改传入的会话，所有变更通过 Patch 返回。
type Agent interface {
	ID() command.AgentID
	Handle(ctx context.Context, cmd command.Command, sess *session.Session) Result
}

// failure 构造一个失败结果：只有面向用户的回复，不做任何状态变更、不移交。
func failure(err error, reply string) Result {
	return Result{Reply: reply, AwaitingInput: true, Err: err}
}

// authStatusFilename 是线程内鉴权状态文档的固定名字。
const authStatusFilename = "auth_status.json"

// authStatusAttachment 将鉴权状态编码为线程文档附件。
// token_id 缺失时显式写成 null，保持文档结构稳定。
func authStatusAttachment(status session.AuthStatus) session.Attachment {
	doc := map[string]any{
		"user_id":    status.UserID,
		"authorized": status.Authorized,
	}
	if status.TokenID != "" {
		doc["token_id"] = status.TokenID
	} else {
		doc["token_id"] = nil
	}
	encoded, _ := json.Marshal(doc)
	return session.Attachment{
		Filename:    authStatusFilename,
		ContentType: "application/json",
		Bytes:       encoded,
	}
}

// signerOf 解析本条命令的签名者身份：优先取命令参数，其次取会话内
// 已经确认过的身份。
func signerOf(cmd command.Command, sess *session.Session) string {
	if signer := cmd.Arg(command.ArgSignerID); signer != "" {
		return signer
	}
	if sess != nil && sess.AuthStatus != nil {
		return sess.AuthStatus.UserID
	}
	return ""
}
