// Package router 把一句用户话术解析成下一跳智能体与命令。
// 解析分三层：关键词表精确匹配、语义检索兜底、鉴权闸门改写。
package router

import (
	"context"
	"log/slog"
	"strings"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/intent"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// transferUsageHint 是转移命令参数不全时给管理智能体的提示语。
const transferUsageHint = "Please specify: 'transfer token <receiver_id> <token_id>'."

// Config 控制语义检索兜底的行为。
type Config struct {
	// Threshold 是语义匹配的最低相似度，低于它视为未识别。
	Threshold float64
	// TopK 是每次检索返回的候选数量。
	TopK int
}

// Router 是确定性的意图路由器。关键词表命中从不触发网络调用，
// 只有表外话术才会走语义检索。
type Router struct {
	index     intent.Index
	threshold float64
	topK      int
	log       *slog.Logger
}

// New 构造路由器。index 可以为 nil，此时表外话术直接交给管理智能体。
func New(index intent.Index, cfg Config) *Router {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.35
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Router{
		index:     index,
		threshold: cfg.Threshold,
		topK:      cfg.TopK,
		log:       logger.Named("router"),
	}
}

// Route 解析一句话术并给出下一跳。返回值永远有效：
// 无法识别的话术统一落到管理智能体，由它给出引导回复。
func (r *Router) Route(ctx context.Context, utterance string, sess *session.Session) command.RouteDecision {
	decision := r.classify(ctx, utterance, sess)
	return r.applyGate(decision, sess)
}

// classify 先查关键词表，查不到再做语义检索。
func (r *Router) classify(ctx context.Context, utterance string, sess *session.Session) command.RouteDecision {
	normalized := strings.ToLower(strings.TrimSpace(utterance))

	// 空话术视为新线程的开场，交给管理智能体打招呼。
	if normalized == "" {
		return command.RouteDecision{
			Target:  command.AgentManager,
			Command: command.New(command.VerbWelcome),
		}
	}

	if decision, ok := r.keywordRoute(normalized, utterance); ok {
		return decision
	}
	return r.semanticRoute(ctx, utterance)
}

// keywordRoute 是关键词表。表内命中是完全确定性的，永不联网。
func (r *Router) keywordRoute(normalized, utterance string) (command.RouteDecision, bool) {
	switch normalized {
	case "create wallet":
		return decision(command.AgentAuth, command.New(command.VerbCreateWallet)), true
	case "connect wallet":
		return decision(command.AgentAuth, command.New(command.VerbConnectWallet)), true
	case "check access":
		return decision(command.AgentAuth, command.New(command.VerbCheckAccess)), true
	case "mint token":
		return decision(command.AgentNFT, command.New(command.VerbMintToken)), true
	case "upload file":
		return decision(command.AgentUpload, command.New(command.VerbUploadFile)), true
	case "process file":
		return decision(command.AgentStorage, command.New(command.VerbProcessFile)), true
	case "yes":
		return decision(command.AgentUpload, command.New(command.VerbConfirm, command.ArgConfirmed, "true")), true
	case "no":
		return decision(command.AgentUpload, command.New(command.VerbConfirm, command.ArgConfirmed, "false")), true
	case "list":
		return decision(command.AgentManager, command.New(command.VerbUnknown, command.ArgUtterance, "list")), true
	}

	if strings.HasPrefix(normalized, "transfer token") {
		return r.parseTransfer(normalized), true
	}
	return command.RouteDecision{}, false
}

// parseTransfer 解析 transfer token <receiver_id> <token_id>。
// 参数必须恰好两个，缺失或多余都退回管理智能体并附带用法提示。
func (r *Router) parseTransfer(normalized string) command.RouteDecision {
	rest := strings.TrimSpace(strings.TrimPrefix(normalized, "transfer token"))
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return decision(command.AgentManager,
			command.New(command.VerbUnknown, command.ArgHint, transferUsageHint))
	}
	return decision(command.AgentNFT, command.New(command.VerbTransferToken,
		command.ArgReceiverID, fields[0],
		command.ArgTokenID, fields[1],
	))
}

// semanticRoute 在语料索引里检索最相近的智能体。检索不可用或
// 相似度不达标时，话术原样交给管理智能体兜底。
// 语义命中只决定目标智能体，从不直接合成动词：话术原文随命令转发，
// 由目标智能体自己的命令分发决定是执行还是回复用法提示。
// 直接动词只出自确定性的关键词表。
func (r *Router) semanticRoute(ctx context.Context, utterance string) command.RouteDecision {
	fallback := decision(command.AgentManager,
		command.New(command.VerbUnknown, command.ArgUtterance, utterance))

	if r.index == nil {
		return fallback
	}
	matches, err := r.index.Search(ctx, utterance, r.topK)
	if err != nil {
		// 检索失败不阻断回合：降级到管理智能体，只记日志。
		wrapped := xerrors.Wrap(xerrors.CodeIntentIndexUnavailable, err, "意图检索不可用")
		r.log.Warn("semantic route degraded", "error", wrapped)
		return fallback
	}
	if len(matches) == 0 || matches[0].Score < r.threshold {
		return fallback
	}

	best := matches[0]
	target := command.AgentID(best.AgentID)
	if !command.KnownAgent(target) {
		r.log.Warn("corpus names unknown agent", "agent_id", best.AgentID)
		return fallback
	}
	r.log.Debug("semantic route", "agent_id", best.AgentID, "suggested", best.Command, "score", matches[0].Score)
	return decision(target, command.New(command.VerbUnknown, command.ArgUtterance, utterance))
}

// applyGate 是鉴权闸门：未认证的会话触碰特权智能体时，
// 下一跳被改写为鉴权检查。鉴权与管理智能体自身不受闸门约束。
func (r *Router) applyGate(d command.RouteDecision, sess *session.Session) command.RouteDecision {
	if !privileged(d.Target) {
		return d
	}
	if sess != nil && sess.Authorized() {
		return d
	}
	return decision(command.AgentAuth, command.New(command.VerbCheckAccess))
}

// privileged 报告目标智能体是否要求已认证的会话。
func privileged(target command.AgentID) bool {
	switch target {
	case command.AgentNFT, command.AgentUpload, command.AgentStorage:
		return true
	}
	return false
}

func decision(target command.AgentID, cmd command.Command) command.RouteDecision {
	return command.RouteDecision{Target: target, Command: cmd}
}
