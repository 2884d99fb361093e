// Package orchestrator 驱动一个完整的对话回合：加载会话、路由、
// 执行智能体、在有限步数内跟随移交，最后持久化并广播结果。
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"FansDFS/internal/agents"
	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/events"
	"FansDFS/internal/observability/alerting"
	"FansDFS/internal/records"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// defaultHandOffDepth 是一个回合内允许的最大移交次数。
const defaultHandOffDepth = 5

// Router 把一句话术解析成下一跳。由 router 包实现，测试可注入替身。
type Router interface {
	Route(ctx context.Context, utterance string, sess *session.Session) command.RouteDecision
}

// TurnRequest 是一次回合的输入。
type TurnRequest struct {
	ThreadID    string
	SignerID    string
	Utterance   string
	Attachments []session.Attachment
}

// TurnResult 是一次回合对调用方的输出。
type TurnResult struct {
	TurnID        string
	ThreadID      string
	Agent         command.AgentID
	Reply         string
	HandOffs      int
	AwaitingInput bool
	Failed        bool
	ErrorCode     string
}

// Config 控制编排器的行为。
type Config struct {
	// HandOffDepth 是一个回合内允许的最大移交次数，0 表示默认值。
	HandOffDepth int
}

// Orchestrator 把路由器、智能体注册表与各类外围存储装配在一起。
type Orchestrator struct {
	store     session.Store
	router    Router
	registry  map[command.AgentID]agents.Agent
	records   records.Repository
	publisher events.Publisher
	alerts    alerting.Dispatcher
	maxDepth  int
	log       *slog.Logger
}

// Option 配置编排器的可选部件。
type Option func(*Orchestrator)

// WithRecords 启用回合历史落库。
func WithRecords(repo records.Repository) Option {
	return func(o *Orchestrator) { o.records = repo }
}

// WithPublisher 启用回合事件广播。
func WithPublisher(pub events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = pub }
}

// WithAlerts 启用失败回合告警。
func WithAlerts(dispatcher alerting.Dispatcher) Option {
	return func(o *Orchestrator) { o.alerts = dispatcher }
}

// New 构造编排器。store、router 与至少一个智能体是必需的。
func New(store session.Store, r Router, list []agents.Agent, cfg Config, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储不能为空")
	}
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "路由器不能为空")
	}
	if len(list) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "至少注册一个智能体")
	}
	registry := make(map[command.AgentID]agents.Agent, len(list))
	for _, agent := range list {
		if agent == nil {
			continue
		}
		registry[agent.ID()] = agent
	}
	depth := cfg.HandOffDepth
	if depth <= 0 {
		depth = defaultHandOffDepth
	}
	o := &Orchestrator{
		store:     store,
		router:    r,
		registry:  registry,
		publisher: events.NoopPublisher{},
		maxDepth:  depth,
		log:       logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// HandleTurn 执行一个完整回合。会话只在回合成功结束时持久化；
// 移交链超出深度上限视为路由环，整个回合作废。
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	}
	turnID := uuid.NewString()

	sess, err := o.loadSession(ctx, threadID)
	if err != nil {
		return TurnResult{}, err
	}
	for _, attachment := range req.Attachments {
		sess.PutAttachment(attachment)
	}
	decision := o.router.Route(ctx, req.Utterance, sess)

	var (
		result   agents.Result
		handOffs int
	)
	for {
		agent, ok := o.registry[decision.Target]
		if !ok {
			return TurnResult{}, xerrors.New(xerrors.CodeInitializationFailure,
				"未注册的智能体: "+string(decision.Target))
		}
		cmd := decision.Command
		if req.SignerID != "" && cmd.Arg(command.ArgSignerID) == "" {
			cmd = cmd.WithArg(command.ArgSignerID, req.SignerID)
		}

		result = agent.Handle(ctx, cmd, sess)
		sess.Apply(result.Patch)

		if result.HandOff == nil {
			break
		}
		handOffs++
		if handOffs > o.maxDepth {
			err := xerrors.New(xerrors.CodeRoutingLoopDetected,
				"移交链超出深度上限",
				xerrors.WithMetadata("thread_id", threadID),
				xerrors.WithMetadata("agent", string(decision.Target)))
			o.log.Error("hand-off chain aborted", "thread_id", threadID, "depth", handOffs)
			return TurnResult{}, err
		}
		decision = *result.HandOff
	}

	if err := o.store.Save(ctx, sess); err != nil {
		return TurnResult{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "持久化会话失败")
	}

	turn := TurnResult{
		TurnID:        turnID,
		ThreadID:      threadID,
		Agent:         decision.Target,
		Reply:         result.Reply,
		HandOffs:      handOffs,
		AwaitingInput: result.AwaitingInput,
		Failed:        result.Err != nil,
		ErrorCode:     errorCode(result.Err),
	}
	o.record(ctx, req, turn)
	o.publish(ctx, req, turn)
	o.alert(ctx, turn, result.Err)
	return turn, nil
}

// loadSession 加载或新建线程会话。
func (o *Orchestrator) loadSession(ctx context.Context, threadID string) (*session.Session, error) {
	sess, err := o.store.Load(ctx, threadID)
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, session.ErrNotFound) {
		return session.New(threadID), nil
	}
	return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载会话失败")
}

// record 落库回合历史。失败降级为日志，不影响回合结果。
func (o *Orchestrator) record(ctx context.Context, req TurnRequest, turn TurnResult) {
	if o.records == nil {
		return
	}
	err := o.records.Save(ctx, &records.TurnRecord{
		ID:        turn.TurnID,
		ThreadID:  turn.ThreadID,
		SignerID:  req.SignerID,
		Utterance: req.Utterance,
		Agent:     string(turn.Agent),
		Reply:     turn.Reply,
		HandOffs:  turn.HandOffs,
		Failed:    turn.Failed,
		ErrorCode: turn.ErrorCode,
	})
	if err != nil {
		o.log.Error("persist turn record failed", "turn_id", turn.TurnID, "error", err)
	}
}

// publish 广播回合事件。失败降级为日志，不影响回合结果。
func (o *Orchestrator) publish(ctx context.Context, req TurnRequest, turn TurnResult) {
	if o.publisher == nil {
		return
	}
	err := o.publisher.Publish(ctx, events.TurnEvent{
		TurnID:     turn.TurnID,
		ThreadID:   turn.ThreadID,
		SignerID:   req.SignerID,
		Utterance:  req.Utterance,
		Agent:      string(turn.Agent),
		Reply:      turn.Reply,
		HandOffs:   turn.HandOffs,
		Failed:     turn.Failed,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		o.log.Warn("publish turn event failed", "turn_id", turn.TurnID, "error", err)
	}
}

// alert 把需要告警的回合失败投递到通知渠道。失败降级为日志。
func (o *Orchestrator) alert(ctx context.Context, turn TurnResult, cause error) {
	if o.alerts == nil || cause == nil || !xerrors.ShouldAlert(cause) {
		return
	}
	err := o.alerts.Notify(ctx, alerting.Event{
		Code:       xerrors.CodeOf(cause),
		Message:    cause.Error(),
		Severity:   xerrors.SeverityOf(cause),
		ThreadID:   turn.ThreadID,
		Agent:      string(turn.Agent),
		HandOffs:   turn.HandOffs,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		o.log.Warn("dispatch alert failed", "thread_id", turn.ThreadID, "error", err)
	}
}

// errorCode 提取统一错误码，无错误时返回空串。
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return string(xerrors.CodeOf(err))
}
