// Package events 把每个已完成回合的摘要广播给下游消费者。
// 事件投递是尽力而为的：失败只记日志，从不影响回合结果。
package events

import "context"

// TurnEvent 是一个回合结束后对外发布的摘要。附件内容不随事件
// 发布，只携带标识与结果。
type TurnEvent struct {
	TurnID     string `json:"turn_id"`
	ThreadID   string `json:"thread_id"`
	SignerID   string `json:"signer_id,omitempty"`
	Utterance  string `json:"utterance"`
	Agent      string `json:"agent"`
	Reply      string `json:"reply"`
	HandOffs   int    `json:"hand_offs"`
	Failed     bool   `json:"failed"`
	OccurredAt string `json:"occurred_at"`
}

// Publisher 定义回合事件的统一出口。
type Publisher interface {
	Publish(ctx context.Context, event TurnEvent) error
	Close() error
}

// NoopPublisher 丢弃所有事件，用于未配置消息队列的部署。
type NoopPublisher struct{}

// Publish 直接返回 nil。
func (NoopPublisher) Publish(context.Context, TurnEvent) error { return nil }

// Close 直接返回 nil。
func (NoopPublisher) Close() error { return nil }
