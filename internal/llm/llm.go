package llm

import "context"

// Request 描述发送给大模型的自由文本请求。
type Request struct {
	System string
	User   string
}

// Client 定义了调用大模型补全的统一接口。
// 管理智能体用它为无法被路由识别的输入生成友好回复。
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
