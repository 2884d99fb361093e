package pinning

import "context"

// Client 定义内容寻址存储服务的统一接口。
// Pin 成功返回内容标识（CID），失败不产生可复用的部分状态。
type Client interface {
	Pin(ctx context.Context, filename string, data []byte) (string, error)
}
