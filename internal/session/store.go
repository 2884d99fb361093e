package session

import (
	"context"
	"errors"
)

// ErrNotFound 表示线程尚不存在会话。
var ErrNotFound = errors.New("session not found")

// Store 抽象会话的加载与持久化。实现必须保证 Load 返回的对象
// 与内部状态隔离，调用方可以自由修改后再 Save。
type Store interface {
	Load(ctx context.Context, threadID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Close() error
}
