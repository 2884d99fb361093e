// Package records 持久化回合历史，供审计与 API 查询使用。
// 写入失败只记日志，永远不改变回合对用户的结果。
package records

import (
	"context"
	"errors"
)

// ErrNotFound 表示查询的回合记录不存在。
var ErrNotFound = errors.New("records: turn record not found")

// TurnRecord 是一个回合落库后的形态。
type TurnRecord struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	SignerID  string `json:"signer_id,omitempty"`
	Utterance string `json:"utterance"`
	Agent     string `json:"agent"`
	Reply     string `json:"reply"`
	HandOffs  int    `json:"hand_offs"`
	Failed    bool   `json:"failed"`
	ErrorCode string `json:"error_code,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// Repository 定义回合历史的统一接口。
type Repository interface {
	// Save 落库一条回合记录。ID 为空时由实现生成。
	Save(ctx context.Context, record *TurnRecord) error
	// Recent 按时间倒序返回最近的记录。
	Recent(ctx context.Context, limit int) ([]TurnRecord, error)
	// ListByThread 按时间正序返回某个线程的全部记录。
	ListByThread(ctx context.Context, threadID string) ([]TurnRecord, error)
	Close() error
}
