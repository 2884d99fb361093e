package records

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "FansDFS/internal/errors"
)

// MemoryRepository 以内存方式保存回合记录，主要用于测试与单机部署。
type MemoryRepository struct {
	mu      sync.RWMutex
	records []TurnRecord
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Save 实现 Repository 接口。
func (m *MemoryRepository) Save(_ context.Context, record *TurnRecord) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "record 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt == 0 {
		record.CreatedAt = time.Now().Unix()
	}
	m.records = append(m.records, *record)
	return nil
}

// Recent 按写入顺序倒序返回最近 limit 条记录。
func (m *MemoryRepository) Recent(_ context.Context, limit int) ([]TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// ListByThread 返回某个线程的全部记录。
func (m *MemoryRepository) ListByThread(_ context.Context, threadID string) ([]TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []TurnRecord
	for _, record := range m.records {
		if record.ThreadID == threadID {
			out = append(out, record)
		}
	}
	return out, nil
}

// Close 实现 Repository 接口。
func (m *MemoryRepository) Close() error { return nil }
