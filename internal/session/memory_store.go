package session

import (
	"context"
	"sync"
)

// MemoryStore 将会话保存在进程内，主要用于开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// Load 返回指定线程的会话深拷贝。
func (m *MemoryStore) Load(_ context.Context, threadID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Save 持久化会话。
func (m *MemoryStore) Save(_ context.Context, sess *Session) error {
	if sess == nil || sess.ThreadID == "" {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ThreadID] = sess.Clone()
	return nil
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }
