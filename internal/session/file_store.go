package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	sessionDocument = "session.json"
	attachmentsDir  = "attachments"
)

// FileStore 把每个线程的会话落在数据目录下：状态为一个 JSON 文档，
// 附件按文件名单独存放原始字节，便于人工检查和外部保留策略。
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// fileDocument 是落盘的会话结构，附件只保留元信息。
type fileDocument struct {
	ThreadID         string            `json:"thread_id"`
	AuthStatus       *AuthStatus       `json:"auth_status,omitempty"`
	PendingSelection *PendingSelection `json:"pending_selection,omitempty"`
	Attachments      []fileAttachment  `json:"attachments,omitempty"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
}

type fileAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// NewFileStore 创建文件会话存储。
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		baseDir = "."
	}
	dir := filepath.Join(baseDir, "threads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建会话目录失败: %w", err)
	}
	return &FileStore{baseDir: dir}, nil
}

func (f *FileStore) threadDir(threadID string) string {
	// 避免线程标识污染路径。
	return filepath.Join(f.baseDir, filepath.Base(threadID))
}

// Load 读取会话文档并按插入顺序装载附件内容。
func (f *FileStore) Load(_ context.Context, threadID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.threadDir(threadID)
	content, err := os.ReadFile(filepath.Join(dir, sessionDocument))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取会话文档失败: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("解析会话文档失败: %w", err)
	}

	sess := &Session{
		ThreadID:         doc.ThreadID,
		AuthStatus:       doc.AuthStatus,
		PendingSelection: doc.PendingSelection,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	for _, meta := range doc.Attachments {
		data, err := os.ReadFile(filepath.Join(dir, attachmentsDir, filepath.Base(meta.Filename)))
		if err != nil {
			return nil, fmt.Errorf("读取附件 %s 失败: %w", meta.Filename, err)
		}
		sess.Attachments = append(sess.Attachments, Attachment{
			Filename:    meta.Filename,
			ContentType: meta.ContentType,
			Bytes:       data,
		})
	}
	return sess, nil
}

// Save 持久化会话文档与附件字节。
func (f *FileStore) Save(_ context.Context, sess *Session) error {
	if sess == nil || sess.ThreadID == "" {
		return ErrNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.threadDir(sess.ThreadID)
	if err := os.MkdirAll(filepath.Join(dir, attachmentsDir), 0o755); err != nil {
		return fmt.Errorf("创建线程目录失败: %w", err)
	}

	doc := fileDocument{
		ThreadID:         sess.ThreadID,
		AuthStatus:       sess.AuthStatus,
		PendingSelection: sess.PendingSelection,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
	for _, att := range sess.Attachments {
		doc.Attachments = append(doc.Attachments, fileAttachment{
			Filename:    att.Filename,
			ContentType: att.ContentType,
		})
		target := filepath.Join(dir, attachmentsDir, filepath.Base(att.Filename))
		if err := os.WriteFile(target, att.Bytes, 0o644); err != nil {
			return fmt.Errorf("写入附件 %s 失败: %w", att.Filename, err)
		}
	}

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化会话文档失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sessionDocument), encoded, 0o644); err != nil {
		return fmt.Errorf("写入会话文档失败: %w", err)
	}
	return nil
}

// Close 实现 Store 接口。
func (f *FileStore) Close() error { return nil }
