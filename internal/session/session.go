package session

import (
	"strings"
	"time"
)

// AuthStatus 记录一次鉴权检查的结果，对应线程内的 auth_status.json 文档。
type AuthStatus struct {
	UserID     string `json:"user_id"`
	Authorized bool   `json:"authorized"`
	TokenID    string `json:"token_id,omitempty"`
}

// PendingSelection 表示等待用户 yes/no 确认的文件选择。
// 该状态只允许存活一个往返：被消费或被新的上传指令覆盖后必须清除。
type PendingSelection struct {
	Filename string `json:"filename"`
}

// Attachment 是线程内的一个附件，文件名在会话中唯一。
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       []byte `json:"bytes,omitempty"`
}

// Session 承载一个会话线程的全部可变状态。
type Session struct {
	ThreadID         string            `json:"thread_id"`
	AuthStatus       *AuthStatus       `json:"auth_status,omitempty"`
	PendingSelection *PendingSelection `json:"pending_selection,omitempty"`
	Attachments      []Attachment      `json:"attachments,omitempty"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
}

// New 创建一个空会话。
func New(threadID string) *Session {
	now := time.Now().Unix()
	return &Session{ThreadID: threadID, CreatedAt: now, UpdatedAt: now}
}

// Authorized 判断会话是否已通过令牌校验。
func (s *Session) Authorized() bool {
	return s != nil && s.AuthStatus != nil && s.AuthStatus.Authorized
}

// Attachment 按文件名查找附件。
func (s *Session) Attachment(filename string) (Attachment, bool) {
	if s == nil {
		return Attachment{}, false
	}
	for _, att := range s.Attachments {
		if att.Filename == filename {
			return att, true
		}
	}
	return Attachment{}, false
}

// FirstAttachmentWithExtension 返回第一个匹配任一扩展名的附件。
// 匹配不区分大小写，保持附件的插入顺序。
func (s *Session) FirstAttachmentWithExtension(extensions []string) (Attachment, bool) {
	if s == nil {
		return Attachment{}, false
	}
	for _, att := range s.Attachments {
		lower := strings.ToLower(att.Filename)
		for _, ext := range extensions {
			if strings.HasSuffix(lower, strings.ToLower(ext)) {
				return att, true
			}
		}
	}
	return Attachment{}, false
}

// PutAttachment 写入附件：同名覆盖（最后写入生效），否则保持插入顺序追加。
func (s *Session) PutAttachment(att Attachment) {
	for i := range s.Attachments {
		if s.Attachments[i].Filename == att.Filename {
			s.Attachments[i] = att
			return
		}
	}
	s.Attachments = append(s.Attachments, att)
}

// Clone 生成一个深拷贝，保证存储实现与调用方互不干扰。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := &Session{
		ThreadID:  s.ThreadID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.AuthStatus != nil {
		status := *s.AuthStatus
		clone.AuthStatus = &status
	}
	if s.PendingSelection != nil {
		sel := *s.PendingSelection
		clone.PendingSelection = &sel
	}
	if len(s.Attachments) > 0 {
		clone.Attachments = make([]Attachment, len(s.Attachments))
		for i, att := range s.Attachments {
			copied := att
			copied.Bytes = append([]byte(nil), att.Bytes...)
			clone.Attachments[i] = copied
		}
	}
	return clone
}

// Patch 描述一次智能体执行后对会话的部分更新。
// 字段为 nil 表示不修改；ClearPendingSelection 在置位时优先于 PendingSelection。
type Patch struct {
	AuthStatus            *AuthStatus
	PendingSelection      *PendingSelection
	ClearPendingSelection bool
	Attachments           []Attachment
}

// IsZero 判断补丁是否为空操作。
func (p Patch) IsZero() bool {
	return p.AuthStatus == nil && p.PendingSelection == nil &&
		!p.ClearPendingSelection && len(p.Attachments) == 0
}

// Apply 将补丁原子地套用到会话上。
func (s *Session) Apply(p Patch) {
	if p.AuthStatus != nil {
		status := *p.AuthStatus
		s.AuthStatus = &status
	}
	if p.ClearPendingSelection {
		s.PendingSelection = nil
	} else if p.PendingSelection != nil {
		sel := *p.PendingSelection
		s.PendingSelection = &sel
	}
	for _, att := range p.Attachments {
		s.PutAttachment(att)
	}
	s.UpdatedAt = time.Now().Unix()
}
