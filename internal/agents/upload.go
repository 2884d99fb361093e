package agents

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// UploadConfig 描述上传智能体的行为参数。
type UploadConfig struct {
	// AllowedExtensions 是可接受的音视频扩展名（如 .mp3）。
	AllowedExtensions []string
	// FallbackDir 在线程内没有合适附件时作为候选文件来源，可以为空。
	FallbackDir string
}

// UploadAgent 负责上传流程的确认往返：选中文件、等待 yes/no、移交存储。
type UploadAgent struct {
	cfg UploadConfig
	log *slog.Logger
}

// NewUploadAgent 创建上传智能体。
func NewUploadAgent(cfg UploadConfig) *UploadAgent {
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".mp3"}
	}
	return &UploadAgent{cfg: cfg, log: logger.Named("upload-agent")}
}

// ID 实现 Agent 接口。
func (a *UploadAgent) ID() command.AgentID { return command.AgentUpload }

const uploadUsageReply = "Please type 'upload file' to start, or 'yes'/'no' to confirm."

// Handle 处理上传相关命令。
func (a *UploadAgent) Handle(_ context.Context, cmd command.Command, sess *session.Session) Result {
	switch cmd.Verb {
	case command.VerbUploadFile:
		return a.startUpload(sess)
	case command.VerbConfirm:
		return a.confirm(cmd, sess)
	default:
		return Result{Reply: uploadUsageReply, AwaitingInput: true}
	}
}

// startUpload 选中候选文件并请求确认。这是唯一会挂起等待第二个用户
// 回合的命令：不移交，只设置 pending_selection。
func (a *UploadAgent) startUpload(sess *session.Session) Result {
	patch := session.Patch{}

	att, ok := sess.FirstAttachmentWithExtension(a.cfg.AllowedExtensions)
	if !ok && a.cfg.FallbackDir != "" {
		fallback, found := a.fileFromFallbackDir()
		if found {
			att, ok = fallback, true
			patch.Attachments = append(patch.Attachments, fallback)
		}
	}
	if !ok {
		a.log.Info("未找到候选文件", slog.String("extensions", strings.Join(a.cfg.AllowedExtensions, ",")))
		return Result{
			Reply:         fmt.Sprintf("No %s file found. Type 'upload file' to start.", a.cfg.AllowedExtensions[0]),
			AwaitingInput: true,
		}
	}

	// 新的上传指令总是覆盖旧的待确认状态。
	patch.PendingSelection = &session.PendingSelection{Filename: att.Filename}
	logger.System().Info("file selected for upload",
		slog.String("agent", "upload"), slog.String("filename", att.Filename))

	return Result{
		Reply:         fmt.Sprintf("Ready to process file %s. Send to storage? (Type 'yes' or 'no')", att.Filename),
		Patch:         patch,
		AwaitingInput: true,
	}
}

// confirm 消费 pending_selection：肯定则移交存储，否定则取消。
// 两种情况下该状态都被清除，绝不会被读取第二次。
func (a *UploadAgent) confirm(cmd command.Command, sess *session.Session) Result {
	if sess == nil || sess.PendingSelection == nil {
		return failure(
			xerrors.New(xerrors.CodeNoPendingSelection, ""),
			"No file verified. Type 'upload file' to start.",
		)
	}

	filename := sess.PendingSelection.Filename
	if !cmd.Confirmed() {
		logger.System().Info("upload cancelled",
			slog.String("agent", "upload"), slog.String("filename", filename))
		return Result{
			Reply:         "Operation cancelled. Type 'upload file' to start again.",
			Patch:         session.Patch{ClearPendingSelection: true},
			AwaitingInput: true,
		}
	}

	process := command.New(command.VerbProcessFile, command.ArgFilename, filename)
	if signer := cmd.Arg(command.ArgSignerID); signer != "" {
		process = process.WithArg(command.ArgSignerID, signer)
	}
	return Result{
		Reply:   fmt.Sprintf("File %s sent to storage.", filename),
		Patch:   session.Patch{ClearPendingSelection: true},
		HandOff: &command.RouteDecision{Target: command.AgentStorage, Command: process},
	}
}

// fileFromFallbackDir 返回目录下第一个扩展名匹配的文件。
func (a *UploadAgent) fileFromFallbackDir() (session.Attachment, bool) {
	entries, err := os.ReadDir(a.cfg.FallbackDir)
	if err != nil {
		a.log.Warn("读取候选目录失败", slog.String("dir", a.cfg.FallbackDir), slog.Any("error", err))
		return session.Attachment{}, false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		lower := strings.ToLower(name)
		for _, ext := range a.cfg.AllowedExtensions {
			if !strings.HasSuffix(lower, strings.ToLower(ext)) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(a.cfg.FallbackDir, name))
			if err != nil {
				a.log.Warn("读取候选文件失败", slog.String("file", name), slog.Any("error", err))
				return session.Attachment{}, false
			}
			return session.Attachment{Filename: name, Bytes: data}, true
		}
	}
	return session.Attachment{}, false
}
