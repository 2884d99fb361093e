package agents

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"FansDFS/internal/command"
	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/ledger"
	"FansDFS/internal/pinning"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// StorageConfig 描述存储智能体的行为参数。
type StorageConfig struct {
	// ContractID 是记录文件交易的合约。
	ContractID string
	// GroupID 标识内容所属的群组。
	GroupID string
	// DefaultUserID 在没有签名者时作为记录归属。
	DefaultUserID string
	// GroupKey 为 32 字节时启用上传前的对称加密，为空则明文上传。
	GroupKey []byte
	// AllowedExtensions 是可处理的文件扩展名。
	AllowedExtensions []string
}

// StorageAgent 执行哈希、固定与上链记录的三步流水线。
type StorageAgent struct {
	pinner pinning.Client
	ledger ledger.Client
	cfg    StorageConfig
	log    *slog.Logger
}

// NewStorageAgent 创建存储智能体。
func NewStorageAgent(pinner pinning.Client, ledgerClient ledger.Client, cfg StorageConfig) *StorageAgent {
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".mp3"}
	}
	return &StorageAgent{
		pinner: pinner,
		ledger: ledgerClient,
		cfg:    cfg,
		log:    logger.Named("storage-agent"),
	}
}

// ID 实现 Agent 接口。
func (a *StorageAgent) ID() command.AgentID { return command.AgentStorage }

// Handle 处理文件处理命令。
func (a *StorageAgent) Handle(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	if cmd.Verb != command.VerbProcessFile {
		return Result{Reply: "Please type 'process file' to start processing.", AwaitingInput: true}
	}
	return a.processFile(ctx, cmd, sess)
}

// processFile 按哈希 → 固定 → 上链的顺序处理文件。任意一步失败都会
// 终止流水线且不改动会话状态；已经固定成功的内容不会回滚，只记录日志。
func (a *StorageAgent) processFile(ctx context.Context, cmd command.Command, sess *session.Session) Result {
	filename := cmd.Arg(command.ArgFilename)
	if filename == "" {
		return failure(
			xerrors.New(xerrors.CodeMalformedCommandArgs, "process file 缺少文件名"),
			"No file specified. Type 'upload file' to start.",
		)
	}

	att, ok := sess.Attachment(filename)
	if !ok {
		return failure(
			xerrors.New(xerrors.CodeUnsupportedFileType, "附件不存在"),
			fmt.Sprintf("File %s not found in thread. Type 'upload file' to start.", filename),
		)
	}
	if !a.extensionAllowed(filename) {
		return failure(
			xerrors.New(xerrors.CodeUnsupportedFileType, ""),
			fmt.Sprintf("File %s has an unsupported type. Allowed: %s.", filename, strings.Join(a.cfg.AllowedExtensions, ", ")),
		)
	}

	// 内容哈希基于原始字节计算：相同内容永远得到相同哈希。
	digest := sha256.Sum256(att.Bytes)
	fileHash := hex.EncodeToString(digest[:])

	payload := att.Bytes
	if len(a.cfg.GroupKey) > 0 {
		encrypted, err := encryptPayload(a.cfg.GroupKey, att.Bytes)
		if err != nil {
			a.log.Error("加密文件失败", slog.String("filename", filename), slog.Any("error", err))
			return failure(
				xerrors.Wrap(xerrors.CodeInvalidArgument, err, "加密文件失败"),
				fmt.Sprintf("Failed to encrypt file: %v", err),
			)
		}
		payload = encrypted
	}

	if a.pinner == nil {
		return failure(
			xerrors.New(xerrors.CodePinningFailure, "固定服务未配置"),
			"Failed to upload file to IPFS: pinning service is not configured.",
		)
	}
	contentID, err := a.pinner.Pin(ctx, filename, payload)
	if err != nil {
		a.log.Error("固定文件失败", slog.String("filename", filename), slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodePinningFailure, err, "固定文件失败"),
			fmt.Sprintf("Failed to upload file to IPFS: %v", err),
		)
	}
	logger.System().Info("file pinned",
		slog.String("agent", "storage"), slog.String("filename", filename), slog.String("content_id", contentID))

	userID := signerOf(cmd, sess)
	if userID == "" {
		userID = a.cfg.DefaultUserID
	}

	outcome, err := a.ledger.Call(ctx, a.cfg.ContractID, "record_transaction", map[string]any{
		"group_id":  a.cfg.GroupID,
		"user_id":   userID,
		"file_hash": fileHash,
		"ipfs_hash": contentID,
	}, defaultGas, oneYocto)
	if err != nil || !outcome.Success {
		if err == nil {
			err = xerrors.New(xerrors.CodeLedgerCallFailed, "交易记录被账本拒绝")
		}
		// 文件已经固定成功，账本记录失败留下一个孤儿 CID。
		// 这是已接受的不一致窗口，只记录，不回滚。
		a.log.Error("上链记录失败，内容已固定",
			slog.String("filename", filename), slog.String("content_id", contentID), slog.Any("error", err))
		return failure(
			xerrors.Wrap(xerrors.CodeLedgerCallFailed, err, "上链记录失败"),
			fmt.Sprintf("Failed to record transaction on NEAR: %v", err),
		)
	}

	logger.System().Info("transaction recorded",
		slog.String("agent", "storage"),
		slog.String("file_hash", fileHash),
		slog.String("content_id", contentID),
		slog.String("transaction_hash", outcome.TransactionHash))

	return Result{
		Reply: fmt.Sprintf("File %s uploaded to IPFS: %s. Transaction ID: %s", filename, contentID, outcome.TransactionHash),
		Patch: session.Patch{
			Attachments: []session.Attachment{
				{Filename: filename + ".processed", Bytes: []byte("done")},
			},
		},
		AwaitingInput: true,
	}
}

func (a *StorageAgent) extensionAllowed(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range a.cfg.AllowedExtensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// encryptPayload 用 AES-256-GCM 加密内容，随机 nonce 置于密文前部。
func encryptPayload(key, data []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("群组密钥必须是 32 字节，当前 %d 字节", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}
