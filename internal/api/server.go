package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "FansDFS/internal/errors"
	"FansDFS/internal/orchestrator"
	"FansDFS/internal/records"
	"FansDFS/internal/session"
	"FansDFS/pkg/logger"
)

// Server 负责暴露 REST 接口，供控制台前端驱动对话回合。
type Server struct {
	addr    string
	orch    *orchestrator.Orchestrator
	records records.Repository
	log     *slog.Logger
}

// NewServer 构造 API 服务实例。records 可以为 nil，此时历史查询返回 404。
func NewServer(addr string, orch *orchestrator.Orchestrator, repo records.Repository) *Server {
	return &Server{addr: addr, orch: orch, records: repo, log: logger.Named("api")}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回路由表，测试直接挂在 httptest 上使用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/turns", s.handleTurns)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// turnRequest 是 POST /api/v1/turns 的请求体。
type turnRequest struct {
	ThreadID    string           `json:"thread_id,omitempty"`
	SignerID    string           `json:"signer_id,omitempty"`
	Utterance   string           `json:"utterance"`
	Attachments []turnAttachment `json:"attachments,omitempty"`
}

// turnAttachment 是随回合提交的附件，内容用 base64 编码。
type turnAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
}

// turnResponse 是 POST /api/v1/turns 的响应体。
type turnResponse struct {
	TurnID        string `json:"turn_id"`
	ThreadID      string `json:"thread_id"`
	Agent         string `json:"agent"`
	Reply         string `json:"reply"`
	HandOffs      int    `json:"hand_offs"`
	AwaitingInput bool   `json:"awaiting_input"`
	Failed        bool   `json:"failed"`
	ErrorCode     string `json:"error_code,omitempty"`
}

func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTurn(w, r)
	case http.MethodGet:
		s.handleListTurns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleCreateTurn 处理一次对话回合。
func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		http.Error(w, "编排器未初始化", http.StatusServiceUnavailable)
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	attachments := make([]session.Attachment, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		if !validAttachmentName(a.Filename) {
			http.Error(w, "附件文件名非法", http.StatusBadRequest)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(a.Content)
		if err != nil {
			http.Error(w, "附件内容不是合法的 base64", http.StatusBadRequest)
			return
		}
		attachments = append(attachments, session.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Bytes:       raw,
		})
	}

	result, err := s.orch.HandleTurn(r.Context(), orchestrator.TurnRequest{
		ThreadID:    req.ThreadID,
		SignerID:    req.SignerID,
		Utterance:   req.Utterance,
		Attachments: attachments,
	})
	if err != nil {
		s.log.Error("turn failed", "error", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(turnResponse{
		TurnID:        result.TurnID,
		ThreadID:      result.ThreadID,
		Agent:         string(result.Agent),
		Reply:         result.Reply,
		HandOffs:      result.HandOffs,
		AwaitingInput: result.AwaitingInput,
		Failed:        result.Failed,
		ErrorCode:     result.ErrorCode,
	})
}

// validAttachmentName 拒绝空名、路径分隔符与目录引用。附件名是会话内的
// 扁平命名空间，带路径前缀的名字会在文件存储落盘时互相覆盖。
func validAttachmentName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// handleListTurns 返回最近的回合历史，或按线程过滤。
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		http.Error(w, "回合历史未启用", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	if threadID := r.URL.Query().Get("thread_id"); threadID != "" {
		results, err := s.records.ListByThread(ctx, threadID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRecords(w, results)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	results, err := s.records.Recent(ctx, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRecords(w, results)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeRecords(w http.ResponseWriter, results []records.TurnRecord) {
	if results == nil {
		results = []records.TurnRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(results)
}

// writeError 把统一错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, xerrors.CodeMalformedCommandArgs:
		status = http.StatusBadRequest
	case xerrors.CodeNotAuthenticated:
		status = http.StatusUnauthorized
	case xerrors.CodeNotAuthorized:
		status = http.StatusForbidden
	case xerrors.CodeRoutingLoopDetected:
		status = http.StatusLoopDetected
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
