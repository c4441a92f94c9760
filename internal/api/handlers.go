package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"OnchainAgent/internal/agent"
	xerrors "OnchainAgent/internal/errors"
	"OnchainAgent/internal/registry"
	"OnchainAgent/internal/stream"
)

type chatRequest struct {
	Input          string `json:"input"`
	ConversationID string `json:"conversation_id"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Agent     string `json:"agent"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	req.Input = strings.TrimSpace(req.Input)
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.Input == "" || req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, "input 与 conversation_id 均不能为空")
		return
	}
	if s.deps.Streams == nil {
		writeError(w, http.StatusServiceUnavailable, "智能体尚未初始化")
		return
	}

	ctx := r.Context()
	chunks, err := s.deps.Streams.OpenStream(ctx, req.Input, req.ConversationID)
	if err != nil {
		s.logger.Warn("打开对话流失败",
			slog.String("conversation_id", req.ConversationID),
			slog.String("request_id", requestIDFrom(ctx)),
			slog.Any("error", err))
		writeCodedError(w, err)
		return
	}

	if err := stream.WriteSSE(ctx, w, chunks); err != nil {
		s.logger.Debug("对话流提前结束",
			slog.String("conversation_id", req.ConversationID),
			slog.Any("error", err))
	}
}

func (s *Server) handleContracts(kind registry.Kind, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Contracts == nil {
			writeError(w, http.StatusServiceUnavailable, "合约登记表不可用")
			return
		}
		addresses, err := s.deps.Contracts.List(r.Context(), kind)
		if err != nil {
			s.logger.Error("查询合约地址失败", slog.String("kind", string(kind)), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "查询合约地址失败")
			return
		}
		writeJSON(w, http.StatusOK, map[string][]string{field: addresses})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Database:  "connected",
		Agent:     agent.StateUninitialized.String(),
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if s.deps.Database == nil {
		resp.Database = "unknown"
	} else if err := s.deps.Database.Ping(r.Context()); err != nil {
		s.logger.Warn("数据库健康检查失败", slog.Any("error", err))
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}
	if s.deps.Engine != nil {
		state, _ := s.deps.Engine.Status()
		resp.Agent = state.String()
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeCodedError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatusOf(err)
	if e, ok := xerrors.From(err); ok {
		writeJSON(w, status, map[string]string{"error": e.Error(), "code": string(e.Code())})
		return
	}
	writeError(w, status, err.Error())
}
