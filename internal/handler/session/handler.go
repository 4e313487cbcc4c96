package session

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/memoria/backend/internal/errs"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	chatSvc     *chatService.Service
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{
		chatSvc:     chatSvc,
		readTimeout: wsReadTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions/{owner}", func(r chi.Router) {
		r.Use(requireOwner)

		r.Get("/", h.handleListSessions)
		r.Post("/", h.handleCreateSession)
		r.Put("/focus", h.handleSetFocus)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Use(requireSessionID)

			r.Get("/", h.handleGetSession)
			r.Post("/messages", h.handleSendMessage)
			r.Get("/stream", h.handleStream)
			r.Get("/ws", h.handleWebSocket)
		})
	})
}

// requireOwner 在访问存储前校验 owner 是否为 UUID
func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := chatService.ValidateID("owner", chi.URLParam(r, "owner")); err != nil {
			respondServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requireSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := chatService.ValidateID("session", chi.URLParam(r, "sessionID")); err != nil {
			respondServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleListSessions 列出用户的会话摘要（按最近活跃排序）
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.chatSvc.ListSessions(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

// handleCreateSession 创建会话并生成开场问候
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.StartSession(r.Context(), chi.URLParam(r, "owner"), payload.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, session)
}

// handleGetSession 获取完整会话
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.GetSession(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

// handleSendMessage 发送一条用户消息并返回助手回复
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.chatSvc.SendMessage(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "sessionID"), payload.Content, nil)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, reply)
}

// handleSetFocus 设置下一轮对话的主题提示
func (h *Handler) handleSetFocus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Focus string `json:"focus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := chi.URLParam(r, "owner")
	if err := h.chatSvc.SetFocus(owner, payload.Focus); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"focus": h.chatSvc.PendingFocus(owner)})
}

// respondServiceError 按错误类型映射HTTP状态码，内部错误不向客户端暴露细节
func respondServiceError(w http.ResponseWriter, err error) {
	status, message := publicError(err)
	utils.RespondError(w, status, message)
}

// publicError hides the details of internal failures from clients.
func publicError(err error) (int, string) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("[session] internal error: %v", err)
		return status, "internal error"
	}
	return status, err.Error()
}
