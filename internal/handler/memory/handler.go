package memory

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/memoria/backend/internal/model/memory"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// Lister 返回某个用户的长期记忆
type Lister interface {
	Memories(owner string) []memory.Entry
}

// Handler 长期记忆的只读HTTP处理器
type Handler struct {
	memories Lister
}

// New 创建记忆处理器
func New(memories Lister) *Handler {
	return &Handler{memories: memories}
}

// RegisterRoutes 注册记忆相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/memories/{owner}", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")
	if err := chatService.ValidateID("owner", owner); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries := h.memories.Memories(owner)
	if entries == nil {
		entries = []memory.Entry{}
	}
	utils.RespondJSON(w, http.StatusOK, entries)
}
