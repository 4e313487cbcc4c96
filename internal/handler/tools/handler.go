package tools

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	toolService "github.com/zhouzirui/memoria/backend/internal/service/tools"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// Handler 暴露工具目录的线上 schema
type Handler struct {
	registry *toolService.Registry
}

// New 创建工具目录处理器
func New(registry *toolService.Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes 注册工具目录路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tools", h.handleList)
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.registry.Wire())
}
