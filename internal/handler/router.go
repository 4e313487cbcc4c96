package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/memoria/backend/internal/handler/memory"
	"github.com/zhouzirui/memoria/backend/internal/handler/session"
	"github.com/zhouzirui/memoria/backend/internal/handler/tools"
	middlewarePkg "github.com/zhouzirui/memoria/backend/internal/middleware"
	chatService "github.com/zhouzirui/memoria/backend/internal/service/chat"
	toolService "github.com/zhouzirui/memoria/backend/internal/service/tools"
	"github.com/zhouzirui/memoria/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, registry *toolService.Registry, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins...))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	session.New(chatSvc).RegisterRoutes(r)
	memory.New(chatSvc).RegisterRoutes(r)
	tools.New(registry).RegisterRoutes(r)

	return r
}
