package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/skychat/backend/internal/handler/chat"
	"github.com/zhouzirui/skychat/backend/internal/handler/stream"
	"github.com/zhouzirui/skychat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/skychat/backend/internal/middleware"
	chatService "github.com/zhouzirui/skychat/backend/internal/service/chat"
	"github.com/zhouzirui/skychat/backend/internal/web"
	"github.com/zhouzirui/skychat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chatService.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	chatHandler := chat.New(chatSvc, logger)
	streamHandler := stream.New(chatSvc, logger)
	wsHandler := ws.NewWebSocketHandler(chatSvc, logger)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"sessions": chatSvc.Len(),
			})
		})

		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		wsHandler.RegisterWebSocketRoutes(api)
	})

	r.Handle("/*", web.Handler())

	return r
}
