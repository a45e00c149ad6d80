package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fortisvoice/backend/internal/handler/bridge"
	"github.com/fortisvoice/backend/internal/handler/session"
	middlewarePkg "github.com/fortisvoice/backend/internal/middleware"
	chatService "github.com/fortisvoice/backend/internal/service/chat"
	"github.com/fortisvoice/backend/pkg/utils"
	"github.com/fortisvoice/backend/web"
)

// NewRouter wires HTTP routes to the chat service.
func NewRouter(allowedOrigins []string, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	sessionHandler := session.New(chatSvc)
	bridgeHandler := bridge.New(chatSvc, allowedOrigins)

	r.Method(http.MethodGet, "/", web.IndexHandler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": chatSvc.Len(),
		})
	})

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
		bridgeHandler.RegisterRoutes(api)
	})

	return r
}
