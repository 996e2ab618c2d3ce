package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/zen-companion/backend/internal/handler/persona"
	"github.com/zhouzirui/zen-companion/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/zen-companion/backend/internal/middleware"
	personaModel "github.com/zhouzirui/zen-companion/backend/internal/model/persona"
	"github.com/zhouzirui/zen-companion/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. A nil relayer leaves the chat
// routes answering 503.
func NewRouter(personas personaModel.Store, activePersona string, relayer stream.Relayer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	personaHandler := persona.New(personas, activePersona)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)

		if relayer == nil {
			unavailable := func(w http.ResponseWriter, r *http.Request) {
				utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
			}
			api.Post("/chat", unavailable)
			api.Get("/chat/ws", unavailable)
			return
		}

		stream.New(relayer).RegisterRoutes(api)
	})

	return r
}
