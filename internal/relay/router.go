package relay

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	middlewarePkg "github.com/amora-labs/amora/client/internal/middleware"
	"github.com/amora-labs/amora/client/internal/model/profile"
	"github.com/amora-labs/amora/client/pkg/utils"
)

// NewRouter wires the relay HTTP surface: the coach catalogue and the
// websocket conversation endpoint.
func NewRouter(profiles profile.Store, chatHandler *ChatHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		api.Get("/coaches", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, profiles.List())
		})
		api.Get("/coaches/{coachID}", func(w http.ResponseWriter, r *http.Request) {
			coach, ok := profiles.FindByID(chi.URLParam(r, "coachID"))
			if !ok {
				utils.RespondError(w, http.StatusNotFound, "coach not found")
				return
			}
			utils.RespondJSON(w, http.StatusOK, coach)
		})
	})

	chatHandler.RegisterRoutes(r)

	return r
}
