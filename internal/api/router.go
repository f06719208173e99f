package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/speechloop/speechloop/internal/websocket"
)

// Router wires the API handlers into the HTTP mux
type Router struct {
	handler  *Handler
	wsServer *websocket.Server
}

// NewRouter creates the API router
func NewRouter(handler *Handler, wsServer *websocket.Server) *Router {
	return &Router{
		handler:  handler,
		wsServer: wsServer,
	}
}

// Routes returns the assembled HTTP handler
func (r *Router) Routes() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)

	mux.Get("/health", r.handler.GetHealth)
	mux.Get("/ws", r.wsServer.HandleConnection)

	mux.Route("/api/v1", func(mux chi.Router) {
		mux.Post("/users", r.handler.RegisterUser)
		mux.Get("/users/{externalID}/balance", r.handler.GetBalance)
		mux.Get("/users/{externalID}/transcriptions", r.handler.GetTranscriptions)

		mux.Post("/submissions", r.handler.CreateSubmission)
		mux.Post("/submissions/{pendingID}/confirm", r.handler.ConfirmSubmission)

		mux.Post("/transcriptions/{id}/score", r.handler.ScoreRecord)
	})

	return mux
}
