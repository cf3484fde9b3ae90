package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRoutes(h *Handlers) http.Handler {
	if h.Log == nil {
		h.Log = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(Logging(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", HeaderRequestID},
		ExposedHeaders:   []string{HeaderRequestID, "X-View-Version"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", Healthz)
	// long-lived, so outside the timeout group
	r.Get("/room/stream", h.Stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/session", h.GetSession)
		r.Post("/rooms", h.CreateRoom)
		r.Post("/rooms/join", h.JoinRoom)

		r.Route("/room", func(r chi.Router) {
			r.Post("/leave", h.LeaveRoom)
			r.Get("/view", h.GetView)
			r.Post("/refresh", h.Refresh)
			r.Post("/twist/ack", h.AckTwist)
			r.Post("/actions/{action}", h.RunAction)
			r.Put("/title", h.UpdateTitle)
			r.Put("/character", h.UpdateCharacter)
			r.Post("/messages", h.SendMessage)
			r.Get("/story.md", h.StoryMarkdown)
			r.Post("/export", h.ExportStory)
		})
	})
	return r
}
