package routers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"lessonhub/collab/internal/api"
	"lessonhub/collab/internal/metrics"
)

func New(log *zap.Logger, h *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(metrics.Middleware("collab"))

	// The websocket route stays outside the timeout group: connections are
	// long-lived by design.
	r.Get("/ws/lesson/{id}", h.LessonWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Get("/api/v1/healthz", h.Health)
		r.Get("/api/v1/collaboration/{id}/users", h.LessonCollaborators)
		r.Get("/api/v1/lessons/{id}", h.GetLesson)
		r.Get("/api/v1/lessons/{id}/sections", h.GetLessonSections)
	})

	return r
}
