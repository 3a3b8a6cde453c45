package httpserver

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware block
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.HandleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chunks", s.HandleUploadChunk)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.AdminAuthMiddleware)

			r.Post("/devices", s.HandleCreateDevice)
			r.Get("/devices", s.HandleListDevices)
			r.Patch("/devices/{deviceID}", s.HandleUpdateDevice)
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(s.InternalAuthMiddleware)

			r.Get("/chunks/{chunkID}/audio", s.HandleChunkAudio)
		})
	})

	return r
}
