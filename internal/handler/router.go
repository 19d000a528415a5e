package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medai-health/medai/backend/internal/handler/transcription"
	middlewarePkg "github.com/medai-health/medai/backend/internal/middleware"
	"github.com/medai-health/medai/backend/internal/observe"
)

// RouterDeps are the pieces the HTTP surface is built from.
type RouterDeps struct {
	Transcription *transcription.Handler
	Metrics       *observe.Metrics
	CORSOrigins   []string
	Logger        zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observe.Middleware(d.Metrics, d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.CORSOrigins))

	r.Handle("/metrics", promhttp.Handler())

	d.Transcription.RegisterWebSocketRoutes(r)
	r.Route("/api", d.Transcription.RegisterRoutes)

	return r
}
