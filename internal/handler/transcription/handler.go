// Package transcription serves the real-time transcription WebSocket and the
// REST endpoints that inspect and summarize live sessions.
package transcription

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/medai-health/medai/backend/internal/auth"
	"github.com/medai-health/medai/backend/internal/middleware"
	"github.com/medai-health/medai/backend/internal/observe"
	"github.com/medai-health/medai/backend/internal/service/ai"
	"github.com/medai-health/medai/backend/internal/service/session"
	"github.com/medai-health/medai/backend/internal/service/speech"
)

// frameQueue is how many client frames may wait while a session is busy,
// typically awaiting a transcription.
const frameQueue = 64

// Summarizer produces clinical summaries of transcripts.
type Summarizer interface {
	ValidConversationType(t string) bool
	Summarize(ctx context.Context, transcript, conversationType string) (ai.Summary, error)
	Stream(ctx context.Context, transcript, conversationType string) (*schema.StreamReader[*schema.Message], error)
}

// Deps are the collaborators a Handler needs. Summarizer may be nil.
type Deps struct {
	Manager       *session.Manager
	Invoker       *speech.Invoker
	Summarizer    Summarizer
	Auth          *auth.Resolver
	Metrics       *observe.Metrics
	MaxAudioBytes int
	Logger        zerolog.Logger

	// AllowedOrigins lists browser origins that may open the WebSocket.
	AllowedOrigins []string
}

// Handler wires the transcription endpoints.
type Handler struct {
	manager       *session.Manager
	invoker       *speech.Invoker
	summarizer    Summarizer
	auth          *auth.Resolver
	metrics       *observe.Metrics
	maxAudioBytes int
	origins       []string
	validate      *validator.Validate
	upgrader      websocket.Upgrader
	log           zerolog.Logger
	now           func() time.Time
}

// New creates a Handler.
func New(d Deps) *Handler {
	h := &Handler{
		manager:       d.Manager,
		invoker:       d.Invoker,
		summarizer:    d.Summarizer,
		auth:          d.Auth,
		metrics:       d.Metrics,
		maxAudioBytes: d.MaxAudioBytes,
		origins:       d.AllowedOrigins,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		log:           d.Logger.With().Str("component", "transcription_ws").Logger(),
		now:           time.Now,
	}
	h.upgrader = websocket.Upgrader{
		// Browsers send the access_token cookie on cross-site upgrades and
		// apply no CORS to them.
		CheckOrigin:     h.originAllowed,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return h
}

func (h *Handler) originAllowed(r *http.Request) bool {
	return middleware.OriginAllowed(h.origins, r)
}

// RegisterWebSocketRoutes mounts the streaming endpoint on r.
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/transcribe/{sessionID}", h.handleWebSocket)
}

// RegisterRoutes mounts the REST endpoints under api.
func (h *Handler) RegisterRoutes(api chi.Router) {
	api.Get("/health", h.handleHealth)

	api.Route("/transcription", func(r chi.Router) {
		r.Use(h.auth.Middleware)
		r.Get("/stats", h.handleStats)
		r.Get("/sessions/{sessionID}", h.handleGetSession)
		r.Post("/sessions/{sessionID}/summary", h.handleSummary)
		r.Post("/broadcast", h.handleBroadcast)
	})
}
