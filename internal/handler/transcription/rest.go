package transcription

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medai-health/medai/backend/internal/auth"
	model "github.com/medai-health/medai/backend/internal/model/transcription"
	"github.com/medai-health/medai/backend/internal/service/ai"
	"github.com/medai-health/medai/backend/pkg/utils"
)

type healthResponse struct {
	Status         string            `json:"status"`
	Services       map[string]string `json:"services"`
	ActiveSessions int               `json:"active_sessions"`
	StoredSessions int               `json:"stored_sessions"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "healthy",
		Services: map[string]string{
			"speech": "ready",
			"ai":     "configured",
		},
		ActiveSessions: h.manager.Registry().Stats().ActiveCount,
		StoredSessions: h.manager.Store().Len(),
	}
	if !h.invoker.Ready() {
		resp.Status = "degraded"
		resp.Services["speech"] = "unavailable"
	}
	if h.summarizer == nil {
		resp.Services["ai"] = "disabled"
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.manager.Registry().Stats())
}

// visibleSession returns the session if the caller may see it. Sessions of
// other operators are reported as missing.
func (h *Handler) visibleSession(r *http.Request) (model.Session, bool) {
	sess, ok := h.manager.Store().Get(chi.URLParam(r, "sessionID"))
	if !ok {
		return model.Session{}, false
	}
	if id := auth.FromContext(r.Context()); sess.OwnerID != id.Owner {
		return model.Session{}, false
	}
	return sess, true
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.visibleSession(r)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	resp := sessionResponse{Session: sess}
	if at, ok := h.manager.Registry().ConnectedAt(sess.ID); ok {
		resp.ConnectedAt = &at
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

type sessionResponse struct {
	model.Session
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

type summaryRequest struct {
	ConversationType string `json:"conversation_type"`
}

type summaryResponse struct {
	SessionID        string     `json:"session_id"`
	ConversationType string     `json:"conversation_type"`
	Summary          ai.Summary `json:"summary"`
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	if h.summarizer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai summary unavailable")
		return
	}

	var req summaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationType == "" {
		req.ConversationType = ai.ConversationConsultation
	}
	if !h.summarizer.ValidConversationType(req.ConversationType) {
		utils.RespondError(w, http.StatusBadRequest, "unknown conversation_type")
		return
	}

	sess, ok := h.visibleSession(r)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if len(strings.TrimSpace(sess.Transcript)) < ai.MinTranscriptChars {
		utils.RespondError(w, http.StatusUnprocessableEntity, ai.ErrTranscriptTooShort.Error())
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		h.streamSummary(w, r, sess, req.ConversationType)
		return
	}

	summary, err := h.summarizer.Summarize(r.Context(), sess.Transcript, req.ConversationType)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sess.ID).Msg("summary failed")
		utils.RespondError(w, http.StatusBadGateway, "summary failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, summaryResponse{
		SessionID:        sess.ID,
		ConversationType: req.ConversationType,
		Summary:          summary,
	})
}

func (h *Handler) streamSummary(w http.ResponseWriter, r *http.Request, sess model.Session, conversationType string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.summarizer.Stream(r.Context(), sess.Transcript, conversationType)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sess.ID).Msg("summary stream failed")
		utils.RespondError(w, http.StatusBadGateway, "summary failed")
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.log.Error().Err(err).Str("session_id", sess.ID).Msg("summary stream interrupted")
			utils.SendSSEEvent(w, flusher, "error", map[string]string{"message": "summary interrupted"})
			return
		}
		full.WriteString(chunk.Content)
		utils.SendSSEEvent(w, flusher, "chunk", map[string]string{"content": chunk.Content})
	}

	summary, err := ai.ParseSummary(full.String())
	if err != nil {
		summary = ai.BasicSummary(sess.Transcript)
	}
	utils.SendSSEEvent(w, flusher, "done", summaryResponse{
		SessionID:        sess.ID,
		ConversationType: conversationType,
		Summary:          summary,
	})
}

type broadcastRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := h.validate.Struct(req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "message is required and at most 2000 characters")
		return
	}

	delivered := h.manager.Registry().Broadcast(model.NoticeMessage(req.Message, h.now()))
	h.log.Info().
		Str("by", auth.FromContext(r.Context()).Owner).
		Int("delivered", delivered).
		Msg("notice broadcast")
	utils.RespondJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}
