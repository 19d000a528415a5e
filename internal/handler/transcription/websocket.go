package transcription

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/medai-health/medai/backend/internal/service/session"
	"github.com/medai-health/medai/backend/pkg/utils"
)

const closeSessionEnded = "session ended"

// frameLimit caps one inbound frame. A chunk that decodes to more than the
// audio limit still fits, so the client gets the overflow error; frames far
// beyond it are refused by the transport.
func (h *Handler) frameLimit() int64 {
	return int64(base64.StdEncoding.EncodedLen(h.maxAudioBytes+1)) + 64<<10
}

// handleWebSocket runs one client connection: admit, loop, tear down.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionID is required")
		return
	}

	if !h.originAllowed(r) {
		h.log.Warn().Str("session_id", sessionID).Str("origin", r.Header.Get("Origin")).Msg("cross-origin upgrade refused")
		utils.RespondError(w, http.StatusForbidden, "origin not allowed")
		return
	}

	identity, err := h.auth.Resolve(r)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if existing, ok := h.manager.Store().Get(sessionID); ok && existing.OwnerID != identity.Owner {
		utils.RespondError(w, http.StatusForbidden, session.ErrOwnerMismatch.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("session_id", sessionID).Msg("upgrade failed")
		return
	}
	ws.SetReadLimit(h.frameLimit())
	conn := newWSConn(ws)

	lease, err := h.manager.Open(sessionID, identity.Owner, conn)
	if err != nil {
		// Lost a race with another operator between the check and Open.
		h.log.Warn().Err(err).Str("session_id", sessionID).Str("owner", identity.Owner).Msg("connection refused")
		_ = conn.Close(err.Error())
		return
	}

	log := h.log.With().Str("session_id", sessionID).Str("conn_id", lease.ConnID).Logger()
	log.Info().
		Str("owner", identity.Owner).
		Bool("resumed", !lease.Created).
		Bool("displaced", lease.Displaced).
		Msg("session connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.metrics.ActiveSessions.Add(ctx, 1)
	defer h.metrics.ActiveSessions.Add(context.Background(), -1)

	frames := make(chan []byte, frameQueue)
	go func() {
		defer cancel()
		err := conn.readFrames(ctx, frames)
		switch {
		case errors.Is(err, context.Canceled):
		case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, CloseCodeDisplaced):
			log.Warn().Err(err).Msg("read error")
		default:
			log.Debug().Err(err).Msg("reader stopped")
		}
	}()
	go conn.pingLoop(ctx)

	h.newSessionLoop(lease).run(ctx, lease, frames)
	cancel()

	if final, ok := h.manager.Close(sessionID, lease.ConnID); ok {
		log.Info().
			Str("status", string(final.Status)).
			Int("transcript_chars", len(final.Transcript)).
			Msg("session closed")
	} else {
		log.Info().Msg("connection closed, session owned by newer connection")
	}
	_ = conn.Close(closeSessionEnded)
}
