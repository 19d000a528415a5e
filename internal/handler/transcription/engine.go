package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	model "github.com/medai-health/medai/backend/internal/model/transcription"
	"github.com/medai-health/medai/backend/internal/service/audio"
	"github.com/medai-health/medai/backend/internal/service/session"
	"github.com/medai-health/medai/backend/internal/service/speech"
)

// Client-facing message texts.
const (
	msgBufferOverflow      = "Audio buffer limit exceeded"
	msgDecodeFailed        = "Audio decoding failed"
	msgNoAudio             = "No audio data received"
	msgTranscriptionFailed = "Transcription failed"
	msgInvalidFormat       = "Invalid message format"
	msgInternal            = "Internal error"
)

// sessionLoop is the single worker for one connection. It handles one frame
// to completion, including waiting for its transcription, before taking the
// next, so every mutation of a session is applied in receipt order.
type sessionLoop struct {
	h         *Handler
	sessionID string
	connID    string
	buf       *audio.Buffer
	log       zerolog.Logger

	// beforeHandle runs ahead of dispatch; tests use it to inject faults.
	beforeHandle func(model.Inbound)
}

func (h *Handler) newSessionLoop(lease session.Lease) *sessionLoop {
	return &sessionLoop{
		h:         h,
		sessionID: lease.SessionID,
		connID:    lease.ConnID,
		buf:       audio.NewBuffer(h.maxAudioBytes),
		log: h.log.With().
			Str("session_id", lease.SessionID).
			Str("conn_id", lease.ConnID).
			Logger(),
	}
}

// run replays any stored transcript, then processes frames until the stream
// closes or ctx is cancelled.
func (s *sessionLoop) run(ctx context.Context, lease session.Lease, frames <-chan []byte) {
	if lease.Session.Transcript != "" {
		s.send(model.HistoricalTranscriptMessage(s.sessionID, lease.Session.Transcript))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-frames:
			if !ok {
				return
			}
			s.handleFrame(ctx, raw)
		}
	}
}

// handleFrame never lets a failure escape: every outcome becomes a reply.
func (s *sessionLoop) handleFrame(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("message handler panicked")
			s.reject(ctx, "panic", model.ErrorMessage(msgInternal, fmt.Sprint(r)))
		}
	}()

	msg, err := model.ParseInbound(raw)
	if err != nil {
		s.h.metrics.RecordMessage(ctx, "invalid")
		s.reject(ctx, "invalid_format", model.ErrorMessage(msgInvalidFormat, err.Error()))
		return
	}

	if s.beforeHandle != nil {
		s.beforeHandle(msg)
	}

	switch msg.Type {
	case model.TypeAudioChunk:
		s.h.metrics.RecordMessage(ctx, msg.Type)
		s.handleAudioChunk(ctx, msg)
	case model.TypeAudioEnd:
		s.h.metrics.RecordMessage(ctx, msg.Type)
		s.handleAudioEnd(ctx)
	case model.TypePatientInfo:
		s.h.metrics.RecordMessage(ctx, msg.Type)
		s.mutate(func(st *session.Store) { st.UpdatePatientInfo(s.sessionID, msg.Patient()) })
		s.send(model.PatientInfoUpdatedMessage())
	case model.TypePing:
		s.h.metrics.RecordMessage(ctx, msg.Type)
		s.send(model.PongMessage(s.h.now()))
	case model.TypeClearTranscript:
		s.h.metrics.RecordMessage(ctx, msg.Type)
		if s.mutate(func(st *session.Store) { st.ClearTranscript(s.sessionID) }) {
			s.send(model.TranscriptClearedMessage())
		}
	default:
		// Unknown types are ignored so newer clients keep working.
		s.h.metrics.RecordMessage(ctx, "unknown")
		s.log.Debug().Str("type", msg.Type).Msg("ignoring unknown message type")
	}
}

func (s *sessionLoop) handleAudioChunk(ctx context.Context, msg model.Inbound) {
	if strings.TrimSpace(msg.Data) == "" {
		return
	}

	chunk, err := audio.DecodeChunk(msg.Data)
	if err != nil {
		s.log.Warn().Err(err).Msg("audio chunk rejected")
		s.reject(ctx, "decode", model.ErrorMessage(msgDecodeFailed, err.Error()))
		return
	}

	if err := s.buf.Append(chunk); err != nil {
		if errors.Is(err, audio.ErrBufferOverflow) {
			s.log.Warn().Err(err).Msg("audio buffer overflow, buffer cleared")
			s.reject(ctx, "overflow", model.ErrorMessage(msgBufferOverflow, fmt.Sprintf("max %d bytes", s.buf.Max())))
			return
		}
		s.reject(ctx, "buffer", model.ErrorMessage(msgInternal, err.Error()))
	}
}

// handleAudioEnd hands the utterance to a transcription worker and waits for
// its result or cancellation. Other sessions keep running meanwhile.
func (s *sessionLoop) handleAudioEnd(ctx context.Context) {
	if s.buf.IsEmpty() {
		s.reject(ctx, "no_audio", model.WarningMessage(msgNoAudio))
		return
	}

	utterance := s.buf.TakeAndClear()

	var res speech.Result
	select {
	case res = <-s.h.invoker.Dispatch(ctx, utterance):
	case <-ctx.Done():
		s.log.Debug().Int("bytes", len(utterance)).Msg("connection closed during transcription, result discarded")
		return
	}

	if res.Err != nil {
		if ctx.Err() != nil {
			return
		}
		kind := speech.Kind(res.Err)
		s.log.Warn().Err(res.Err).Str("kind", kind).Int("bytes", len(utterance)).Msg("transcription failed")
		s.reject(ctx, kind, model.ErrorMessage(msgTranscriptionFailed, kind))
		return
	}

	applied := s.mutate(func(st *session.Store) { st.AppendTranscript(s.sessionID, res.Text) })
	if !applied {
		return
	}
	s.log.Info().Int("bytes", len(utterance)).Int("chars", len(res.Text)).Dur("elapsed", res.Elapsed).Msg("utterance transcribed")
	s.send(model.TranscriptMessage(s.sessionID, res.Text, res.Finished))
}

// mutate applies fn to the store only while this connection owns the session.
func (s *sessionLoop) mutate(fn func(*session.Store)) bool {
	return s.h.manager.Mutate(s.sessionID, s.connID, fn)
}

func (s *sessionLoop) send(msg model.Outbound) {
	s.h.manager.Registry().SendConn(s.sessionID, s.connID, msg)
}

func (s *sessionLoop) reject(ctx context.Context, kind string, msg model.Outbound) {
	s.h.metrics.RecordProtocolError(ctx, kind)
	s.send(msg)
}
