// Command speechtester exercises transcription by hand: either against the
// configured speech engine directly, or end to end over the session WebSocket.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/medai-health/medai/backend/internal/config"
	"github.com/medai-health/medai/backend/internal/logging"
	model "github.com/medai-health/medai/backend/internal/model/transcription"
	"github.com/medai-health/medai/backend/internal/service/speech"
)

func main() {
	_ = godotenv.Load()

	mode := flag.String("mode", "", "test mode: engine or ws")
	audioPath := flag.String("audio", "", "audio file to transcribe")
	server := flag.String("server", "ws://localhost:8080", "backend base URL (ws mode)")
	token := flag.String("token", "", "bearer token (ws mode)")
	session := flag.String("session", "", "session id, generated when empty")
	chunkSize := flag.Int("chunk", 32*1024, "bytes per audio_chunk frame (ws mode)")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	logger := logging.New(config.LogConfig{Level: "debug", Format: "console"}, os.Stderr)
	zlog.Logger = logger

	if *mode != "engine" && *mode != "ws" {
		flag.Usage()
		logger.Fatal().Msg("choose -mode=engine or -mode=ws")
	}
	if *audioPath == "" {
		logger.Fatal().Msg("-audio is required")
	}
	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("read audio")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "engine":
		err = runEngine(ctx, logger, audio)
	case "ws":
		err = runWebSocket(ctx, logger, *server, *token, sessionID, audio, *chunkSize)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("speech test failed")
	}
}

func runEngine(ctx context.Context, logger zerolog.Logger, audio []byte) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	var engine speech.Engine
	if cfg.Speech.Engine == config.EngineVolcengine {
		v := cfg.Speech.Volcengine
		engine, err = speech.NewVolcengineEngine(speech.VolcengineConfig{
			URL:         v.URL,
			AppID:       v.AppID,
			AccessToken: v.AccessToken,
			ResourceID:  v.ResourceID,
			Format:      v.Format,
			Language:    v.Language,
		}, logger)
		if err != nil {
			return err
		}
	} else {
		if !cfg.Whisper.Enabled() {
			return fmt.Errorf("WHISPER_SERVER_URL is not set")
		}
		whisper, err := speech.NewWhisperEngine(cfg.Whisper.ServerURL, logger,
			speech.WithWhisperModel(cfg.Whisper.ModelSize),
			speech.WithWhisperLanguage(cfg.Whisper.Language),
		)
		if err != nil {
			return err
		}
		if err := whisper.Load(ctx); err != nil {
			return fmt.Errorf("whisper server not reachable: %w", err)
		}
		engine = whisper
	}

	start := time.Now()
	text, err := engine.Transcribe(ctx, audio)
	if err != nil {
		return err
	}
	logger.Info().Dur("elapsed", time.Since(start)).Int("bytes", len(audio)).Msg("transcribed")
	fmt.Println(text)
	return nil
}

func runWebSocket(ctx context.Context, logger zerolog.Logger, server, token, sessionID string, audio []byte, chunkSize int) error {
	u, err := url.Parse(server)
	if err != nil {
		return fmt.Errorf("parse server URL: %w", err)
	}
	u = u.JoinPath("ws", "transcribe", sessionID)
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer conn.Close()
	logger.Info().Str("session_id", sessionID).Msg("connected")

	if chunkSize <= 0 {
		chunkSize = len(audio)
	}
	for start := 0; start < len(audio); start += chunkSize {
		end := min(start+chunkSize, len(audio))
		msg := map[string]string{"type": model.TypeAudioChunk, "data": base64.StdEncoding.EncodeToString(audio[start:end])}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("send chunk: %w", err)
		}
	}
	if err := conn.WriteJSON(map[string]string{"type": model.TypeAudioEnd}); err != nil {
		return fmt.Errorf("send audio_end: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	for {
		var msg model.Outbound
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch msg.Type {
		case model.TypeTranscript:
			if msg.Text == nil {
				continue
			}
			if msg.IsHistorical {
				logger.Info().Str("text", *msg.Text).Msg("historical transcript")
				continue
			}
			fmt.Println(*msg.Text)
			return nil
		case model.TypeError, model.TypeWarning:
			return fmt.Errorf("%s: %s (%s)", msg.Type, msg.Message, msg.Details)
		default:
			logger.Debug().Str("type", msg.Type).Msg("ignored message")
		}
	}
}
