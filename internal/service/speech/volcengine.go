package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// volcChunkBytes is 200ms of 16 kHz 16-bit mono PCM.
const volcChunkBytes = 6400

// VolcengineConfig configures VolcengineEngine.
type VolcengineConfig struct {
	URL         string
	AppID       string
	AccessToken string
	ResourceID  string
	Format      string
	Language    string
}

// VolcengineEngine transcribes through the Volcengine big-model ASR
// WebSocket API. Each utterance uses its own connection.
type VolcengineEngine struct {
	cfg       VolcengineConfig
	dialer    *websocket.Dialer
	chunkSize int
	log       zerolog.Logger
}

var _ Engine = (*VolcengineEngine)(nil)

// NewVolcengineEngine validates cfg and returns an engine.
func NewVolcengineEngine(cfg VolcengineConfig, logger zerolog.Logger) (*VolcengineEngine, error) {
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	if cfg.AppID == "" || cfg.AccessToken == "" {
		return nil, errors.New("volcengine ASR needs an app id and access token")
	}
	if cfg.URL == "" {
		return nil, errors.New("volcengine ASR URL is required")
	}
	if cfg.ResourceID == "" {
		cfg.ResourceID = "volc.bigasr.sauc.duration"
	}
	if cfg.Format == "" {
		cfg.Format = "wav"
	}
	return &VolcengineEngine{
		cfg:       cfg,
		dialer:    &websocket.Dialer{HandshakeTimeout: 30 * time.Second},
		chunkSize: volcChunkBytes,
		log:       logger.With().Str("component", "volcengine_asr").Logger(),
	}, nil
}

// Ready is always true: there is no model to load, and credential problems
// surface per call.
func (e *VolcengineEngine) Ready() bool { return true }

type volcRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Format   string `json:"format"`
		Language string `json:"language,omitempty"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName     string `json:"model_name"`
		EnableITN     bool   `json:"enable_itn"`
		EnablePunc    bool   `json:"enable_punc"`
		ResultType    string `json:"result_type,omitempty"`
		EndWindowSize int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type volcResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string `json:"text"`
		Utterances []struct {
			Text string `json:"text"`
		} `json:"utterances"`
	} `json:"result"`
}

func (r *volcResponse) text() string {
	if r.Result.Text != "" {
		return r.Result.Text
	}
	parts := make([]string, 0, len(r.Result.Utterances))
	for _, u := range r.Result.Utterances {
		if u.Text != "" {
			parts = append(parts, u.Text)
		}
	}
	return strings.Join(parts, " ")
}

// Transcribe streams audio to the service and returns the final text.
func (e *VolcengineEngine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	connectID := uuid.NewString()
	header := http.Header{}
	header.Set("X-Api-App-Key", e.cfg.AppID)
	header.Set("X-Api-Access-Key", e.cfg.AccessToken)
	header.Set("X-Api-Resource-Id", e.cfg.ResourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := e.dialer.DialContext(ctx, e.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return "", &EngineError{Err: fmt.Errorf("connect: %s: %w", resp.Status, err)}
		}
		return "", &EngineError{Err: fmt.Errorf("connect: %w", err)}
	}
	defer conn.Close()

	log := e.log.With().Str("connect_id", connectID).Logger()
	if logID := resp.Header.Get("X-Tt-Logid"); logID != "" {
		log = log.With().Str("logid", logID).Logger()
	}

	// Unblock reads and writes when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := e.send(conn, connectID, audio); err != nil {
		return "", e.wrap(ctx, err)
	}
	text, err := e.receive(conn)
	if err != nil {
		return "", e.wrap(ctx, err)
	}
	log.Debug().Int("bytes", len(audio)).Int("chars", len(text)).Msg("volcengine transcription done")
	return strings.TrimSpace(text), nil
}

func (e *VolcengineEngine) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &EngineError{Err: err}
}

func (e *VolcengineEngine) send(conn *websocket.Conn, uid string, audio []byte) error {
	var req volcRequest
	req.User.UID = uid
	req.Audio.Format = e.cfg.Format
	req.Audio.Language = e.cfg.Language
	req.Audio.Codec = "raw"
	req.Audio.Rate = 16000
	req.Audio.Bits = 16
	req.Audio.Channel = 1
	req.Request.ModelName = "bigmodel"
	req.Request.EnableITN = true
	req.Request.EnablePunc = true
	req.Request.ResultType = "full"
	req.Request.EndWindowSize = 800

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	payload, err := gzipBytes(body)
	if err != nil {
		return err
	}
	first := &volcFrame{
		msgType:       volcFullClientRequest,
		flags:         volcNoSequence,
		serialization: volcJSONSerialization,
		compression:   volcGzipCompression,
		payload:       payload,
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, first.encode()); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	// The full client request takes sequence 1; audio starts at 2.
	seq := int32(2)
	for start := 0; start < len(audio); start += e.chunkSize {
		end := min(start+e.chunkSize, len(audio))
		f, err := audioFrame(audio[start:end], seq, end == len(audio))
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, f.encode()); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		seq++
	}
	return nil
}

func (e *VolcengineEngine) receive(conn *websocket.Conn) (string, error) {
	var text string
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		f, err := decodeVolcFrame(data)
		if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}

		switch f.msgType {
		case volcErrorMessage:
			return "", fmt.Errorf("asr error %d: %s", f.errorCode, strings.TrimSpace(string(f.payload)))
		case volcFullServerResponse:
			var resp volcResponse
			if err := json.Unmarshal(f.payload, &resp); err != nil {
				return "", fmt.Errorf("decode result: %w", err)
			}
			if resp.Code != 0 && resp.Code != 20000000 {
				return "", fmt.Errorf("asr error %d: %s", resp.Code, resp.Message)
			}
			if t := resp.text(); t != "" {
				text = t
			}
			if f.last() {
				return text, nil
			}
		}
	}
}
