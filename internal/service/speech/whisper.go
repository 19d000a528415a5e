package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

const (
	defaultWhisperLanguage = "en"
	defaultWhisperModel    = "base"
	maxErrorBodyBytes      = 512
)

// WhisperOption configures a WhisperEngine.
type WhisperOption func(*WhisperEngine)

// WithWhisperModel sets the model identifier sent with every request
// (e.g. "base", "small.en").
func WithWhisperModel(model string) WhisperOption {
	return func(e *WhisperEngine) { e.model = model }
}

// WithWhisperLanguage sets the recognition language. Defaults to "en".
func WithWhisperLanguage(lang string) WhisperOption {
	return func(e *WhisperEngine) { e.language = lang }
}

// WithWhisperHTTPClient replaces the default HTTP client.
func WithWhisperHTTPClient(c *http.Client) WhisperOption {
	return func(e *WhisperEngine) { e.httpClient = c }
}

// WithWhisperLoadBackoff overrides the retry policy used by Load.
func WithWhisperLoadBackoff(b backoff.BackOff) WhisperOption {
	return func(e *WhisperEngine) { e.loadBackoff = b }
}

// WhisperEngine transcribes utterances with a whisper.cpp server. Each
// utterance is posted as one file to POST /inference. The engine reports
// not-ready until Load has seen the server's /health endpoint answer.
type WhisperEngine struct {
	serverURL   string
	model       string
	language    string
	httpClient  *http.Client
	loadBackoff backoff.BackOff
	ready       atomic.Bool
	log         zerolog.Logger
}

var _ Engine = (*WhisperEngine)(nil)

// NewWhisperEngine creates an engine for the server at serverURL
// (e.g. "http://localhost:8081").
func NewWhisperEngine(serverURL string, logger zerolog.Logger, opts ...WhisperOption) (*WhisperEngine, error) {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if serverURL == "" {
		return nil, errors.New("whisper: server URL must not be empty")
	}
	e := &WhisperEngine{
		serverURL:  serverURL,
		model:      defaultWhisperModel,
		language:   defaultWhisperLanguage,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        logger.With().Str("component", "whisper").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.loadBackoff == nil {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = time.Second
		eb.MaxInterval = 30 * time.Second
		e.loadBackoff = eb
	}
	return e, nil
}

// Ready reports whether the server has answered a health probe.
func (e *WhisperEngine) Ready() bool { return e.ready.Load() }

// Load blocks until the server reports healthy, retrying with exponential
// backoff, or until ctx is done. It is meant to run in the background at
// start-up; transcription requests fail with ErrModelUnavailable meanwhile.
func (e *WhisperEngine) Load(ctx context.Context) error {
	e.log.Info().Str("url", e.serverURL).Str("model", e.model).Msg("waiting for whisper model")

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := e.probe(ctx); err != nil {
			e.log.Debug().Err(err).Msg("whisper not ready yet")
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(e.loadBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		e.log.Error().Err(err).Msg("whisper model failed to load")
		return fmt.Errorf("whisper: load: %w", err)
	}

	e.ready.Store(true)
	e.log.Info().Str("model", e.model).Msg("whisper model loaded")
	return nil
}

func (e *WhisperEngine) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.serverURL+"/health", nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("whisper: create health request: %w", err))
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisper: health request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper: health returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Transcribe posts audio to the inference endpoint and returns the trimmed
// text.
func (e *WhisperEngine) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if !e.Ready() {
		return "", ErrModelUnavailable
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", &EngineError{Err: fmt.Errorf("create form file: %w", err)}
	}
	if _, err := fw.Write(audio); err != nil {
		return "", &EngineError{Err: fmt.Errorf("write audio: %w", err)}
	}
	fields := map[string]string{
		"response_format": "json",
		"temperature":     "0.0",
		"language":        e.language,
		"model":           e.model,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return "", &EngineError{Err: fmt.Errorf("write %s field: %w", k, err)}
		}
	}
	if err := mw.Close(); err != nil {
		return "", &EngineError{Err: fmt.Errorf("close multipart writer: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+"/inference", &body)
	if err != nil {
		return "", &EngineError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", &EngineError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return "", &EngineError{Err: fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))}
	}

	var result struct {
		Text  string `json:"text"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &EngineError{Err: fmt.Errorf("parse response: %w", err)}
	}
	if result.Error != "" {
		return "", &EngineError{Err: errors.New(result.Error)}
	}

	return strings.TrimSpace(result.Text), nil
}
