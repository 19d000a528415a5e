package transcription

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/medai-health/medai/backend/internal/auth"
	"github.com/medai-health/medai/backend/internal/config"
	model "github.com/medai-health/medai/backend/internal/model/transcription"
	"github.com/medai-health/medai/backend/internal/observe"
	"github.com/medai-health/medai/backend/internal/service/session"
	"github.com/medai-health/medai/backend/internal/service/speech"
	"github.com/medai-health/medai/backend/internal/service/speech/mock"
)

const testMaxAudio = 5000

type testOptions struct {
	maxAudio   int
	auth       config.AuthConfig
	summarizer Summarizer
	origins    []string
}

func newTestHandler(t *testing.T, engine *mock.Engine, opts testOptions) *Handler {
	t.Helper()
	if opts.maxAudio == 0 {
		opts.maxAudio = testMaxAudio
	}
	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	require.NoError(t, err)

	manager := session.NewManager(session.NewStore(), session.NewRegistry(zerolog.Nop()), zerolog.Nop())
	invoker := speech.NewInvoker(engine, speech.InvokerConfig{
		MaxAudioBytes: opts.maxAudio,
		Concurrency:   2,
		Timeout:       5 * time.Second,
	}, metrics, zerolog.Nop())

	return New(Deps{
		Manager:        manager,
		Invoker:        invoker,
		Summarizer:     opts.summarizer,
		Auth:           auth.NewResolver(opts.auth),
		Metrics:        metrics,
		MaxAudioBytes:  opts.maxAudio,
		Logger:         zerolog.Nop(),
		AllowedOrigins: opts.origins,
	})
}

// recordingConn is an in-memory session.Conn.
type recordingConn struct {
	mu     sync.Mutex
	msgs   []model.Outbound
	closed []string
}

func (c *recordingConn) Send(msg model.Outbound) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.closed) > 0 {
		return errors.New("closed")
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingConn) Close(reason string) error {
	c.mu.Lock()
	c.closed = append(c.closed, reason)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) messages() []model.Outbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Outbound(nil), c.msgs...)
}

func (c *recordingConn) waitFor(t *testing.T, n int) []model.Outbound {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.messages()) >= n }, 2*time.Second, 5*time.Millisecond)
	return c.messages()
}

func frame(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func chunkFrame(t *testing.T, audio []byte) []byte {
	return frame(t, map[string]string{"type": model.TypeAudioChunk, "data": base64.StdEncoding.EncodeToString(audio)})
}

func typeFrame(t *testing.T, typ string) []byte {
	return frame(t, map[string]string{"type": typ})
}

func bytesOf(n int, b byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
