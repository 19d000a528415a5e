package transcription

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medai-health/medai/backend/internal/auth"
	"github.com/medai-health/medai/backend/internal/config"
	model "github.com/medai-health/medai/backend/internal/model/transcription"
	"github.com/medai-health/medai/backend/internal/service/speech/mock"
)

func newTestServer(t *testing.T, h *Handler) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterWebSocketRoutes(r)
	r.Route("/api", h.RegisterRoutes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, sessionID, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/transcribe/" + sessionID
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv, sessionID, ""), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) model.Outbound {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg model.Outbound
	require.NoError(t, c.ReadJSON(&msg))
	return msg
}

func writeFrame(t *testing.T, c *websocket.Conn, raw []byte) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, raw))
}

func TestWebSocketUtteranceRoundTrip(t *testing.T) {
	h := newTestHandler(t, &mock.Engine{}, testOptions{})
	srv := newTestServer(t, h)
	c := dial(t, srv, "s1")

	writeFrame(t, c, chunkFrame(t, bytesOf(250, 'a')))
	writeFrame(t, c, chunkFrame(t, bytesOf(250, 'b')))
	writeFrame(t, c, chunkFrame(t, bytesOf(500, 'c')))
	writeFrame(t, c, typeFrame(t, model.TypeAudioEnd))
	writeFrame(t, c, typeFrame(t, model.TypePing))

	msg := readMsg(t, c)
	assert.Equal(t, model.TypeTranscript, msg.Type)
	require.NotNil(t, msg.Text)
	assert.Equal(t, mock.Output(make([]byte, 1000)), *msg.Text)
	assert.Equal(t, model.TypePong, readMsg(t, c).Type, "frames are answered in order")

	sess, ok := h.manager.Store().Get("s1")
	require.True(t, ok)
	assert.Equal(t, *msg.Text, sess.Transcript)
	assert.Equal(t, model.StatusActive, sess.Status)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool {
		_, exists := h.manager.Store().Get("s1")
		return !exists && h.manager.Registry().Stats().ActiveCount == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect tears down store and registry together")
}

func TestWebSocketOverflow(t *testing.T) {
	h := newTestHandler(t, &mock.Engine{}, testOptions{maxAudio: 5000})
	srv := newTestServer(t, h)
	c := dial(t, srv, "s1")

	writeFrame(t, c, chunkFrame(t, bytesOf(6000, 'x')))
	writeFrame(t, c, typeFrame(t, model.TypeAudioEnd))

	msg := readMsg(t, c)
	assert.Equal(t, model.TypeError, msg.Type)
	assert.Equal(t, msgBufferOverflow, msg.Message)

	warn := readMsg(t, c)
	assert.Equal(t, model.TypeWarning, warn.Type, "buffer was emptied by the overflow")
}

func TestWebSocketDisplacementReplaysHistory(t *testing.T) {
	h := newTestHandler(t, &mock.Engine{}, testOptions{})
	srv := newTestServer(t, h)

	first := dial(t, srv, "s1")
	writeFrame(t, first, chunkFrame(t, bytesOf(7, 'a')))
	writeFrame(t, first, typeFrame(t, model.TypeAudioEnd))
	require.Equal(t, model.TypeTranscript, readMsg(t, first).Type)

	second := dial(t, srv, "s1")
	hist := readMsg(t, second)
	assert.Equal(t, model.TypeTranscript, hist.Type)
	assert.True(t, hist.IsHistorical)
	assert.Equal(t, mock.Output(make([]byte, 7)), *hist.Text)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := first.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CloseCodeDisplaced, closeErr.Code)

	// The displaced connection's teardown must leave the successor intact.
	writeFrame(t, second, typeFrame(t, model.TypePing))
	assert.Equal(t, model.TypePong, readMsg(t, second).Type)
	_, ok := h.manager.Store().Get("s1")
	assert.True(t, ok)
	assert.Equal(t, 1, h.manager.Registry().Stats().ActiveCount)
}

func TestWebSocketReconnectAfterTeardownStartsEmpty(t *testing.T) {
	h := newTestHandler(t, &mock.Engine{}, testOptions{})
	srv := newTestServer(t, h)

	c := dial(t, srv, "s1")
	writeFrame(t, c, chunkFrame(t, bytesOf(3, 'a')))
	writeFrame(t, c, typeFrame(t, model.TypeAudioEnd))
	require.Equal(t, model.TypeTranscript, readMsg(t, c).Type)
	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return h.manager.Store().Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	again := dial(t, srv, "s1")
	writeFrame(t, again, typeFrame(t, model.TypePing))
	assert.Equal(t, model.TypePong, readMsg(t, again).Type, "no historical replay after teardown")
}

func TestWebSocketDisconnectWhileTranscribing(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	engine := &mock.Engine{Gate: gate, Started: started}
	h := newTestHandler(t, engine, testOptions{})
	srv := newTestServer(t, h)

	c := dial(t, srv, "s1")
	writeFrame(t, c, chunkFrame(t, bytesOf(64, 'a')))
	writeFrame(t, c, typeFrame(t, model.TypeAudioEnd))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("transcription never started")
	}
	require.NoError(t, c.Close())

	require.Eventually(t, func() bool {
		_, exists := h.manager.Store().Get("s1")
		return !exists && h.manager.Registry().Stats().ActiveCount == 0
	}, 2*time.Second, 10*time.Millisecond)
	close(gate)

	assert.Never(t, func() bool {
		_, exists := h.manager.Store().Get("s1")
		return exists
	}, 150*time.Millisecond, 10*time.Millisecond, "late result must not resurrect the session")
}

func TestWebSocketSessionsAreIsolated(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 1)
	engine := &mock.Engine{Gate: gate, Started: started}
	h := newTestHandler(t, engine, testOptions{})
	srv := newTestServer(t, h)

	slow := dial(t, srv, "slow")
	writeFrame(t, slow, chunkFrame(t, bytesOf(8, 'a')))
	writeFrame(t, slow, typeFrame(t, model.TypeAudioEnd))
	<-started

	// Another session keeps being served while "slow" waits on the engine.
	fast := dial(t, srv, "fast")
	writeFrame(t, fast, typeFrame(t, model.TypePing))
	assert.Equal(t, model.TypePong, readMsg(t, fast).Type)

	close(gate)
	assert.Equal(t, model.TypeTranscript, readMsg(t, slow).Type)
}

func TestWebSocketAuth(t *testing.T) {
	authCfg := config.AuthConfig{SecretKey: "k", Algorithm: "HS256", Required: true}
	h := newTestHandler(t, &mock.Engine{}, testOptions{auth: authCfg})
	srv := newTestServer(t, h)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1", ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	tok, err := auth.NewResolver(authCfg).Sign(&auth.Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: "dr-a"}})
	require.NoError(t, err)
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1", "token="+tok), nil)
	require.NoError(t, err)
	defer c.Close()

	writeFrame(t, c, typeFrame(t, model.TypePing))
	assert.Equal(t, model.TypePong, readMsg(t, c).Type)
	sess, ok := h.manager.Store().Get("s1")
	require.True(t, ok)
	assert.Equal(t, "dr-a", sess.OwnerID)
}

func TestWebSocketRejectsOtherOperator(t *testing.T) {
	authCfg := config.AuthConfig{SecretKey: "k", Algorithm: "HS256"}
	h := newTestHandler(t, &mock.Engine{}, testOptions{auth: authCfg})
	srv := newTestServer(t, h)

	tok, err := auth.NewResolver(authCfg).Sign(&auth.Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: "dr-a"}})
	require.NoError(t, err)
	owner, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1", "token="+tok), nil)
	require.NoError(t, err)
	defer owner.Close()
	writeFrame(t, owner, typeFrame(t, model.TypePing))
	require.Equal(t, model.TypePong, readMsg(t, owner).Type)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1", ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	authCfg := config.AuthConfig{SecretKey: "k", Algorithm: "HS256", Required: true}
	h := newTestHandler(t, &mock.Engine{}, testOptions{auth: authCfg, origins: []string{"https://app.medai.example"}})
	srv := newTestServer(t, h)

	tok, err := auth.NewResolver(authCfg).Sign(&auth.Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: "dr-a"}})
	require.NoError(t, err)
	owner, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1", "token="+tok), nil)
	require.NoError(t, err)
	defer owner.Close()
	writeFrame(t, owner, typeFrame(t, model.TypePing))
	require.Equal(t, model.TypePong, readMsg(t, owner).Type)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	header.Set("Cookie", "access_token="+tok)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "s1", ""), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// The owner's connection was not displaced.
	writeFrame(t, owner, typeFrame(t, model.TypePing))
	assert.Equal(t, model.TypePong, readMsg(t, owner).Type)

	header.Set("Origin", "https://app.medai.example")
	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "s2", ""), header)
	require.NoError(t, err)
	defer c.Close()
	writeFrame(t, c, typeFrame(t, model.TypePing))
	assert.Equal(t, model.TypePong, readMsg(t, c).Type)
}

func TestBroadcastReachesEverySession(t *testing.T) {
	h := newTestHandler(t, &mock.Engine{}, testOptions{})
	srv := newTestServer(t, h)

	a := dial(t, srv, "a")
	b := dial(t, srv, "b")
	require.Eventually(t, func() bool { return h.manager.Registry().Stats().ActiveCount == 2 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/transcription/broadcast", "application/json", strings.NewReader(`{"message":"clinic closes at 6pm"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range []*websocket.Conn{a, b} {
		msg := readMsg(t, c)
		assert.Equal(t, model.TypeNotice, msg.Type)
		assert.Equal(t, "clinic closes at 6pm", msg.Message)
	}
}
