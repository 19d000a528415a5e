package transcription

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medai-health/medai/backend/internal/service/ai"
	aimock "github.com/medai-health/medai/backend/internal/service/ai/mock"
	"github.com/medai-health/medai/backend/internal/service/session"
	"github.com/medai-health/medai/backend/internal/service/speech/mock"
)

const longTranscript = "Patient has had a dry cough and a headache since Monday."

func newRESTServer(t *testing.T, engine *mock.Engine, summarizer Summarizer) (*Handler, *httptest.Server) {
	t.Helper()
	h := newTestHandler(t, engine, testOptions{summarizer: summarizer})
	return h, newTestServer(t, h)
}

func seedSession(t *testing.T, h *Handler, id, transcript string) session.Lease {
	t.Helper()
	lease, err := h.manager.Open(id, "default", &recordingConn{})
	require.NoError(t, err)
	h.manager.Store().AppendTranscript(id, transcript)
	return lease
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	engine := &mock.Engine{NotReady: true}
	_, srv := newRESTServer(t, engine, nil)

	var body healthResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unavailable", body.Services["speech"])
	assert.Equal(t, "disabled", body.Services["ai"])

	engine.SetReady(true)
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ready", body.Services["speech"])
	assert.Zero(t, body.StoredSessions)
	assert.Zero(t, body.ActiveSessions)
}

func TestStatsAndSessionSnapshot(t *testing.T) {
	h, srv := newRESTServer(t, &mock.Engine{}, nil)
	seedSession(t, h, "b", "second")
	seedSession(t, h, "a", "first words")

	var stats session.Stats
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/transcription/stats", &stats))
	assert.Equal(t, 2, stats.ActiveCount)
	assert.Equal(t, []string{"a", "b"}, stats.SessionIDs)
	assert.GreaterOrEqual(t, stats.AggregateUptimeSeconds, 0.0)

	var snap map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/transcription/sessions/a", &snap))
	assert.Equal(t, "first words", snap["transcript"])
	assert.Equal(t, "active", snap["status"])
	assert.Equal(t, "default", snap["owner_id"])
	connectedAt, ok := snap["connected_at"].(string)
	require.True(t, ok, "live sessions report when they connected")
	_, err := time.Parse(time.RFC3339Nano, connectedAt)
	assert.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/transcription/sessions/missing", nil))
}

func postSummary(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestSummaryUnavailableWithoutAI(t *testing.T) {
	h, srv := newRESTServer(t, &mock.Engine{}, nil)
	seedSession(t, h, "s1", longTranscript)

	resp := postSummary(t, srv.URL+"/api/transcription/sessions/s1/summary", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	chatModel := &aimock.ChatModel{Reply: `{"present_complaints":"Dry cough, headache","impression":"Viral illness"}`}
	svc, err := ai.NewService(t.Context(), chatModel, zerolog.Nop())
	require.NoError(t, err)
	h, srv := newRESTServer(t, &mock.Engine{}, svc)
	seedSession(t, h, "s1", longTranscript)
	seedSession(t, h, "short", "hi")

	resp := postSummary(t, srv.URL+"/api/transcription/sessions/s1/summary", `{"conversation_type":"followup"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body summaryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "s1", body.SessionID)
	assert.Equal(t, "followup", body.ConversationType)
	assert.Equal(t, "Dry cough, headache", body.Summary["present_complaints"])
	assert.Equal(t, ai.NotDocumented, body.Summary["management_plan"])

	assert.Equal(t, http.StatusUnprocessableEntity,
		postSummary(t, srv.URL+"/api/transcription/sessions/short/summary", `{}`).StatusCode)
	assert.Equal(t, http.StatusNotFound,
		postSummary(t, srv.URL+"/api/transcription/sessions/none/summary", `{}`).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		postSummary(t, srv.URL+"/api/transcription/sessions/s1/summary", `{"conversation_type":"dental"}`).StatusCode)
}

func TestSummaryStream(t *testing.T) {
	reply := `{"present_complaints":"Dry cough"}`
	svc, err := ai.NewService(t.Context(), &aimock.ChatModel{Reply: reply, Chunks: 4}, zerolog.Nop())
	require.NoError(t, err)
	h, srv := newRESTServer(t, &mock.Engine{}, svc)
	seedSession(t, h, "s1", longTranscript)

	resp := postSummary(t, srv.URL+"/api/transcription/sessions/s1/summary?stream=true", `{"conversation_type":"emergency"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	var chunks strings.Builder
	var done summaryResponse
	scanner := bufio.NewScanner(resp.Body)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			events = append(events, event)
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			if event == "chunk" {
				var c map[string]string
				require.NoError(t, json.Unmarshal([]byte(data), &c))
				chunks.WriteString(c["content"])
			} else if event == "done" {
				require.NoError(t, json.Unmarshal([]byte(data), &done))
			}
		}
	}

	require.NotEmpty(t, events)
	assert.Equal(t, "done", events[len(events)-1])
	assert.Equal(t, reply, chunks.String())
	assert.Equal(t, "Dry cough", done.Summary["present_complaints"])
}

func TestBroadcastValidation(t *testing.T) {
	_, srv := newRESTServer(t, &mock.Engine{}, nil)

	for _, body := range []string{`{}`, `{"message":"   "}`, `not json`, `{"message":"` + strings.Repeat("x", 2001) + `"}`} {
		resp, err := http.Post(srv.URL+"/api/transcription/broadcast", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}
