package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codepair/internal/metrics"
	"codepair/internal/models"
	"codepair/internal/repository"
	"codepair/internal/services"
	"codepair/internal/services/collaboration"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hub struct {
	server   *httptest.Server
	sessions *collaboration.SessionManager
}

func newHub(t *testing.T) *hub {
	t.Helper()
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()

	sm := collaboration.NewSessionManager(logger, metrics.NewHub(reg), 64)
	alloc := services.NewAllocator(repository.NewMemorySessionRepository(), "http://localhost:5173/session/", logger)
	ws := collaboration.NewWebSocketHandler(sm, []string{"*"}, logger)

	router := SetupRoutes(NewHandler(alloc, sm, ws, logger), RouterOptions{
		AllowedOrigins: []string{"*"},
		HTTPMetrics:    metrics.NewHTTP(reg),
		Gatherer:       reg,
		Logger:         logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		sm.Shutdown()
		server.Close()
	})
	return &hub{server: server, sessions: sm}
}

func (h *hub) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Language       string `json:"language"`
	ConnectedUsers int    `json:"connected_users"`
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestWebSocketSessionFlow(t *testing.T) {
	h := newHub(t)

	a := h.dial(t, "/ws/session/abc123/")
	initMsg := read(t, a)
	assert.Equal(t, frame{Type: "init", Code: models.DefaultDocument, Language: models.DefaultLanguage, ConnectedUsers: 1}, initMsg)
	assert.Equal(t, frame{Type: "user_count", ConnectedUsers: 1}, read(t, a))

	b := h.dial(t, "/ws/session/abc123")
	assert.Equal(t, "init", read(t, b).Type)
	assert.Equal(t, frame{Type: "user_count", ConnectedUsers: 2}, read(t, b))
	assert.Equal(t, frame{Type: "user_count", ConnectedUsers: 2}, read(t, a))

	require.NoError(t, a.WriteJSON(map[string]string{"type": "update", "code": "x=1", "language": "py"}))
	want := frame{Type: "update", Code: "x=1", Language: "py"}
	assert.Equal(t, want, read(t, a))
	assert.Equal(t, want, read(t, b))

	require.NoError(t, b.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	assert.Equal(t, frame{Type: "user_count", ConnectedUsers: 1}, read(t, a))

	snap, ok := h.sessions.Snapshot("abc123")
	require.True(t, ok)
	assert.Equal(t, "x=1", snap.Code)
	assert.Equal(t, 1, snap.ConnectedUsers)
}

func TestWebSocketSessionsIsolated(t *testing.T) {
	h := newHub(t)

	s1 := h.dial(t, "/ws/session/s1/")
	s2 := h.dial(t, "/ws/session/s2/")
	read(t, s1)
	read(t, s1)
	read(t, s2)
	read(t, s2)

	require.NoError(t, s1.WriteJSON(map[string]string{"type": "update", "code": "s1 only", "language": "go"}))
	assert.Equal(t, "s1 only", read(t, s1).Code)

	require.NoError(t, s2.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := s2.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestWebSocketIgnoresGarbage(t *testing.T) {
	h := newHub(t)

	a := h.dial(t, "/ws/session/g/")
	read(t, a)
	read(t, a)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{{not json")))
	require.NoError(t, a.WriteJSON(map[string]string{"type": "update", "code": "fine", "language": "go"}))

	// The connection survives the bad frame and the next update goes out.
	assert.Equal(t, "fine", read(t, a).Code)
}

func TestCreateThenJoin(t *testing.T) {
	h := newHub(t)

	resp, err := http.Post(h.server.URL+"/api/sessions/", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var info models.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Len(t, info.ID, 8)

	issuedResp, err := http.Get(h.server.URL + "/api/sessions/" + info.ID + "/")
	require.NoError(t, err)
	defer issuedResp.Body.Close()
	var described struct {
		ID     string `json:"id"`
		Issued bool   `json:"issued"`
	}
	require.NoError(t, json.NewDecoder(issuedResp.Body).Decode(&described))
	assert.Equal(t, info.ID, described.ID)
	assert.True(t, described.Issued)

	// Allocation does not create live state.
	_, ok := h.sessions.Snapshot(info.ID)
	assert.False(t, ok)

	conn := h.dial(t, "/ws/session/"+info.ID+"/")
	assert.Equal(t, 1, read(t, conn).ConnectedUsers)

	snapResp, err := http.Get(h.server.URL + "/api/sessions/" + info.ID + "/snapshot")
	require.NoError(t, err)
	defer snapResp.Body.Close()
	assert.Equal(t, http.StatusOK, snapResp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHub(t)

	health, err := http.Get(h.server.URL + "/api/health")
	require.NoError(t, err)
	health.Body.Close()

	resp, err := http.Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body strings.Builder
	_, err = io.Copy(&body, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `codepair_http_requests_total{method="GET",path="/api/health",status="200"} 1`)
	assert.Contains(t, body.String(), "codepair_sessions_active 0")
}
