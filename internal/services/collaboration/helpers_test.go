package collaboration

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"codepair/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(t *testing.T, sendBuffer int) *SessionManager {
	t.Helper()
	sm := NewSessionManager(zap.NewNop(), metrics.NewHub(prometheus.NewRegistry()), sendBuffer)
	t.Cleanup(sm.Shutdown)
	return sm
}

// joinTest opens a connection with no websocket attached and joins it.
func joinTest(t *testing.T, sm *SessionManager, sessionID string) *Connection {
	t.Helper()
	c, err := sm.NewConnection(sessionID, nil, "test")
	require.NoError(t, err)
	require.NoError(t, c.Join(testContext(t)))
	return c
}

type wireMessage struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	Language       string `json:"language"`
	ConnectedUsers int    `json:"connected_users"`
}

func next(t *testing.T, c *Connection) wireMessage {
	t.Helper()
	select {
	case raw, ok := <-c.Outbound():
		require.True(t, ok, "outbound queue closed")
		var msg wireMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return wireMessage{}
	}
}

func requireQuiet(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case raw, ok := <-c.Outbound():
		if ok {
			t.Fatalf("unexpected message: %s", raw)
		}
	default:
	}
}

func updateFrame(code, language string) []byte {
	raw, _ := json.Marshal(map[string]string{"type": "update", "code": code, "language": language})
	return raw
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t testing.TB) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
