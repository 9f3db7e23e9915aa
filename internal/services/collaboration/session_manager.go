package collaboration

import (
	"sync"

	"codepair/internal/metrics"
	"codepair/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SessionManager ties the registry and broadcaster together and tracks the
// live connections so they can be closed on shutdown.
type SessionManager struct {
	registry    *Registry
	broadcaster *Broadcaster
	metrics     *metrics.Hub
	logger      *zap.Logger
	sendBuffer  int

	mu          sync.Mutex
	connections map[string]*Connection
	evictor     *Evictor
	closed      bool
}

// NewSessionManager creates a manager. sendBuffer is the per-connection
// outbound queue length.
func NewSessionManager(logger *zap.Logger, m *metrics.Hub, sendBuffer int) *SessionManager {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	sm := &SessionManager{
		registry:    NewRegistry(),
		broadcaster: NewBroadcaster(),
		metrics:     m,
		logger:      logger,
		sendBuffer:  sendBuffer,
		connections: make(map[string]*Connection),
	}

	sm.registry.OnCreate = func(sessionID string) {
		m.SessionsActive.Inc()
		logger.Info("session created", zap.String("session_id", sessionID))
	}
	sm.registry.OnRemove = func(sessionID string) {
		m.SessionsActive.Dec()
		sm.broadcaster.Forget(sessionID)
	}
	sm.broadcaster.OnDrop = func(connID string) {
		m.DeliveriesDropped.Inc()
	}
	return sm
}

func (sm *SessionManager) Registry() *Registry { return sm.registry }

func (sm *SessionManager) Broadcaster() *Broadcaster { return sm.broadcaster }

// NewConnection builds a connection in the Connecting state. conn may be
// nil when the caller drains Outbound itself.
func (sm *SessionManager) NewConnection(sessionID string, conn *websocket.Conn, remoteAddr string) (*Connection, error) {
	info := models.NewConnectionInfo(sessionID, remoteAddr)
	c := &Connection{
		ConnectionInfo: info,
		conn:           conn,
		send:           make(chan []byte, sm.sendBuffer),
		manager:        sm,
		logger: sm.logger.With(
			zap.String("session_id", sessionID),
			zap.String("conn_id", info.ID),
		),
		state: StateConnecting,
		done:  make(chan struct{}),
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil, ErrConnectionClosed
	}
	sm.connections[c.ID()] = c
	return c, nil
}

func (sm *SessionManager) forget(c *Connection) {
	sm.mu.Lock()
	delete(sm.connections, c.ID())
	sm.mu.Unlock()
}

// Snapshot returns the current view of a live session.
func (sm *SessionManager) Snapshot(sessionID string) (models.SessionSnapshot, bool) {
	return sm.registry.Snapshot(sessionID)
}

// SessionCount is the number of sessions held, empty ones included.
func (sm *SessionManager) SessionCount() int { return sm.registry.Len() }

func (sm *SessionManager) ConnectionCount() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.connections)
}

// SetEvictor attaches an evictor so Shutdown stops it.
func (sm *SessionManager) SetEvictor(e *Evictor) {
	sm.mu.Lock()
	sm.evictor = e
	sm.mu.Unlock()
}

// Shutdown closes every live connection and refuses new ones.
func (sm *SessionManager) Shutdown() {
	sm.logger.Info("shutting down session manager")

	sm.mu.Lock()
	sm.closed = true
	evictor := sm.evictor
	conns := make([]*Connection, 0, len(sm.connections))
	for _, c := range sm.connections {
		conns = append(conns, c)
	}
	sm.mu.Unlock()

	if evictor != nil {
		evictor.Stop()
	}
	for _, c := range conns {
		c.Close()
	}
	sm.logger.Info("session manager shutdown complete", zap.Int("closed_connections", len(conns)))
}
