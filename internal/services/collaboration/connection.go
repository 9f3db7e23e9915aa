package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"codepair/internal/middleware"
	"codepair/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrConnectionClosed is returned by Join once the connection has closed.
var ErrConnectionClosed = errors.New("connection closed")

// ConnState is the lifecycle position of a Connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one participant's link to a session. Its inbound events
// are handled by a single reader goroutine; outbound messages go through
// a buffered queue drained by a single writer goroutine.
type Connection struct {
	*models.ConnectionInfo

	conn    *websocket.Conn
	send    chan []byte
	manager *SessionManager
	logger  *zap.Logger

	mu    sync.Mutex
	state ConnState

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Connection) ID() string { return c.ConnectionInfo.ID }

func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Outbound exposes the queue the writer drains. Used when no websocket is
// attached, e.g. in tests.
func (c *Connection) Outbound() <-chan []byte { return c.send }

// Deliver queues message for the writer without blocking. A full queue
// means the peer is not keeping up; the connection is closed rather than
// skipping messages, so what a peer receives is always an in-order prefix.
func (c *Connection) Deliver(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("send buffer full, closing connection")
		// Deliver runs under a session lock; Close takes it again.
		go c.Close()
		return false
	}
}

// Join moves the connection from Connecting to Joined: it registers the
// member, joins the broadcast group, sends init to this connection and
// announces the new count to the whole group.
func (c *Connection) Join(ctx context.Context) error {
	_, span := middleware.StartSpan(ctx, "Session.Join",
		attribute.String("session.id", c.SessionID),
		attribute.String("connection.id", c.ID()),
	)
	defer span.End()

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.mu.Unlock()

	m := c.manager
	// A connection closed before it is admitted never becomes a member, so
	// peers never see a count that includes it.
	admit := func() bool { return c.State() != StateClosed }
	count, admitted := m.registry.AddMemberIf(c.SessionID, c.ID(), admit, func(doc models.DocumentState, count int) {
		m.broadcaster.Join(c.SessionID, c)
		if _, err := m.broadcaster.SendTo(c.ID(), models.NewInitMessage(doc, count)); err != nil {
			c.logger.Error("failed to send init", zap.Error(err))
		}
		if _, err := m.broadcaster.Broadcast(c.SessionID, models.NewUserCountMessage(count)); err != nil {
			c.logger.Error("failed to broadcast user count", zap.Error(err))
		}
	})
	if !admitted {
		return ErrConnectionClosed
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Closed after admission. Close's leave may still be waiting on the
		// session lock; leaving twice is a no-op.
		c.mu.Unlock()
		c.leave()
		return ErrConnectionClosed
	}
	c.state = StateJoined
	c.mu.Unlock()

	m.metrics.ConnectionsActive.Inc()
	c.logger.Info("connection joined session",
		zap.Int("connected_users", count),
		zap.String("remote_addr", c.RemoteAddr),
	)
	return nil
}

// HandleMessage processes one inbound frame. Malformed frames and unknown
// types are dropped; nothing is sent back.
func (c *Connection) HandleMessage(ctx context.Context, raw []byte) {
	if c.State() != StateJoined {
		return
	}

	ctx, span := middleware.StartSpan(ctx, "Session.HandleMessage",
		attribute.String("session.id", c.SessionID),
		attribute.String("connection.id", c.ID()),
		attribute.Int("message.size", len(raw)),
	)
	defer span.End()

	m := c.manager
	var msg models.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		m.metrics.MessagesReceived.WithLabelValues("malformed").Inc()
		c.logger.Debug("dropping malformed message", zap.Error(err))
		return
	}

	switch msg.Type {
	case models.MessageTypeUpdate:
		if msg.Code == nil || msg.Language == nil {
			m.metrics.MessagesReceived.WithLabelValues("malformed").Inc()
			c.logger.Debug("dropping update without code or language")
			return
		}
		m.metrics.MessagesReceived.WithLabelValues(string(models.MessageTypeUpdate)).Inc()

		doc := models.DocumentState{Code: *msg.Code, Language: *msg.Language}
		err := m.registry.ApplyUpdate(c.SessionID, doc, func(applied models.DocumentState) {
			if _, err := m.broadcaster.Broadcast(c.SessionID, models.NewUpdateMessage(applied)); err != nil {
				c.logger.Error("failed to broadcast update", zap.Error(err))
			}
		})
		if err != nil {
			middleware.AddSpanError(ctx, err)
			c.logger.Warn("update not applied", zap.Error(err))
		}

	default:
		m.metrics.MessagesReceived.WithLabelValues("unknown").Inc()
		c.logger.Debug("ignoring message", zap.String("type", string(msg.Type)))
	}
}

// Close moves the connection to Closed. It is safe to call any number of
// times and from any state, including before or during Join.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		wasJoined := c.state == StateJoined
		c.state = StateClosed
		close(c.send)
		c.mu.Unlock()

		c.leave()
		if wasJoined {
			c.manager.metrics.ConnectionsActive.Dec()
		}
		c.manager.forget(c)
		close(c.done)
		c.logger.Info("connection closed", zap.Duration("connected_for", time.Since(c.ConnectedAt)))
	})
}

func (c *Connection) leave() {
	m := c.manager
	m.registry.RemoveMember(c.SessionID, c.ID(), func(count int) {
		m.broadcaster.Leave(c.SessionID, c.ID())
		if _, err := m.broadcaster.Broadcast(c.SessionID, models.NewUserCountMessage(count)); err != nil {
			c.logger.Error("failed to broadcast user count", zap.Error(err))
		}
	})
	// Covers the case where the group was joined but the member was not.
	m.broadcaster.Leave(c.SessionID, c.ID())
}

// ReadPump reads frames until the transport closes, then closes the
// connection.
func (c *Connection) ReadPump(ctx context.Context) {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Info("websocket read error", zap.Error(err))
			}
			return
		}
		c.HandleMessage(ctx, message)
	}
}

// WritePump drains the outbound queue one frame per message and keeps the
// transport alive with pings.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
