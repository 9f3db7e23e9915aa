package collaboration

import (
	"context"
	"net/http"
	"strings"

	"codepair/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades session requests and runs the connection
// lifecycle.
type WebSocketHandler struct {
	sessionManager *SessionManager
	upgrader       websocket.Upgrader
	logger         *zap.Logger
}

// NewWebSocketHandler creates a handler. allowedOrigins of ["*"] accepts
// any origin.
func NewWebSocketHandler(sessionManager *SessionManager, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// HandleSessionConnection serves /ws/session/{id}.
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("session.id", sessionID),
	)
	defer span.End()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", zap.String("session_id", sessionID), zap.Error(err))
		middleware.AddSpanError(ctx, err)
		return
	}

	c, err := h.sessionManager.NewConnection(sessionID, conn, r.RemoteAddr)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	// Start the writer first so init is flushed as soon as it is queued.
	go c.WritePump()

	if err := c.Join(ctx); err != nil {
		middleware.AddSpanError(ctx, err)
		c.Close()
		return
	}

	// The request context ends when this handler returns; the reader
	// outlives it.
	go c.ReadPump(context.WithoutCancel(ctx))
}
