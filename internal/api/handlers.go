package api

import (
	"encoding/json"
	"net/http"

	"codepair/internal/middleware"
	"codepair/internal/models"
	"codepair/internal/services/collaboration"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Handler serves the session allocation API and the hub endpoints.
type Handler struct {
	allocator SessionAllocator
	sessions  SessionView
	wsHandler *collaboration.WebSocketHandler
	logger    *zap.Logger
}

func NewHandler(
	allocator SessionAllocator,
	sessions SessionView,
	wsHandler *collaboration.WebSocketHandler,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		allocator: allocator,
		sessions:  sessions,
		wsHandler: wsHandler,
		logger:    logger,
	}
}

// CreateSession mints a new session id. The session itself only comes to
// life when the first connection joins it.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.allocator.Create(r.Context())
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		h.logger.Error("failed to allocate session",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

type sessionResponse struct {
	models.SessionInfo
	Issued bool `json:"issued"`
}

// GetSession echoes the id and its URL. Any id is accepted; sessions are
// created on first join. issued tells whether the id was minted here.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	issued, err := h.allocator.Issued(r.Context(), id)
	if err != nil {
		middleware.AddSpanError(r.Context(), err)
		h.logger.Warn("failed to check session id",
			zap.String("session_id", id),
			zap.Error(err),
		)
	}

	writeJSON(w, http.StatusOK, sessionResponse{SessionInfo: h.allocator.Describe(id), Issued: issued})
}

// GetSnapshot returns the current document and member count of a live
// session.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, ok := h.sessions.Snapshot(id)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    h.sessions.SessionCount(),
		"connections": h.sessions.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
