package api

import (
	"net/http"
)

// HandleSessionWebSocket joins the caller to the session named in the path.
func (h *Handler) HandleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleSessionConnection(w, r)
}
