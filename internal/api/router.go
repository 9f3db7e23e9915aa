package api

import (
	"net/http"

	"codepair/internal/metrics"
	"codepair/internal/middleware"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// RouterOptions carries what the router needs besides the handler.
type RouterOptions struct {
	AllowedOrigins []string
	HTTPMetrics    *metrics.HTTP
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

// SetupRoutes builds the router. CORS wraps the whole router so preflight
// requests are answered before route matching.
func SetupRoutes(h *Handler, opts RouterOptions) http.Handler {
	r := mux.NewRouter()

	// Tracing first so recovery and metrics run inside the request span.
	r.Use(middleware.Tracing(opts.Logger))
	r.Use(middleware.Recovery(opts.Logger))
	if opts.HTTPMetrics != nil {
		r.Use(opts.HTTPMetrics.Middleware)
	}

	// Routes are matched on path only and dispatched by method in the
	// handler, so a known path with the wrong method answers 405.
	// Clients call these with and without the trailing slash.
	for _, p := range []string{"/api/sessions", "/api/sessions/"} {
		r.Handle(p, allow(http.MethodPost, h.CreateSession))
	}
	for _, p := range []string{"/api/sessions/{id}", "/api/sessions/{id}/"} {
		r.Handle(p, allow(http.MethodGet, h.GetSession))
	}
	r.Handle("/api/sessions/{id}/snapshot", allow(http.MethodGet, h.GetSnapshot))
	r.Handle("/api/health", allow(http.MethodGet, h.Health))

	if opts.Gatherer != nil {
		r.Handle("/metrics", allow(http.MethodGet, metrics.Handler(opts.Gatherer).ServeHTTP))
	}

	for _, p := range []string{"/ws/session/{id}", "/ws/session/{id}/"} {
		r.HandleFunc(p, h.HandleSessionWebSocket)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})(r)
}

// allow serves next for method and answers 405 for anything else.
func allow(method string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	})
}
