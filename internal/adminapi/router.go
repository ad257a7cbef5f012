// Package adminapi is the local HTTP surface a companion chat bot (out of
// scope) drives: session status, an operator display push, local-provider
// usage correction, and provider metadata lookup (§9).
package adminapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter builds the admin API's chi router.
//
// Routes:
//   - GET  /status                 - session-active summary
//   - GET  /sessions/current       - full current-session detail
//   - POST /display                - push an operator display message
//   - POST /refill                 - correct a local-provider usage counter
//   - GET  /provider/{tag}/info    - a provider's self-reported metadata
//
// This API binds to a loopback or otherwise trusted address by configuration
// (§9); it carries no authentication of its own, matching the "local
// administration endpoint" framing of the callbacks it serves.
func NewRouter(h *Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/status", h.Status)
	r.Get("/sessions/current", h.CurrentSession)
	r.Post("/display", h.Display)
	r.Post("/refill", h.Refill)
	r.Get("/provider/{tag}/info", h.ProviderInfo)

	return r
}

// requestLogger logs each request's method, path, status, and duration.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("admin api request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start).String(),
			)
		})
	}
}
