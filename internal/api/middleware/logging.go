// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestLogger returns a middleware that logs HTTP requests. Requests on
// the public signing surface have their magic-link token scrubbed from the
// logged path; the token is a bearer credential and must not end up in logs.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			path, surface := classifyPath(r.URL.Path)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", path,
					"surface", surface,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// classifyPath tags a request as belonging to the public signing surface or
// the back office, and redacts the link token from signing paths.
func classifyPath(path string) (string, string) {
	const prefix = "/sign/"
	if !strings.HasPrefix(path, prefix) {
		return path, "backoffice"
	}
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return prefix + "{token}" + rest[i:], "signing"
	}
	return prefix + "{token}", "signing"
}
