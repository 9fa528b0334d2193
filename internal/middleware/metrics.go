// Package middleware provides HTTP middleware for metrics collection and request logging.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/autocourse/internal/logger"
	"github.com/nadmax/autocourse/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

// LoggingMiddleware logs one line per request at debug level, or warn for 5xx.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			kvs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
			}
			if wrapped.statusCode >= http.StatusInternalServerError {
				log.Warn("request failed", kvs...)
				return
			}
			log.Debug("request", kvs...)
		})
	}
}

func normalizeEndpoint(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/tasks/"):
		rest := strings.TrimPrefix(path, "/api/tasks/")
		parts := strings.Split(rest, "/")
		switch {
		case len(parts) == 1 && parts[0] != "":
			return "/api/tasks/:key"
		case len(parts) == 2 && parts[1] == "stop":
			return "/api/tasks/:key/stop"
		}
		return path
	case strings.HasPrefix(path, "/api/history/runs/"):
		return "/api/history/runs/:id"
	case strings.HasPrefix(path, "/api/history/course/"):
		return "/api/history/course/:slug"
	default:
		return path
	}
}
