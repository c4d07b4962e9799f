package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/raakeshmj/licensegate/internal/audit"
)

// AuditMiddleware writes one structured log line and one audit entry per request.
func AuditMiddleware(logger *slog.Logger, auditLog audit.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newInterceptor(w)

			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			requestID := GetRequestID(r.Context())
			route := routePattern(r)

			level := slog.LevelInfo
			if rw.statusCode >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", rw.statusCode,
				"duration_ms", duration.Milliseconds(),
				"request_id", requestID,
			)

			actorID := "anonymous"
			token := BearerToken(r)
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token != "" {
				actorID = "token:" + TokenID(token)
			}

			auditLog.Log(audit.LogEntry{
				Timestamp: start,
				RequestID: requestID,
				ActorID:   actorID,
				Action:    r.Method + " " + route,
				Resource:  r.URL.Path,
				Status:    rw.statusCode,
				Metadata: map[string]interface{}{
					"remote_addr": r.RemoteAddr,
					"duration_ms": duration.Milliseconds(),
				},
			})
		})
	}
}
