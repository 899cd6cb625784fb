package middleware

import (
	"log/slog"
	"net/http"

	"github.com/ion606/workout-api/internal/api/shared"
	"github.com/ion606/workout-api/internal/platform/logger"
)

// TraceMiddleware adds a trace ID and a request scoped logger carrying it
// to the request context. Apply it before any handler that logs.
func TraceMiddleware(next http.Handler) http.Handler {
	return NewTraceMiddleware(nil)(next)
}

// NewTraceMiddleware is TraceMiddleware deriving request loggers from base
// instead of the logger already in the context.
func NewTraceMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := shared.SetTraceID(r.Context())
			traceID := shared.GetTraceID(ctx)

			log := base
			if log == nil {
				log = logger.FromContextOrDefault(ctx, slog.Default())
			}
			log = log.With(slog.String("trace_id", traceID))
			ctx = logger.WithLogger(ctx, log)

			log.Debug("request started",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
