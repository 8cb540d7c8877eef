package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/scmhooks/hookengine/internal/ctxkey"
	"github.com/scmhooks/hookengine/internal/domain/adminauth"
)

// RequestIDMiddleware extracts or generates an X-Request-ID, enriches logger
// with it, and stashes the enriched logger under ctxkey.LoggerKey so
// downstream handlers can log with request correlation for free.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			enriched := logger.With("request_id", reqID)
			ctx := context.WithValue(r.Context(), ctxkey.LoggerKey{}, enriched)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the request-enriched logger stashed by
// RequestIDMiddleware, falling back to slog.Default() if none was set (e.g.
// in tests that call a handler directly).
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// AdminAuthMiddleware rejects requests whose Authorization: Bearer token does
// not match checker's configured admin token hash. Scoped to a single
// privileged token, since hookengine's admin surface has exactly one caller
// role.
func AdminAuthMiddleware(checker *adminauth.Checker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if checker == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			token := bearerToken(r)
			if err := checker.Authenticate(token); err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
