package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const (
	// ActorContextKey is the context key for the authenticated admin actor
	ActorContextKey contextKey = "actor"

	adminTokenHeader = "X-Admin-Token"
)

// RequireAdmin authenticates privileged callers by API token. tokens maps a
// token to the actor name recorded on timeline entries and in logs.
// The token is read from "Authorization: Bearer <token>" or X-Admin-Token.
func RequireAdmin(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := lookupActor(tokens, requestToken(r))
			if !ok {
				respondUnauthorized(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ActorContextKey, actor)
			logger := GetLogger(ctx).With(slog.String("actor", actor))
			ctx = context.WithValue(ctx, LoggerContextKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor returns the authenticated admin actor, or "" outside RequireAdmin.
func GetActor(ctx context.Context) string {
	actor, _ := ctx.Value(ActorContextKey).(string)
	return actor
}

func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(adminTokenHeader))
}

// lookupActor compares against every token in constant time.
func lookupActor(tokens map[string]string, token string) (string, bool) {
	if token == "" {
		return "", false
	}
	var actor string
	for candidate, name := range tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			actor = name
		}
	}
	return actor, actor != ""
}
