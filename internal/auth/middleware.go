// Package auth — middleware.go provides HTTP middleware for extracting and
// validating Bearer tokens from the Authorization header, injecting the
// authenticated user id into the request context for downstream handlers.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/harborchat/harbor/internal/models"
	"github.com/harborchat/harbor/internal/session"
)

type contextKey string

const (
	// ContextKeyUserID is the context key for the authenticated user's id.
	ContextKeyUserID contextKey = "user_id"
	// ContextKeySessionToken is the context key for the current session token.
	ContextKeySessionToken contextKey = "session_token"
)

// UserIDFromContext retrieves the authenticated user id from the request
// context. Returns 0 if no user is authenticated.
func UserIDFromContext(ctx context.Context) models.ID {
	v, _ := ctx.Value(ContextKeyUserID).(models.ID)
	return v
}

// SessionTokenFromContext retrieves the session token from the request
// context. Returns "" if not present.
func SessionTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeySessionToken).(string)
	return v
}

// RequireAuth returns middleware that validates the Bearer token against
// sessions and injects the authenticated user id into the request context.
// Requests without a valid token receive a 401 Unauthorized response.
func RequireAuth(sessions *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing_token", "Authorization header with Bearer token is required")
				return
			}
			userID, err := sessions.Authenticate(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid_token", "session token is invalid or expired")
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyUserID, userID)
			ctx = context.WithValue(ctx, ContextKeySessionToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth returns middleware that validates a Bearer token if present
// but does not require it — used by the federation inbox and health
// endpoints, which accept both authenticated and anonymous callers.
func OptionalAuth(sessions *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if userID, err := sessions.Authenticate(token); err == nil {
				ctx := context.WithValue(r.Context(), ContextKeyUserID, userID)
				ctx = context.WithValue(ctx, ContextKeySessionToken, token)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractBearerToken extracts the token from "Authorization: Bearer <token>".
func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// writeAuthError writes a JSON error response matching the API error
// envelope format. This avoids importing the api package, which would
// create a circular dependency since api imports auth.
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
