// Package gateway exposes the sync core over HTTP and websocket. It is
// a thin surface: identity comes from the session token, state changes
// go through the services, and live updates flow from the hub.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"chat-sync/auth"
	"chat-sync/domain"
)

type contextKey string

const userContextKey contextKey = "user"

// AuthMiddleware extracts the user identity from the Authorization
// header, or from the token query parameter for websocket clients that
// cannot set headers.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(header, "Bearer ")
			if tokenString == header {
				tokenString = ""
			}
			if tokenString == "" {
				tokenString = r.URL.Query().Get("token")
			}

			claims, err := auth.ParseToken(secret, tokenString)
			if err != nil {
				http.Error(w, "invalid session token", http.StatusUnauthorized)
				return
			}

			user := domain.User{ID: claims.UserID, Name: claims.DisplayName}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
		})
	}
}

// UserFromContext returns the authenticated user placed by the
// middleware.
func UserFromContext(ctx context.Context) (domain.User, bool) {
	user, ok := ctx.Value(userContextKey).(domain.User)
	return user, ok
}
