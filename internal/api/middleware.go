// Package api implements the lifeagent REST API using chi.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// AuthMiddleware requires "Authorization: Bearer <token>" when enabled.
// Disabled, every request passes.
func AuthMiddleware(enabled bool, token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserHeader names the request header carrying the acting user.
const UserHeader = "X-User-ID"

type userKey struct{}

// UserMiddleware resolves the acting user from the X-User-ID header or the
// userId query parameter, falling back to defaultUser.
func UserMiddleware(defaultUser string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := strings.TrimSpace(r.Header.Get(UserHeader))
			if user == "" {
				user = strings.TrimSpace(r.URL.Query().Get("userId"))
			}
			if user == "" {
				user = defaultUser
			}
			if user == "" {
				writeJSON(w, http.StatusBadRequest, errorBody("user is required"))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
		})
	}
}

func userFrom(r *http.Request) string {
	s, _ := r.Context().Value(userKey{}).(string)
	return s
}
