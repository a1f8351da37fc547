package middleware

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

type contextKey string

const (
	// UserIDKey holds the authenticated user id in the request context.
	UserIDKey contextKey = "userID"
	// RequestIDKey holds the per-request correlation id.
	RequestIDKey contextKey = "requestID"
)

// Identity reads the user id the gateway injects via X-User-ID after
// authenticating the request upstream. Requests without a valid id are
// rejected; this service never sees credentials itself.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			http.Error(w, "missing or invalid user identity", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID extracts the authenticated user id from a request context. The
// second return is false outside the Identity middleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(UserIDKey).(int64)
	return id, ok
}

// RequestID assigns each request a correlation id, honoring one already set
// by the gateway, and echoes it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
