// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const OwnerIDKey contextKey = "owner_id"

// Owner resolves the owner scope of a request from the X-Owner-ID header,
// falling back to the configured default. Single-user deployments never set
// the header.
func Owner(defaultOwnerID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID := r.Header.Get("X-Owner-ID")
			if ownerID == "" {
				ownerID = defaultOwnerID
			}
			ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerID returns the owner ID from context.
func GetOwnerID(ctx context.Context) string {
	ownerID, _ := ctx.Value(OwnerIDKey).(string)
	return ownerID
}
