package middleware

import (
	"fmt"
	"net/http"

	"github.com/pensieve-ai/pensieve/internal/api"
)

// MaxBodyBytes caps request body size. Uploads that declare a Content-Length
// over the cap are rejected before any bytes are read; chunked bodies are
// cut off by MaxBytesReader once they cross it.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength != -1 && r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("request body exceeds %d byte limit", limit))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
