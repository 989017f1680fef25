package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds request handling. None of the governance operations are
// long-running; anything hitting this deadline is stuck, not slow.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
