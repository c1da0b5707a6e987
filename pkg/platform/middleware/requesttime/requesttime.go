// Package requesttime gives every HTTP request a single "now", so token expiry,
// rate windows and audit timestamps agree within one request.
package requesttime

import (
	"net/http"
	"time"

	"votegate/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
