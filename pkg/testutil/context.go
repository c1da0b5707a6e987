package testutil

import (
	"net/http"

	"votegate/pkg/requestcontext"
)

// WithClientIP sets the client IP as the metadata middleware would, for
// handlers exercised without the full router.
func WithClientIP(req *http.Request, ip string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, req.UserAgent())
	return req.WithContext(ctx)
}
