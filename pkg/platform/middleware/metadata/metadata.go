package metadata

import (
	"net"
	"net/http"
	"strings"

	"votegate/pkg/requestcontext"
)

// ClientMetadata extracts the client IP address and User-Agent from the request
// and adds them to the context for use by handlers and services.
// realIPHeader names a header set by a trusted reverse proxy; when empty the
// connection's remote address is used and forwarding headers are ignored.
func ClientMetadata(realIPHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIPFromRequest(r, realIPHeader)
			ctx := requestcontext.WithClientMetadata(r.Context(), ip, r.Header.Get("User-Agent"))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest resolves the client IP. X-Forwarded-For style headers may
// hold a chain (client, proxy1, proxy2, ...); the first entry is the client.
func ClientIPFromRequest(r *http.Request, realIPHeader string) string {
	if realIPHeader != "" {
		if v := r.Header.Get(realIPHeader); v != "" {
			if idx := strings.Index(v, ","); idx != -1 {
				return strings.TrimSpace(v[:idx])
			}
			return strings.TrimSpace(v)
		}
	}

	if addr := r.RemoteAddr; addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}

	return "unknown"
}
