package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"votegate/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		setup  func(r *http.Request)
		want   string
	}{
		{
			name:  "remote address without trusted header",
			setup: func(r *http.Request) { r.RemoteAddr = "10.0.0.7:51234" },
			want:  "10.0.0.7",
		},
		{
			name: "forwarded header ignored when not trusted",
			setup: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.7:51234"
				r.Header.Set("X-Forwarded-For", "1.2.3.4")
			},
			want: "10.0.0.7",
		},
		{
			name:   "first hop of trusted header",
			header: "X-Forwarded-For",
			setup: func(r *http.Request) {
				r.RemoteAddr = "10.0.0.7:51234"
				r.Header.Set("X-Forwarded-For", "1.2.3.4, 172.16.0.1")
			},
			want: "1.2.3.4",
		},
		{
			name:   "trusted header missing falls back to remote address",
			header: "X-Real-IP",
			setup:  func(r *http.Request) { r.RemoteAddr = "[::1]:8080" },
			want:   "::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			tt.setup(r)
			assert.Equal(t, tt.want, ClientIPFromRequest(r, tt.header))
		})
	}
}

func TestClientMetadataStoresValues(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata("X-Real-IP")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-Real-IP", "5.6.7.8")
	r.Header.Set("User-Agent", "curl/8")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "5.6.7.8", gotIP)
	assert.Equal(t, "curl/8", gotUA)
}
