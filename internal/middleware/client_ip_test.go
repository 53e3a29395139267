package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resolvedIP(t *testing.T, p *ProxyResolver, remote string, headers map[string]string) string {
	t.Helper()

	var got string
	h := p.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	p, err := NewProxyResolver(nil)
	require.NoError(t, err)

	for _, xff := range []string{"198.51.100.1", "198.51.100.2", "1.2.3.4, 10.0.0.1"} {
		got := resolvedIP(t, p, "203.0.113.7:5000", map[string]string{
			"X-Forwarded-For": xff,
			"X-Real-IP":       "198.51.100.9",
		})
		assert.Equal(t, "203.0.113.7", got)
	}
}

func TestClientIPTakesRightmostUntrustedHop(t *testing.T) {
	p, err := NewProxyResolver([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)

	// The leftmost entry is whatever the client sent; the load balancer
	// appended the real peer.
	got := resolvedIP(t, p, "10.1.2.3:443", map[string]string{
		"X-Forwarded-For": "6.6.6.6, 203.0.113.7, 192.0.2.1",
	})
	assert.Equal(t, "203.0.113.7", got)

	got = resolvedIP(t, p, "10.1.2.3:443", map[string]string{"X-Real-IP": "203.0.113.8"})
	assert.Equal(t, "203.0.113.8", got)

	got = resolvedIP(t, p, "10.1.2.3:443", map[string]string{"X-Forwarded-For": "garbage, 203.0.113.9"})
	assert.Equal(t, "203.0.113.9", got)

	got = resolvedIP(t, p, "10.1.2.3:443", map[string]string{"X-Forwarded-For": "203.0.113.9, garbage"})
	assert.Equal(t, "10.1.2.3", got)
}

func TestClientIPWithoutMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")

	assert.Equal(t, "192.0.2.10", ClientIP(req))
}

func TestNewProxyResolverRejectsBadEntries(t *testing.T) {
	_, err := NewProxyResolver([]string{"10.0.0.0/33"})
	assert.Error(t, err)

	_, err = NewProxyResolver([]string{"not-an-ip"})
	assert.Error(t, err)
}
