package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

const clientIPKey contextKey = "client_ip"

// ProxyResolver derives the caller's address. Forwarding headers are only
// honoured when the direct peer is one of the configured proxies; anything
// else is taken from RemoteAddr.
type ProxyResolver struct {
	trusted []*net.IPNet
}

// NewProxyResolver parses CIDRs or bare addresses. An empty list trusts no
// peer, so forwarding headers are ignored.
func NewProxyResolver(proxies []string) (*ProxyResolver, error) {
	p := &ProxyResolver{}
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", raw)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			p.trusted = append(p.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		p.trusted = append(p.trusted, network)
	}
	return p, nil
}

func (p *ProxyResolver) isTrusted(ip net.IP) bool {
	for _, n := range p.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve walks X-Forwarded-For from the right and returns the first hop
// that is not a trusted proxy.
func (p *ProxyResolver) Resolve(r *http.Request) string {
	peer := remoteHost(r)
	peerIP := net.ParseIP(peer)
	if peerIP == nil || !p.isTrusted(peerIP) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(hops[i]))
			if ip == nil {
				// A malformed hop was written by an untrusted party.
				return peer
			}
			if !p.isTrusted(ip) {
				return ip.String()
			}
		}
		return peer
	}

	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	return peer
}

// Middleware stores the resolved address for ClientIP.
func (p *ProxyResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey, p.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address resolved by ProxyResolver.Middleware, or the
// direct peer when the middleware is not installed.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
