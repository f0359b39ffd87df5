package security

import (
	"net"
	"net/http"
	"strings"
)

// IPResolver determines the address of the caller for rate limiting and audit
// records.
//
// Forwarding headers are only honoured with TrustProxy. X-Forwarded-For is read
// from the right: the last TrustedProxyCount entries were appended by our own
// proxies, the one before them is the client. Anything further left was
// supplied by the client and cannot be trusted.
type IPResolver struct {
	TrustProxy        bool
	TrustedProxyCount int // defaults to 1
}

// ClientIP returns the caller's IP address
func (res IPResolver) ClientIP(r *http.Request) string {
	if res.TrustProxy {
		if ip := res.fromForwardedFor(r.Header.Get("X-Forwarded-For")); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (res IPResolver) fromForwardedFor(xff string) string {
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")
	proxies := res.TrustedProxyCount
	if proxies <= 0 {
		proxies = 1
	}

	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	ip := strings.TrimSpace(hops[idx])
	if net.ParseIP(ip) == nil {
		return ""
	}
	return ip
}
