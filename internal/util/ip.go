package util

import (
	"net"
	"strings"
)

// HostClass describes what a redirect URI host points at.
type HostClass int

const (
	// HostPublic is a DNS name or a publicly routable address.
	HostPublic HostClass = iota
	// HostLoopback is localhost, 127.0.0.0/8 or ::1.
	HostLoopback
	// HostPrivate is an RFC 1918 or ULA address.
	HostPrivate
	// HostLinkLocal is 169.254.0.0/16 or fe80::/10.
	HostLinkLocal
	// HostUnspecified is 0.0.0.0, :: or an empty host.
	HostUnspecified
)

// String returns a short label suitable for log attributes.
func (c HostClass) String() string {
	switch c {
	case HostPublic:
		return "public"
	case HostLoopback:
		return "loopback"
	case HostPrivate:
		return "private"
	case HostLinkLocal:
		return "link_local"
	case HostUnspecified:
		return "unspecified"
	default:
		return "unknown"
	}
}

// ClassifyHost classifies a hostname as returned by url.URL.Hostname().
// Names other than "localhost" are not resolved and count as public.
func ClassifyHost(hostname string) HostClass {
	hostname = strings.TrimSuffix(strings.TrimPrefix(hostname, "["), "]")
	if hostname == "" {
		return HostUnspecified
	}
	if strings.EqualFold(hostname, "localhost") {
		return HostLoopback
	}

	ip := net.ParseIP(hostname)
	switch {
	case ip == nil:
		return HostPublic
	case ip.IsUnspecified():
		return HostUnspecified
	case ip.IsLoopback():
		return HostLoopback
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return HostLinkLocal
	case ip.IsPrivate():
		return HostPrivate
	default:
		return HostPublic
	}
}

// IsLoopbackHostname reports whether hostname is localhost or a loopback IP.
func IsLoopbackHostname(hostname string) bool {
	return ClassifyHost(hostname) == HostLoopback
}
