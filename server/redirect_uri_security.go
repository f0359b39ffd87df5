package server

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/giantswarm/mcp-authserver/internal/util"
)

// RedirectURIPolicy decides which redirect URIs a client may register
type RedirectURIPolicy interface {
	Validate(redirectURI string) error
}

// RedirectURIError explains why a redirect URI was rejected. Reason is for
// operators, Error() is safe to return to clients.
type RedirectURIError struct {
	Category string
	URI      string
	Reason   string
	Message  string
}

func (e *RedirectURIError) Error() string {
	return e.Message
}

// Redirect URI error categories for logging
const (
	RedirectURIErrorCategoryInvalidFormat   = "invalid_format"
	RedirectURIErrorCategoryFragment        = "fragment_not_allowed"
	RedirectURIErrorCategoryBlockedScheme   = "blocked_scheme"
	RedirectURIErrorCategoryHTTPNotAllowed  = "http_not_allowed"
	RedirectURIErrorCategoryHostNotAllowed  = "host_not_allowed"
	RedirectURIErrorCategoryUnspecifiedAddr = "unspecified_address"
)

// DefaultRedirectURIPolicy is the policy built from Config.
//
// A redirect URI must be absolute and fragment free. Dangerous schemes are
// always refused and other custom schemes must match AllowedCustomSchemes.
// When the issuer is https, plain http is only accepted for loopback hosts
// (RFC 8252 section 7.3). AllowedRedirectHosts, when set, restricts http(s)
// hosts; loopback stays allowed for native clients.
type DefaultRedirectURIPolicy struct {
	RequireHTTPS   bool
	AllowedHosts   []string
	AllowedSchemes []string
}

// NewRedirectURIPolicy derives the default policy from config
func NewRedirectURIPolicy(config *Config) *DefaultRedirectURIPolicy {
	requireHTTPS := false
	if u, err := url.Parse(config.Issuer); err == nil && u.Scheme == SchemeHTTPS {
		requireHTTPS = true
	}
	return &DefaultRedirectURIPolicy{
		RequireHTTPS:   requireHTTPS,
		AllowedHosts:   config.AllowedRedirectHosts,
		AllowedSchemes: config.AllowedCustomSchemes,
	}
}

// Validate implements RedirectURIPolicy
func (p *DefaultRedirectURIPolicy) Validate(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil || !parsed.IsAbs() {
		return &RedirectURIError{
			Category: RedirectURIErrorCategoryInvalidFormat,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   fmt.Sprintf("not an absolute URI: %v", err),
			Message:  "redirect_uri: must be an absolute URI",
		}
	}

	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return &RedirectURIError{
			Category: RedirectURIErrorCategoryFragment,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   "URI contains fragment",
			Message:  "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		if err := validateCustomScheme(scheme, p.AllowedSchemes); err != nil {
			return &RedirectURIError{
				Category: RedirectURIErrorCategoryBlockedScheme,
				URI:      sanitizeURIForLogging(redirectURI),
				Reason:   err.Error(),
				Message:  fmt.Sprintf("redirect_uri: scheme '%s' is not allowed", scheme),
			}
		}
		return nil
	}

	hostname := parsed.Hostname()
	class := util.ClassifyHost(hostname)

	if class == util.HostUnspecified {
		return &RedirectURIError{
			Category: RedirectURIErrorCategoryUnspecifiedAddr,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   fmt.Sprintf("host %q is unspecified", hostname),
			Message:  "redirect_uri: a concrete host is required",
		}
	}

	if class == util.HostLoopback {
		return nil
	}

	if p.RequireHTTPS && scheme == SchemeHTTP {
		return &RedirectURIError{
			Category: RedirectURIErrorCategoryHTTPNotAllowed,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   fmt.Sprintf("http redirect to %s host behind an https issuer", class),
			Message:  "redirect_uri: HTTPS is required (HTTP only allowed for localhost)",
		}
	}

	if len(p.AllowedHosts) > 0 && !slices.ContainsFunc(p.AllowedHosts, func(h string) bool {
		return strings.EqualFold(h, hostname)
	}) {
		return &RedirectURIError{
			Category: RedirectURIErrorCategoryHostNotAllowed,
			URI:      sanitizeURIForLogging(redirectURI),
			Reason:   fmt.Sprintf("host %q not in AllowedRedirectHosts", hostname),
			Message:  "redirect_uri: host is not allowed",
		}
	}

	return nil
}

// sanitizeURIForLogging removes query, fragment and userinfo from a URI
func sanitizeURIForLogging(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return util.SafeTruncate(uri, 100)
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil
	return parsed.String()
}
