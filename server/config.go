package server

import (
	"log/slog"
	"time"
)

// Defaults applied by applySecureDefaults
const (
	DefaultAuthorizationCodeTTL = 10 * time.Minute
	DefaultAccessTokenTTL       = time.Hour
	DefaultRefreshTokenTTL      = 14 * 24 * time.Hour

	// DefaultScope is the scope granted when a client asks for none
	DefaultScope = "mcp"
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It becomes the
	// iss claim of every access token.
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL time.Duration // default: 10 minutes

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL time.Duration // default: 1 hour

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL time.Duration // default: 14 days

	// RotateRefreshTokens consumes a refresh token on use and issues a new one.
	// When false the same refresh token is returned until it expires.
	// Default: false
	RotateRefreshTokens bool

	// DisableRefreshTokens stops the token endpoint from issuing refresh tokens
	DisableRefreshTokens bool

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED).
	// When false only S256 is accepted.
	AllowPKCEPlain bool

	// SupportedScopes lists the scopes clients may request.
	// Default: ["mcp"]
	SupportedScopes []string

	// DefaultScopes is what an authorization request without a scope receives.
	// Default: ["mcp"]
	DefaultScopes []string

	// AllowedResources restricts the RFC 8707 resource parameter.
	// If empty, any absolute URI without a fragment is accepted.
	AllowedResources []string

	// AllowedRedirectHosts restricts the hosts clients may register redirect
	// URIs for. If empty, any host passing the redirect URI policy is accepted.
	AllowedRedirectHosts []string

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// for native app redirect URIs such as myapp://callback.
	// Default: ["^[a-z][a-z0-9+.-]*$"] (RFC 3986 compliant schemes)
	AllowedCustomSchemes []string

	// AllowInsecureHTTP permits a plain http issuer on a non-loopback host
	AllowInsecureHTTP bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Default: 1
	TrustedProxyCount int
}

// applySecureDefaults fills zero values and logs warnings for insecure settings.
// It works on a copy so callers can share one Config between servers.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	cfg := *config

	if cfg.AuthorizationCodeTTL <= 0 {
		cfg.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if cfg.TrustedProxyCount <= 0 {
		cfg.TrustedProxyCount = 1
	}
	if len(cfg.SupportedScopes) == 0 {
		cfg.SupportedScopes = []string{DefaultScope}
	}
	if len(cfg.DefaultScopes) == 0 {
		cfg.DefaultScopes = []string{DefaultScope}
	}
	if len(cfg.AllowedCustomSchemes) == 0 {
		cfg.AllowedCustomSchemes = DefaultRFC3986SchemePattern
	}

	logSecurityWarnings(&cfg, logger)
	return &cfg
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowPKCEPlain {
		logger.Warn("SECURITY WARNING: Plain PKCE method is ALLOWED",
			"risk", "Weak code challenge protection",
			"recommendation", "Set AllowPKCEPlain=false to require S256",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-4.2")
	}
	if config.TrustProxy {
		logger.Warn("SECURITY NOTICE: Trusting proxy headers",
			"risk", "IP spoofing if proxy is not properly configured",
			"recommendation", "Only enable behind trusted reverse proxies",
			"trusted_proxy_count", config.TrustedProxyCount)
	}
	if !config.RotateRefreshTokens && !config.DisableRefreshTokens {
		logger.Info("Refresh token rotation is disabled",
			"refresh_token_ttl", config.RefreshTokenTTL.String(),
			"recommendation", "Set RotateRefreshTokens=true for OAuth 2.1 public client guidance")
	}
}
