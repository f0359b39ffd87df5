package oauth

import "time"

// Endpoint paths served by Handler.Routes
const (
	EndpointAuthorize  = "/oauth/authorize"
	EndpointError      = "/oauth/error"
	EndpointToken      = "/oauth/token"
	EndpointRevoke     = "/oauth/logout"
	EndpointIntrospect = "/oauth/introspect"
	EndpointRegister   = "/oauth/register"
	EndpointHealth     = "/healthz"
	EndpointMetrics    = "/metrics"

	MetadataPathAuthorizationServer = "/.well-known/oauth-authorization-server"
	MetadataPathOpenIDConfiguration = "/.well-known/openid-configuration"
	MetadataPathJWKS                = "/.well-known/jwks.json"
)

const (
	// DefaultMaxRequestBodyBytes caps form and JSON request bodies
	DefaultMaxRequestBodyBytes int64 = 64 << 10

	// rateLimitRetryAfter is sent in Retry-After when a request is throttled
	rateLimitRetryAfter = time.Minute

	formContentType = "application/x-www-form-urlencoded"
)
