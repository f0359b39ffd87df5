// Package security holds the authorization server's protective plumbing:
// sealed client identifiers, per-IP rate limiting, client IP resolution,
// request IDs, response security headers and the security audit log.
//
// # Client identifiers
//
// ClientCodec seals a registered client's metadata (secret, redirect URIs,
// grant types) into its client_id with AES-256-GCM. The server keeps no client
// table; a client_id that fails to open is simply an unknown client. Rotating
// the key invalidates every registered client.
//
// # Rate limiting
//
// RateLimiter keeps one token bucket per identifier and evicts the least
// recently used identifier once MaxEntries is reached:
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(resolver.ClientIP(r)) {
//	    // 429
//	}
//
// # Audit
//
// Auditor writes "security_audit" log records. User and client identifiers are
// hashed with HashForLogging before they reach the log.
package security
