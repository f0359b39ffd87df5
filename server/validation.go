package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/giantswarm/mcp-authserver/internal/util"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be allowed for security
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// DefaultRFC3986SchemePattern is the default regex pattern for custom URI schemes (RFC 3986)
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}

	// unreserved characters of RFC 7636 section 4.1
	codeVerifierPattern = regexp.MustCompile(`^[A-Za-z0-9._~-]+$`)

	schemePatternCache sync.Map // pattern -> *regexp.Regexp
)

// validateHTTPSEnforcement rejects a plain http issuer unless it is a loopback
// address or AllowInsecureHTTP is set. Tokens and credentials would otherwise
// travel in clear text.
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		hostname := issuerURL.Hostname()
		if util.IsLoopbackHostname(hostname) {
			s.Logger.Warn("DEVELOPMENT WARNING: Running OAuth over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"recommendation", "Use HTTPS outside local development")
			return nil
		}
		if !s.Config.AllowInsecureHTTP {
			return fmt.Errorf("issuer must use HTTPS (got %s://%s); set AllowInsecureHTTP=true to override", issuerURL.Scheme, hostname)
		}
		s.Logger.Error("CRITICAL SECURITY WARNING: Running OAuth server over HTTP",
			"issuer", s.Config.Issuer,
			"hostname", hostname,
			"risk", "All tokens and credentials exposed to network sniffing")
		return nil
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}
}

// isAbsoluteURI reports whether raw parses as a URI with a scheme
func isAbsoluteURI(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.IsAbs()
}

// normalizeChallengeMethod applies the RFC 7636 default: a challenge without a
// method is plain.
func normalizeChallengeMethod(challenge, method string) string {
	if challenge != "" && method == "" {
		return PKCEMethodPlain
	}
	return method
}

// validateChallengeMethod checks a code_challenge_method against the configuration
func (s *Server) validateChallengeMethod(method string) error {
	switch method {
	case PKCEMethodS256:
		return nil
	case PKCEMethodPlain:
		if s.Config.AllowPKCEPlain {
			return nil
		}
		return fmt.Errorf("code_challenge_method %q is not allowed, use S256", method)
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
}

// validateScopes checks that every requested scope is supported
func (s *Server) validateScopes(scopes []string) error {
	for _, scope := range scopes {
		if !slices.Contains(s.Config.SupportedScopes, scope) {
			return fmt.Errorf("scope %q is not supported", scope)
		}
	}
	return nil
}

// validateResource checks an RFC 8707 resource indicator
func (s *Server) validateResource(resource string) error {
	if resource == "" {
		return nil
	}

	u, err := url.Parse(resource)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("resource must be an absolute URI")
	}
	if u.Fragment != "" || strings.Contains(resource, "#") {
		return fmt.Errorf("resource must not contain a fragment")
	}
	if len(s.Config.AllowedResources) > 0 && !util.ContainsNormalizedURL(s.Config.AllowedResources, resource) {
		return fmt.Errorf("resource %q is not served by this authorization server", resource)
	}
	return nil
}

// parseScope splits a space separated scope parameter
func parseScope(scope string) []string {
	return strings.Fields(scope)
}

// isSubset reports whether every element of requested is in granted
func isSubset(requested, granted []string) bool {
	for _, r := range requested {
		if !slices.Contains(granted, r) {
			return false
		}
	}
	return true
}

// validatePKCE checks a code_verifier against the challenge stored with a code.
// Comparison is constant time.
func validatePKCE(challenge, method, verifier string) error {
	if challenge == "" {
		if verifier != "" {
			// a verifier without a stored challenge means the request was
			// tampered with on the way to us
			return fmt.Errorf("code_verifier provided but no code_challenge was issued")
		}
		return nil
	}

	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength)
	}
	if !codeVerifierPattern.MatchString(verifier) {
		return fmt.Errorf("code_verifier contains invalid characters")
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(sum[:])
	case PKCEMethodPlain, "":
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

func compileSchemePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := schemePatternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	schemePatternCache.Store(pattern, re)
	return re, nil
}

// validateCustomScheme checks a non-http scheme against the dangerous list and
// the allowed patterns
func validateCustomScheme(scheme string, allowedPatterns []string) error {
	scheme = strings.ToLower(scheme)
	if slices.Contains(DangerousSchemes, scheme) {
		return fmt.Errorf("scheme %q is not allowed", scheme)
	}
	for _, pattern := range allowedPatterns {
		re, err := compileSchemePattern(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(scheme) {
			return nil
		}
	}
	return fmt.Errorf("scheme %q does not match any allowed pattern", scheme)
}
