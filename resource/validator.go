package resource

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultClockSkew is the leeway applied to exp and nbf checks
	DefaultClockSkew = 5 * time.Second

	// AlgorithmRS256 and AlgorithmHS256 are the accepted signing algorithms
	AlgorithmRS256 = "RS256"
	AlgorithmHS256 = "HS256"
)

// allowedTokenTypes are the JOSE typ values of RFC 9068 access tokens,
// compared case-insensitively
var allowedTokenTypes = []string{"at+jwt", "application/at+jwt"}

var (
	// ErrNoKey is returned when the validator has neither Key nor KeySet
	ErrNoKey = errors.New("no verification key configured")

	// ErrInvalidTokenType is returned when the typ header is not at+jwt
	ErrInvalidTokenType = errors.New("invalid token type header")

	// ErrUnknownKeyID is returned when KeySet has no key matching the kid header
	ErrUnknownKeyID = errors.New("unknown key id")
)

// AuthInfo is what a validated access token grants. The middleware stores it
// in the request context.
type AuthInfo struct {
	Token     string    `json:"-"`
	ClientID  string    `json:"client_id"`
	Subject   string    `json:"sub"`
	Scopes    []string  `json:"scopes"`
	Audience  []string  `json:"aud"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasScopes reports whether every required scope was granted
func (a *AuthInfo) HasScopes(required []string) bool {
	for _, s := range required {
		if !slices.Contains(a.Scopes, s) {
			return false
		}
	}
	return true
}

// Validator verifies JWT access tokens issued by one authorization server for
// one resource. A Validator is read-only after construction and safe for
// concurrent use.
type Validator struct {
	// Issuer is the expected iss claim
	Issuer string

	// Audience is the expected aud entry, usually the canonical URL of this
	// resource server
	Audience string

	// Algorithm is the only accepted alg header (RS256 or HS256)
	Algorithm string

	// Key is the verification key: *rsa.PublicKey for RS256, []byte for HS256
	Key any

	// KeySet is consulted by kid when Key is nil. Typically the JWKS
	// published by the authorization server.
	KeySet *jose.JSONWebKeySet

	// ClockSkew is the leeway for exp and nbf. Zero means DefaultClockSkew.
	ClockSkew time.Duration
}

// accessTokenClaims mirrors the claims the authorization server signs
type accessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// Validate verifies signature, algorithm, typ, issuer, audience and lifetime
// of token and returns the granted AuthInfo.
func (v *Validator) Validate(token string) (*AuthInfo, error) {
	if v.Algorithm != AlgorithmRS256 && v.Algorithm != AlgorithmHS256 {
		return nil, fmt.Errorf("unsupported algorithm %q", v.Algorithm)
	}

	skew := v.ClockSkew
	if skew == 0 {
		skew = DefaultClockSkew
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.Algorithm}),
		jwt.WithIssuer(v.Issuer),
		jwt.WithAudience(v.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(skew),
	)

	claims := &accessTokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return nil, err
	}

	typ, _ := parsed.Header["typ"].(string)
	if !isAccessTokenType(typ) {
		return nil, ErrInvalidTokenType
	}

	info := &AuthInfo{
		Token:    token,
		ClientID: claims.ClientID,
		Subject:  claims.Subject,
		Scopes:   strings.Fields(claims.Scope),
		Audience: claims.Audience,
	}
	if claims.ExpiresAt != nil {
		info.ExpiresAt = claims.ExpiresAt.Time
	}
	return info, nil
}

func (v *Validator) keyFunc(t *jwt.Token) (any, error) {
	if v.Key != nil {
		return v.Key, nil
	}
	if v.KeySet == nil {
		return nil, ErrNoKey
	}

	kid, _ := t.Header["kid"].(string)
	keys := v.KeySet.Key(kid)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKeyID, kid)
	}
	return keys[0].Key, nil
}

func isAccessTokenType(typ string) bool {
	for _, allowed := range allowedTokenTypes {
		if strings.EqualFold(typ, allowed) {
			return true
		}
	}
	return false
}

// describeValidationError turns a validation failure into an
// error_description safe to return to the client
func describeValidationError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return "token is not valid yet"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "token audience mismatch"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "token issuer mismatch"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token is missing a required claim"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "token cannot be verified"
	case errors.Is(err, ErrInvalidTokenType):
		return "invalid token type header"
	default:
		return "token validation failed"
	}
}
