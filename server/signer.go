package server

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Signing algorithms supported for access tokens
const (
	SigningAlgorithmRS256 = "RS256"
	SigningAlgorithmHS256 = "HS256"
)

// AccessTokenType is the JWT "typ" header of access tokens (RFC 9068)
const AccessTokenType = "at+jwt"

const minRSAKeyBits = 2048

// AccessTokenClaims are the claims carried by an access token
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
}

// Signer mints and verifies access tokens with a single key
type Signer struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
	publicKey *rsa.PublicKey
}

// NewRS256Signer creates a signer for an RSA key. The key ID is the RFC 7638
// thumbprint of the public key, so it stays stable across restarts with the
// same key.
func NewRS256Signer(key *rsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, errors.New("RSA signing key is required")
	}
	if key.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("RSA signing key must be at least %d bits, got %d", minRSAKeyBits, key.N.BitLen())
	}

	jwk := jose.JSONWebKey{Key: &key.PublicKey}
	thumbprint, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("failed to compute key thumbprint: %w", err)
	}

	return &Signer{
		method:    jwt.SigningMethodRS256,
		signKey:   key,
		verifyKey: &key.PublicKey,
		keyID:     base64.RawURLEncoding.EncodeToString(thumbprint),
		publicKey: &key.PublicKey,
	}, nil
}

// NewHS256Signer creates a signer for a shared secret. Resource servers need
// the same secret to validate tokens and no JWKS is published.
func NewHS256Signer(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("HS256 signing secret is required")
	}
	return &Signer{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
	}, nil
}

// ParseRSAPrivateKeyPEM parses a PKCS1 or PKCS8 encoded RSA private key
func ParseRSAPrivateKeyPEM(keyPEM []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("failed to decode PEM block from signing key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, want RSA", parsed)
	}
	return key, nil
}

// LoadRSAPrivateKeyFile reads and parses a PEM encoded RSA private key
func LoadRSAPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(path) // #nosec G304 - path comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	return ParseRSAPrivateKeyPEM(keyPEM)
}

// Algorithm returns the JWS algorithm name
func (s *Signer) Algorithm() string {
	return s.method.Alg()
}

// KeyID returns the kid header value, empty for HS256
func (s *Signer) KeyID() string {
	return s.keyID
}

// VerificationKey returns the key a validator needs: the RSA public key for
// RS256 or the shared secret for HS256.
func (s *Signer) VerificationKey() any {
	return s.verifyKey
}

// Sign serializes claims into a signed access token
func (s *Signer) Sign(claims *AccessTokenClaims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	token.Header["typ"] = AccessTokenType
	if s.keyID != "" {
		token.Header["kid"] = s.keyID
	}

	signed, err := token.SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify parses an access token issued by this signer. Only the signer's own
// algorithm is accepted and exp is required.
func (s *Signer) Verify(tokenString, issuer string, leeway time.Duration) (*AccessTokenClaims, error) {
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return s.verifyKey, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// JWKS returns the public key set for /.well-known/jwks.json. It is empty for
// HS256 since a shared secret must never be published.
func (s *Signer) JWKS() jose.JSONWebKeySet {
	if s.publicKey == nil {
		return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{}}
	}
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       s.publicKey,
			KeyID:     s.keyID,
			Algorithm: SigningAlgorithmRS256,
			Use:       "sig",
		}},
	}
}
