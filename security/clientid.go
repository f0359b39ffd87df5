package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// Token endpoint authentication methods a client can register with.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// ErrInvalidClientID is returned when a client_id cannot be decoded. The
// caller cannot tell a forged id from a corrupted one, and should not try.
var ErrInvalidClientID = errors.New("invalid client_id")

// ClientKeySize is the required AES-256 key length in bytes.
const ClientKeySize = 32

// Client is the registration state carried inside an encrypted client_id.
// Nothing about a client is stored server-side.
type Client struct {
	Secret       string    `json:"secret"`
	RedirectURIs []string  `json:"redirect_uris"`
	AuthMethod   string    `json:"auth_method"`
	GrantTypes   []string  `json:"grant_types"`
	IssuedAt     time.Time `json:"-"`

	// Token lifetimes for this client. Zero means the server default.
	AccessTokenTTL  time.Duration `json:"-"`
	RefreshTokenTTL time.Duration `json:"-"`
}

// HasGrantType reports whether the client registered for grantType.
func (c *Client) HasGrantType(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// HasRedirectURI reports whether uri is one of the registered redirect URIs.
// The comparison is exact.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

type clientPayload struct {
	Secret       string   `json:"secret"`
	RedirectURIs []string `json:"redirect_uris"`
	AuthMethod   string   `json:"auth_method"`
	GrantTypes   []string `json:"grant_types"`
	IssuedAt     int64    `json:"iat"`
	AccessTTL    int64    `json:"access_ttl,omitempty"`
	RefreshTTL   int64    `json:"refresh_ttl,omitempty"`
}

// ClientCodec turns client registrations into self-contained client ids and
// back, using AES-256-GCM. Encoding twice yields different ids because every
// id gets a fresh nonce.
type ClientCodec struct {
	aead cipher.AEAD
}

// NewClientCodec creates a codec. The key must be exactly ClientKeySize bytes.
func NewClientCodec(key []byte) (*ClientCodec, error) {
	if len(key) != ClientKeySize {
		return nil, fmt.Errorf("client id encryption key must be exactly %d bytes for AES-256, got %d", ClientKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &ClientCodec{aead: aead}, nil
}

// Encode seals the client into base64url(nonce || ciphertext) without padding.
func (c *ClientCodec) Encode(client *Client) (string, error) {
	if client == nil {
		return "", fmt.Errorf("client cannot be nil")
	}

	issuedAt := client.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	plaintext, err := json.Marshal(clientPayload{
		Secret:       client.Secret,
		RedirectURIs: client.RedirectURIs,
		AuthMethod:   client.AuthMethod,
		GrantTypes:   client.GrantTypes,
		IssuedAt:     issuedAt.Unix(),
		AccessTTL:    int64(client.AccessTokenTTL / time.Second),
		RefreshTTL:   int64(client.RefreshTokenTTL / time.Second),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal client: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to nonce, giving [nonce][ciphertext]
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a client id produced by Encode. Any failure is ErrInvalidClientID.
// Decoding is strict, so every id has exactly one accepted spelling.
func (c *ClientCodec) Decode(clientID string) (*Client, error) {
	sealed, err := base64.RawURLEncoding.Strict().DecodeString(clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed encoding", ErrInvalidClientID)
	}

	nonceSize := c.aead.NonceSize()
	if len(sealed) < nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: too short", ErrInvalidClientID)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrInvalidClientID)
	}

	var payload clientPayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidClientID)
	}

	return &Client{
		Secret:          payload.Secret,
		RedirectURIs:    payload.RedirectURIs,
		AuthMethod:      payload.AuthMethod,
		GrantTypes:      payload.GrantTypes,
		IssuedAt:        time.Unix(payload.IssuedAt, 0),
		AccessTokenTTL:  time.Duration(payload.AccessTTL) * time.Second,
		RefreshTokenTTL: time.Duration(payload.RefreshTTL) * time.Second,
	}, nil
}

// GenerateKey generates a new random ClientKeySize-byte key
func GenerateKey() ([]byte, error) {
	key := make([]byte, ClientKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64 key in either the standard or URL alphabet,
// with or without padding.
func KeyFromBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)

	var (
		key []byte
		err error
	)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		key, err = enc.DecodeString(s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != ClientKeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", ClientKeySize, len(key))
	}
	return key, nil
}

// KeyToBase64 encodes a key with standard base64
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
