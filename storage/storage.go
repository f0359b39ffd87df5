package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a code, token or user does not exist
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when a record exists but its lifetime has elapsed
	ErrExpired = errors.New("expired")

	// ErrInvalidCredentials is returned by UserDirectory.Authenticate when the
	// email is unknown or the password does not match
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// CodeStore holds issued authorization codes until they are redeemed.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically looks up and deletes a code.
	// Of any number of concurrent callers for the same code, exactly one
	// receives the record. The others receive ErrNotFound.
	// An expired code is deleted as well and reported as ErrExpired.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// TokenStore holds access and refresh token records keyed by the token string.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveAccessToken records an issued access token
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken returns the access token record, or ErrNotFound / ErrExpired
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token record. Deleting an unknown
	// token is not an error.
	DeleteAccessToken(ctx context.Context, token string) error

	// SaveRefreshToken records an issued refresh token
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken returns the refresh token record, or ErrNotFound / ErrExpired
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically looks up and deletes a refresh token.
	// Used when refresh tokens are rotated so that one token yields one successor.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token record. Deleting an unknown
	// token is not an error.
	DeleteRefreshToken(ctx context.Context, token string) error
}

// UserDirectory resolves resource owners.
type UserDirectory interface {
	// Authenticate returns the user with the given email if password matches.
	// Returns ErrInvalidCredentials otherwise.
	Authenticate(ctx context.Context, email, password string) (*User, error)

	// GetUser returns the user with the given ID, or ErrNotFound
	GetUser(ctx context.Context, userID string) (*User, error)
}

// AuthorizationCode represents an issued authorization code
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string // RFC 8707 target, becomes the access token audience
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// AccessToken is the server-side record of an issued JWT access token
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scopes    []string
	Resource  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RefreshToken is an opaque refresh token and the grant it continues
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scopes    []string
	Resource  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// User is a resource owner known to a UserDirectory
type User struct {
	ID           string
	Email        string
	PasswordHash []byte // bcrypt
}
