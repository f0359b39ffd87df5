// Package mock provides storage implementations for tests that need to inject
// failures. Each mock wraps a real implementation and lets individual methods
// be overridden.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/mcp-authserver/storage"
)

// Store implements storage.CodeStore and storage.TokenStore. Calls go to the
// *Func override when set, otherwise to the wrapped stores.
type Store struct {
	Codes  storage.CodeStore
	Tokens storage.TokenStore

	SaveAuthorizationCodeFunc    func(ctx context.Context, code *storage.AuthorizationCode) error
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	SaveAccessTokenFunc          func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc           func(ctx context.Context, token string) (*storage.AccessToken, error)
	DeleteAccessTokenFunc        func(ctx context.Context, token string) error
	SaveRefreshTokenFunc         func(ctx context.Context, token *storage.RefreshToken) error
	GetRefreshTokenFunc          func(ctx context.Context, token string) (*storage.RefreshToken, error)
	ConsumeRefreshTokenFunc      func(ctx context.Context, token string) (*storage.RefreshToken, error)
	DeleteRefreshTokenFunc       func(ctx context.Context, token string) error

	mu    sync.Mutex
	calls map[string]int
}

var (
	_ storage.CodeStore  = (*Store)(nil)
	_ storage.TokenStore = (*Store)(nil)
)

// NewStore wraps codes and tokens
func NewStore(codes storage.CodeStore, tokens storage.TokenStore) *Store {
	return &Store{Codes: codes, Tokens: tokens, calls: make(map[string]int)}
}

func (m *Store) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how often method was invoked
func (m *Store) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	m.record("SaveAuthorizationCode")
	if m.SaveAuthorizationCodeFunc != nil {
		return m.SaveAuthorizationCodeFunc(ctx, code)
	}
	return m.Codes.SaveAuthorizationCode(ctx, code)
}

func (m *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	m.record("ConsumeAuthorizationCode")
	if m.ConsumeAuthorizationCodeFunc != nil {
		return m.ConsumeAuthorizationCodeFunc(ctx, code)
	}
	return m.Codes.ConsumeAuthorizationCode(ctx, code)
}

func (m *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.record("SaveAccessToken")
	if m.SaveAccessTokenFunc != nil {
		return m.SaveAccessTokenFunc(ctx, token)
	}
	return m.Tokens.SaveAccessToken(ctx, token)
}

func (m *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.record("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, token)
	}
	return m.Tokens.GetAccessToken(ctx, token)
}

func (m *Store) DeleteAccessToken(ctx context.Context, token string) error {
	m.record("DeleteAccessToken")
	if m.DeleteAccessTokenFunc != nil {
		return m.DeleteAccessTokenFunc(ctx, token)
	}
	return m.Tokens.DeleteAccessToken(ctx, token)
}

func (m *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.record("SaveRefreshToken")
	if m.SaveRefreshTokenFunc != nil {
		return m.SaveRefreshTokenFunc(ctx, token)
	}
	return m.Tokens.SaveRefreshToken(ctx, token)
}

func (m *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.record("GetRefreshToken")
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, token)
	}
	return m.Tokens.GetRefreshToken(ctx, token)
}

func (m *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.record("ConsumeRefreshToken")
	if m.ConsumeRefreshTokenFunc != nil {
		return m.ConsumeRefreshTokenFunc(ctx, token)
	}
	return m.Tokens.ConsumeRefreshToken(ctx, token)
}

func (m *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	m.record("DeleteRefreshToken")
	if m.DeleteRefreshTokenFunc != nil {
		return m.DeleteRefreshTokenFunc(ctx, token)
	}
	return m.Tokens.DeleteRefreshToken(ctx, token)
}

// UserDirectory implements storage.UserDirectory with overridable methods
type UserDirectory struct {
	Users storage.UserDirectory

	AuthenticateFunc func(ctx context.Context, email, password string) (*storage.User, error)
	GetUserFunc      func(ctx context.Context, userID string) (*storage.User, error)
}

var _ storage.UserDirectory = (*UserDirectory)(nil)

func (m *UserDirectory) Authenticate(ctx context.Context, email, password string) (*storage.User, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, email, password)
	}
	return m.Users.Authenticate(ctx, email, password)
}

func (m *UserDirectory) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return m.Users.GetUser(ctx, userID)
}
