package server

import (
	"context"
	"errors"
	"testing"

	"github.com/giantswarm/mcp-authserver/storage"
)

func TestRevokeToken(t *testing.T) {
	tests := []struct {
		name string
		hint string
		kind string // which token of the pair is revoked
	}{
		{name: "refresh token with hint", hint: TokenTypeHintRefreshToken, kind: "refresh"},
		{name: "refresh token without hint", kind: "refresh"},
		{name: "access token with hint", hint: TokenTypeHintAccessToken, kind: "access"},
		{name: "access token with wrong hint", hint: TokenTypeHintRefreshToken, kind: "access"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			tokens := env.issueTokens(t)
			creds := ClientCredentials{ClientID: env.client.ID, ClientSecret: env.secret}

			token := tokens.RefreshToken
			if tt.kind == "access" {
				token = tokens.AccessToken
			}

			if err := env.srv.RevokeToken(context.Background(), creds, token, tt.hint, ""); err != nil {
				t.Fatalf("RevokeToken() error = %v", err)
			}

			if tt.kind == "refresh" {
				_, err := env.srv.RefreshAccessToken(context.Background(), env.client, tokens.RefreshToken, "", "")
				assertErrorCode(t, err, ErrorCodeInvalidGrant)
			} else {
				resp, err := env.srv.IntrospectToken(context.Background(), env.client, tokens.AccessToken)
				if err != nil {
					t.Fatal(err)
				}
				if resp.Active {
					t.Error("revoked access token still active")
				}
			}
		})
	}
}

func TestRevokeToken_ClientChecks(t *testing.T) {
	env := newTestEnv(t, nil)
	tokens := env.issueTokens(t)

	tests := []struct {
		name     string
		creds    ClientCredentials
		token    string
		wantCode ErrorCode
	}{
		{name: "empty token is a no-op", creds: ClientCredentials{}, token: ""},
		{name: "missing client", creds: ClientCredentials{}, token: tokens.RefreshToken, wantCode: ErrorCodeInvalidClient},
		{name: "undecodable client", creds: ClientCredentials{ClientID: "forged"}, token: tokens.RefreshToken, wantCode: ErrorCodeInvalidClient},
		{name: "wrong secret", creds: ClientCredentials{ClientID: env.client.ID, ClientSecret: "wrong"}, token: tokens.RefreshToken, wantCode: ErrorCodeInvalidClient},
		{name: "unknown token", creds: ClientCredentials{ClientID: env.client.ID}, token: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.srv.RevokeToken(context.Background(), tt.creds, tt.token, "", "")
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("RevokeToken() error = %v", err)
				}
				return
			}
			assertErrorCode(t, err, tt.wantCode)
		})
	}

	// nothing above may have revoked the real token
	if _, err := env.srv.RefreshAccessToken(context.Background(), env.client, tokens.RefreshToken, "", ""); err != nil {
		t.Errorf("refresh token lost: %v", err)
	}
}

func TestRevokeToken_ForeignTokenUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	tokens := env.issueTokens(t)
	other, otherSecret := env.register(t, nil)

	err := env.srv.RevokeToken(context.Background(), ClientCredentials{ClientID: other.ID, ClientSecret: otherSecret}, tokens.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("RevokeToken() error = %v", err)
	}

	if _, err := env.store.GetRefreshToken(context.Background(), tokens.RefreshToken); err != nil {
		t.Errorf("another client's token was revoked: %v", err)
	}
	if _, err := env.store.GetAccessToken(context.Background(), tokens.AccessToken); errors.Is(err, storage.ErrNotFound) {
		t.Error("another client's access token was revoked")
	}
}
