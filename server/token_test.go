package server

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
	"github.com/giantswarm/mcp-authserver/storage/mock"
)

func TestExchangeAuthorizationCode_Success(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.issueTokens(t)

	if resp.TokenType != TokenTypeBearer {
		t.Errorf("TokenType = %q, want bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", resp.ExpiresIn)
	}
	if resp.Scope != "mcp" {
		t.Errorf("Scope = %q, want mcp", resp.Scope)
	}
	if resp.RefreshToken == "" {
		t.Error("no refresh token issued")
	}

	token, err := jwt.ParseWithClaims(resp.AccessToken, &AccessTokenClaims{}, func(*jwt.Token) (any, error) {
		return &testutil.RSAKey(t).PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}

	if token.Header["typ"] != AccessTokenType {
		t.Errorf("typ = %v, want %s", token.Header["typ"], AccessTokenType)
	}
	if token.Header["kid"] != env.srv.Signer().KeyID() {
		t.Errorf("kid = %v, want %s", token.Header["kid"], env.srv.Signer().KeyID())
	}

	claims := token.Claims.(*AccessTokenClaims)
	want := struct {
		Issuer, Subject, ClientID, Scope string
		Audience                         []string
	}{testIssuer, testUserID, env.client.ID, "mcp", []string{testResource}}
	got := struct {
		Issuer, Subject, ClientID, Scope string
		Audience                         []string
	}{claims.Issuer, claims.Subject, claims.ClientID, claims.Scope, claims.Audience}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}
	if claims.ID == "" {
		t.Error("jti is empty")
	}
	if claims.ExpiresAt == nil || claims.NotBefore == nil || claims.IssuedAt == nil {
		t.Error("exp, nbf and iat must all be set")
	}

	if _, err := env.store.GetAccessToken(context.Background(), resp.AccessToken); err != nil {
		t.Errorf("access token record not stored: %v", err)
	}
}

func TestExchangeAuthorizationCode_ClientLifetimes(t *testing.T) {
	env := newTestEnv(t, nil)

	id, err := env.srv.Codec().Encode(&security.Client{
		Secret:          "per-client-secret",
		RedirectURIs:    []string{testRedirectURI},
		AuthMethod:      security.AuthMethodClientSecretBasic,
		GrantTypes:      SupportedGrantTypes,
		AccessTokenTTL:  5 * time.Minute,
		RefreshTokenTTL: 2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	env.client, err = env.srv.AuthenticateClient(ClientCredentials{ClientID: id, ClientSecret: "per-client-secret"}, true)
	if err != nil {
		t.Fatalf("AuthenticateClient() error = %v", err)
	}

	before := time.Now()
	resp := env.issueTokens(t)
	if resp.ExpiresIn != 300 {
		t.Errorf("ExpiresIn = %d, want 300", resp.ExpiresIn)
	}

	access, err := env.store.GetAccessToken(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if got := access.ExpiresAt.Sub(before); got < 5*time.Minute || got > 6*time.Minute {
		t.Errorf("access token lifetime = %v, want about 5m", got)
	}

	refresh, err := env.store.GetRefreshToken(context.Background(), resp.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if got := refresh.ExpiresAt.Sub(before); got < 2*time.Hour || got > 2*time.Hour+time.Minute {
		t.Errorf("refresh token lifetime = %v, want about 2h", got)
	}

	refreshed, err := env.srv.RefreshAccessToken(context.Background(), env.client, resp.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}
	if refreshed.ExpiresIn != 300 {
		t.Errorf("refreshed ExpiresIn = %d, want 300", refreshed.ExpiresIn)
	}
}

func TestExchangeAuthorizationCode_SingleUse(t *testing.T) {
	env := newTestEnv(t, nil)
	code, verifier := env.issueCode(t)

	if _, err := env.srv.ExchangeAuthorizationCode(context.Background(), env.client, code, testRedirectURI, verifier, ""); err != nil {
		t.Fatalf("first exchange failed: %v", err)
	}
	_, err := env.srv.ExchangeAuthorizationCode(context.Background(), env.client, code, testRedirectURI, verifier, "")
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_ConcurrentRedemption(t *testing.T) {
	env := newTestEnv(t, nil)
	code, verifier := env.issueCode(t)

	const workers = 20
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := env.srv.ExchangeAuthorizationCode(context.Background(), env.client, code, testRedirectURI, verifier, ""); err == nil {
				successes.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Errorf("successful redemptions = %d, want exactly 1", got)
	}
}

func TestExchangeAuthorizationCode_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	other, _ := env.register(t, nil)
	refreshOnly, _ := env.register(t, []string{GrantTypeRefreshToken})

	tests := []struct {
		name     string
		client   func() *AuthenticatedClient
		code     func(code string) string
		redirect string
		verifier func(verifier string) string
		wantCode ErrorCode
	}{
		{
			name:     "missing code",
			code:     func(string) string { return "" },
			wantCode: ErrorCodeInvalidRequest,
		},
		{
			name:     "unknown code",
			code:     func(string) string { return "not-a-code" },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "code issued to another client",
			client:   func() *AuthenticatedClient { return other },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "client without authorization_code grant",
			client:   func() *AuthenticatedClient { return refreshOnly },
			wantCode: ErrorCodeUnauthorizedClient,
		},
		{
			name:     "redirect_uri mismatch",
			redirect: "http://localhost:8080/other",
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "missing verifier",
			verifier: func(string) string { return "" },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "wrong verifier",
			verifier: func(string) string { v, _ := testutil.PKCEPair(); return v },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "short verifier",
			verifier: func(v string) string { return v[:42] },
			wantCode: ErrorCodeInvalidGrant,
		},
		{
			name:     "verifier with invalid characters",
			verifier: func(v string) string { return v[:42] + "!" },
			wantCode: ErrorCodeInvalidGrant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, verifier := env.issueCode(t)
			client := env.client
			if tt.client != nil {
				client = tt.client()
			}
			if tt.code != nil {
				code = tt.code(code)
			}
			if tt.verifier != nil {
				verifier = tt.verifier(verifier)
			}
			redirect := testRedirectURI
			if tt.redirect != "" {
				redirect = tt.redirect
			}

			_, err := env.srv.ExchangeAuthorizationCode(context.Background(), client, code, redirect, verifier, "")
			assertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestExchangeAuthorizationCode_RedirectURIOptional(t *testing.T) {
	env := newTestEnv(t, nil)
	code, verifier := env.issueCode(t)

	if _, err := env.srv.ExchangeAuthorizationCode(context.Background(), env.client, code, "", verifier, ""); err != nil {
		t.Errorf("exchange without redirect_uri failed: %v", err)
	}
}

func TestExchangeAuthorizationCode_VerifierWithoutChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	req := env.authRequest("")
	req.CodeChallengeMethod = ""

	result, err := env.srv.Authorize(context.Background(), req, testEmail, testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	verifier, _ := testutil.PKCEPair()

	_, err = env.srv.ExchangeAuthorizationCode(context.Background(), env.client, result.Code, testRedirectURI, verifier, "")
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_ExpiredCode(t *testing.T) {
	env := newTestEnv(t, nil)
	code, verifier := env.issueCode(t)

	// rewrite the stored code with an expiry well past the grace period
	stored, err := env.store.ConsumeAuthorizationCode(context.Background(), code)
	if err != nil {
		t.Fatal(err)
	}
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	if err := env.store.SaveAuthorizationCode(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	_, err = env.srv.ExchangeAuthorizationCode(context.Background(), env.client, code, testRedirectURI, verifier, "")
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_UserGone(t *testing.T) {
	env := newTestEnv(t, nil)
	code, verifier := env.issueCode(t)

	env.srv.users = &mock.UserDirectory{
		Users: env.users,
		GetUserFunc: func(context.Context, string) (*storage.User, error) {
			return nil, storage.ErrNotFound
		},
	}

	_, err := env.srv.ExchangeAuthorizationCode(context.Background(), env.client, code, testRedirectURI, verifier, "")
	assertErrorCode(t, err, ErrorCodeInvalidGrant)
}

func TestExchangeAuthorizationCode_DisableRefreshTokens(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.DisableRefreshTokens = true })

	if resp := env.issueTokens(t); resp.RefreshToken != "" {
		t.Errorf("refresh token issued with DisableRefreshTokens")
	}
}

func TestRefreshAccessToken_ReusesTokenByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.issueTokens(t)

	for i := 0; i < 2; i++ {
		resp, err := env.srv.RefreshAccessToken(context.Background(), env.client, first.RefreshToken, "", "")
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
		if resp.RefreshToken != first.RefreshToken {
			t.Errorf("refresh token changed without rotation")
		}
		if resp.AccessToken == first.AccessToken {
			t.Error("access token was not renewed")
		}
	}
}

func TestRefreshAccessToken_Rotation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RotateRefreshTokens = true })
	first := env.issueTokens(t)

	second, err := env.srv.RefreshAccessToken(context.Background(), env.client, first.RefreshToken, "", "")
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh token not rotated: %q", second.RefreshToken)
	}

	_, err = env.srv.RefreshAccessToken(context.Background(), env.client, first.RefreshToken, "", "")
	assertErrorCode(t, err, ErrorCodeInvalidGrant)

	if _, err := env.srv.RefreshAccessToken(context.Background(), env.client, second.RefreshToken, "", ""); err != nil {
		t.Errorf("rotated token rejected: %v", err)
	}
}

func TestRefreshAccessToken_KeepsResource(t *testing.T) {
	env := newTestEnv(t, nil)
	first := env.issueTokens(t)

	resp, err := env.srv.RefreshAccessToken(context.Background(), env.client, first.RefreshToken, "", "")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := env.srv.Signer().Verify(resp.AccessToken, testIssuer, 0)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{testResource}, []string(claims.Audience)); diff != "" {
		t.Errorf("audience mismatch (-want +got):\n%s", diff)
	}
}

func TestRefreshAccessToken_Errors(t *testing.T) {
	for _, rotate := range []bool{false, true} {
		t.Run(map[bool]string{false: "reuse", true: "rotate"}[rotate], func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.RotateRefreshTokens = rotate })
			other, _ := env.register(t, nil)
			codeOnly, _ := env.register(t, []string{GrantTypeAuthorizationCode})
			tokens := env.issueTokens(t)

			_, err := env.srv.RefreshAccessToken(context.Background(), env.client, "", "", "")
			assertErrorCode(t, err, ErrorCodeInvalidRequest)

			_, err = env.srv.RefreshAccessToken(context.Background(), env.client, "unknown", "", "")
			assertErrorCode(t, err, ErrorCodeInvalidGrant)

			_, err = env.srv.RefreshAccessToken(context.Background(), other, tokens.RefreshToken, "", "")
			assertErrorCode(t, err, ErrorCodeInvalidGrant)

			_, err = env.srv.RefreshAccessToken(context.Background(), codeOnly, tokens.RefreshToken, "", "")
			assertErrorCode(t, err, ErrorCodeUnauthorizedClient)

			_, err = env.srv.RefreshAccessToken(context.Background(), env.client, tokens.RefreshToken, "mcp admin", "")
			assertErrorCode(t, err, ErrorCodeInvalidScope)

			// none of the failures above may cost the owner the grant
			if _, err := env.srv.RefreshAccessToken(context.Background(), env.client, tokens.RefreshToken, "mcp", ""); err != nil {
				t.Errorf("owner refresh failed after rejected attempts: %v", err)
			}
		})
	}
}

func TestRefreshAccessToken_NarrowsScope(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.SupportedScopes = []string{"mcp", "read"} })

	verifier, challenge := testutil.PKCEPair()
	req := env.authRequest(challenge)
	req.Scope = "mcp read"
	result, err := env.srv.Authorize(context.Background(), req, testEmail, testPassword, "")
	if err != nil {
		t.Fatal(err)
	}
	tokens, err := env.srv.ExchangeAuthorizationCode(context.Background(), env.client, result.Code, testRedirectURI, verifier, "")
	if err != nil {
		t.Fatal(err)
	}

	resp, err := env.srv.RefreshAccessToken(context.Background(), env.client, tokens.RefreshToken, "read", "")
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}
	if resp.Scope != "read" {
		t.Errorf("Scope = %q, want read", resp.Scope)
	}
	if !strings.Contains(tokens.Scope, "mcp") {
		t.Errorf("original scope = %q", tokens.Scope)
	}
}
