package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/internal/testutil"
	"github.com/giantswarm/mcp-authserver/resource"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage/memory"
)

// lazyHandler lets a test server exist before the handler that needs its URL
type lazyHandler struct{ h http.Handler }

func (l *lazyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) { l.h.ServeHTTP(w, r) }

// TestEndToEnd runs the whole flow with golang.org/x/oauth2 as the client:
// registration, login, code exchange with PKCE, a call to the resource
// server, refresh, and revocation.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()

	asLazy, rsLazy := &lazyHandler{}, &lazyHandler{}
	as := httptest.NewServer(asLazy)
	defer as.Close()
	rs := httptest.NewServer(rsLazy)
	defer rs.Close()

	// Authorization server
	store := memory.New()
	defer store.Stop()
	users := memory.NewDirectoryWithCost(bcrypt.MinCost)
	if _, err := users.AddUser(testUserID, testEmail, testPassword); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	signer, err := server.NewRS256Signer(testutil.RSAKey(t))
	if err != nil {
		t.Fatalf("NewRS256Signer() error = %v", err)
	}
	srv, err := NewServer(store, store, users, testutil.ClientCodec(t), signer,
		&ServerConfig{Issuer: as.URL, RotateRefreshTokens: true}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	asLazy.h = NewHandler(srv, nil).Routes()

	// Resource server, trusting the keys published at the JWKS endpoint
	keySet := fetchJWKS(t, as.URL+MetadataPathJWKS)
	md := resource.NewProtectedResourceMetadata(rs.URL, as.URL, server.SigningAlgorithmRS256, []string{"mcp"})
	validator := &resource.Validator{
		Issuer:    as.URL,
		Audience:  rs.URL,
		Algorithm: resource.AlgorithmRS256,
		KeySet:    keySet,
	}
	rsRouter := chi.NewRouter()
	rsRouter.Get(resource.MetadataPath, resource.ServeProtectedResourceMetadata(md))
	rsRouter.With(resource.Middleware(validator, resource.Options{ResourceMetadataURL: md.MetadataURL()})).
		Post("/mcp", func(w http.ResponseWriter, r *http.Request) {
			info, _ := resource.AuthInfoFromContext(r.Context())
			_ = json.NewEncoder(w).Encode(info)
		})
	rsLazy.h = rsRouter

	// Unauthenticated call points the client at the protected resource metadata
	resp, err := http.Post(rs.URL+"/mcp", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /mcp error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, `resource_metadata="`+md.MetadataURL()+`"`) {
		t.Errorf("WWW-Authenticate = %q, want resource_metadata", got)
	}

	// Dynamic client registration
	redirectURI := "http://127.0.0.1:9999/callback"
	reg := registerClient(t, as.URL, redirectURI)

	cfg := &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   as.URL + EndpointAuthorize,
			TokenURL:  as.URL + EndpointToken,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		RedirectURL: redirectURI,
		Scopes:      []string{"mcp"},
	}

	verifier := oauth2.GenerateVerifier()
	authURL := cfg.AuthCodeURL("state-123",
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("resource", rs.URL))

	// The login page
	resp, err = http.Get(authURL)
	if err != nil {
		t.Fatalf("GET authorize error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login page status = %d, want 200", resp.StatusCode)
	}

	// Submitting credentials redirects back with a code
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err = noRedirect.PostForm(authURL, url.Values{"email": {testEmail}, "password": {testPassword}})
	if err != nil {
		t.Fatalf("POST authorize error = %v", err)
	}
	resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("bad Location: %v", err)
	}
	if got := loc.Query().Get("state"); got != "state-123" {
		t.Errorf("state = %q, want state-123", got)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in %s", loc)
	}

	// A wrong verifier burns the code
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(oauth2.GenerateVerifier()))
	assertRetrieveError(t, err, "invalid_grant")

	// Run the login again and exchange properly
	resp, err = noRedirect.PostForm(authURL, url.Values{"email": {testEmail}, "password": {testPassword}})
	if err != nil {
		t.Fatalf("POST authorize error = %v", err)
	}
	resp.Body.Close()
	loc, _ = url.Parse(resp.Header.Get("Location"))

	tok, err = cfg.Exchange(ctx, loc.Query().Get("code"), oauth2.VerifierOption(verifier))
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if tok.RefreshToken == "" {
		t.Fatal("no refresh token issued")
	}

	// Replaying the code fails
	_, err = cfg.Exchange(ctx, loc.Query().Get("code"), oauth2.VerifierOption(verifier))
	assertRetrieveError(t, err, "invalid_grant")

	// Resource server accepts the token and sees the user
	info := callResource(t, cfg.Client(ctx, tok), rs.URL+"/mcp")
	if info.Subject != testUserID {
		t.Errorf("sub = %q, want %q", info.Subject, testUserID)
	}
	if info.ClientID != reg.ClientID {
		t.Errorf("client_id mismatch")
	}
	if !info.HasScopes([]string{"mcp"}) {
		t.Errorf("scopes = %v, want mcp", info.Scopes)
	}

	// Refresh with rotation: a new refresh token, the old one is dead
	refreshed, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if refreshed.RefreshToken == tok.RefreshToken {
		t.Error("refresh token was not rotated")
	}
	_, err = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	assertRetrieveError(t, err, "invalid_grant")

	callResource(t, cfg.Client(ctx, refreshed), rs.URL+"/mcp")

	// Revocation of the refresh token ends the session
	revoke := url.Values{"token": {refreshed.RefreshToken}, "token_type_hint": {"refresh_token"}}
	req, _ := http.NewRequest(http.MethodPost, as.URL+EndpointRevoke, strings.NewReader(revoke.Encode()))
	req.Header.Set("Content-Type", formContentType)
	req.SetBasicAuth(url.QueryEscape(reg.ClientID), url.QueryEscape(reg.ClientSecret))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("revoke error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke status = %d, want 200", resp.StatusCode)
	}

	_, err = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshed.RefreshToken}).Token()
	assertRetrieveError(t, err, "invalid_grant")
}

func fetchJWKS(t *testing.T, jwksURL string) *jose.JSONWebKeySet {
	t.Helper()
	resp, err := http.Get(jwksURL)
	if err != nil {
		t.Fatalf("GET JWKS error = %v", err)
	}
	defer resp.Body.Close()
	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		t.Fatalf("failed to decode JWKS: %v", err)
	}
	return &set
}

func registerClient(t *testing.T, issuer, redirectURI string) RegistrationResponse {
	t.Helper()
	body, _ := json.Marshal(RegistrationRequest{RedirectURIs: []string{redirectURI}, ClientName: "e2e"})
	resp, err := http.Post(issuer+EndpointRegister, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("register error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d, want 201", resp.StatusCode)
	}
	var reg RegistrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		t.Fatalf("failed to decode registration: %v", err)
	}
	return reg
}

func callResource(t *testing.T, client *http.Client, target string) *resource.AuthInfo {
	t.Helper()
	resp, err := client.Post(target, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST %s error = %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resource status = %d, want 200 (%s)", resp.StatusCode, resp.Header.Get("WWW-Authenticate"))
	}
	var info resource.AuthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode auth info: %v", err)
	}
	return &info
}

func assertRetrieveError(t *testing.T, err error, wantCode string) {
	t.Helper()
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		t.Fatalf("error = %v, want *oauth2.RetrieveError", err)
	}
	if re.ErrorCode != wantCode {
		t.Errorf("error code = %q, want %q", re.ErrorCode, wantCode)
	}
}
