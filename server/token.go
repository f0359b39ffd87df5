package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// TokenTypeBearer is the token_type of every token response
const TokenTypeBearer = "bearer"

// TokenResponse is the token endpoint's success body (RFC 6749 section 5.1)
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ExchangeAuthorizationCode redeems an authorization code for tokens.
// The code is consumed before any other check so it is gone whatever the
// outcome, and a second redemption always fails.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, client *AuthenticatedClient, code, redirectURI, codeVerifier, clientIP string) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.token.authorization_code")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))

	if !client.HasGrantType(GrantTypeAuthorizationCode) {
		return nil, ErrUnauthorizedClient("client is not allowed to use the authorization_code grant")
	}
	if code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	authCode, err := s.codes.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			s.Logger.Debug("Authorization code rejected",
				"code_prefix", util.SafeTruncate(code, 8),
				"error", err)
			instrumentation.SetSpanError(span, "code not found")
			return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "authorization code is invalid or expired", Err: err}
		}
		instrumentation.RecordError(span, err)
		return nil, ErrServer(err)
	}

	if authCode.ClientID != client.ID {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventCodeClientMismatch,
			UserID:    authCode.UserID,
			ClientID:  client.ID,
			IPAddress: clientIP,
		})
		instrumentation.SetSpanError(span, "client mismatch")
		return nil, ErrInvalidGrant("authorization code was issued to another client")
	}

	if redirectURI != "" && redirectURI != authCode.RedirectURI {
		instrumentation.SetSpanError(span, "redirect_uri mismatch")
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		s.metrics().RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
		s.Auditor.LogInvalidPKCE(authCode.UserID, client.ID, clientIP, err.Error())
		instrumentation.SetSpanError(span, "pkce validation failed")
		return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "PKCE verification failed", Err: err}
	}

	user, err := s.resolveUser(ctx, authCode.UserID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	resp, err := s.issueTokens(ctx, client, user.ID, authCode.Scopes, authCode.Resource, "")
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	instrumentation.AddOAuthFlowAttributes(span, security.HashForLogging(client.ID), user.ID, resp.Scope)
	instrumentation.AddPKCEAttributes(span, authCode.CodeChallengeMethod)
	instrumentation.SetSpanSuccess(span)

	s.metrics().RecordCodeExchange(ctx, authCode.CodeChallengeMethod)
	s.Auditor.LogTokenIssued(user.ID, client.ID, clientIP, resp.Scope)

	return resp, nil
}

// RefreshAccessToken issues a new access token for a refresh token. With
// RotateRefreshTokens the old refresh token is consumed and a new one returned,
// otherwise the same refresh token is returned again.
func (s *Server) RefreshAccessToken(ctx context.Context, client *AuthenticatedClient, refreshToken, scope, clientIP string) (*TokenResponse, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.token.refresh_token")
	defer span.End()
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken),
		attribute.Bool(instrumentation.AttrTokenRotated, s.Config.RotateRefreshTokens))

	if !client.HasGrantType(GrantTypeRefreshToken) {
		return nil, ErrUnauthorizedClient("client is not allowed to use the refresh_token grant")
	}
	if refreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	var (
		record *storage.RefreshToken
		err    error
	)
	if s.Config.RotateRefreshTokens {
		record, err = s.tokens.GetRefreshToken(ctx, refreshToken)
		if err == nil && record.ClientID == client.ID {
			// only the owner may burn the token
			record, err = s.tokens.ConsumeRefreshToken(ctx, refreshToken)
		}
	} else {
		record, err = s.tokens.GetRefreshToken(ctx, refreshToken)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			instrumentation.SetSpanError(span, "refresh token not found")
			return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "refresh token is invalid or expired", Err: err}
		}
		instrumentation.RecordError(span, err)
		return nil, ErrServer(err)
	}

	if record.ClientID != client.ID {
		instrumentation.SetSpanError(span, "client mismatch")
		return nil, ErrInvalidGrant("refresh token was issued to another client")
	}

	scopes := record.Scopes
	if requested := parseScope(scope); len(requested) > 0 {
		if !isSubset(requested, record.Scopes) {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventScopeEscalationAttempt,
				UserID:    record.UserID,
				ClientID:  client.ID,
				IPAddress: clientIP,
				Details:   map[string]any{"requested": scope, "granted": strings.Join(record.Scopes, " ")},
			})
			if s.Config.RotateRefreshTokens {
				// the old token is already consumed; put it back so a bad
				// scope parameter does not cost the client its grant
				if err := s.tokens.SaveRefreshToken(ctx, record); err != nil {
					s.Logger.Warn("Failed to restore refresh token", "error", err)
				}
			}
			return nil, ErrInvalidScope("requested scope exceeds the original grant")
		}
		scopes = requested
	}

	user, err := s.resolveUser(ctx, record.UserID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	reuse := ""
	if !s.Config.RotateRefreshTokens {
		reuse = record.Token
	}

	resp, err := s.issueTokens(ctx, client, user.ID, scopes, record.Resource, reuse)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if !s.Config.RotateRefreshTokens {
		// the reused token keeps its original grant and expiry
		resp.RefreshToken = record.Token
	}

	instrumentation.AddOAuthFlowAttributes(span, security.HashForLogging(client.ID), user.ID, resp.Scope)
	instrumentation.SetSpanSuccess(span)

	s.metrics().RecordTokenRefresh(ctx, s.Config.RotateRefreshTokens)
	s.Auditor.LogTokenRefreshed(user.ID, client.ID, clientIP, s.Config.RotateRefreshTokens)

	return resp, nil
}

func (s *Server) resolveUser(ctx context.Context, userID string) (*storage.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &Error{Code: ErrorCodeInvalidGrant, Description: "resource owner no longer exists", Err: err}
		}
		return nil, ErrServer(err)
	}
	return user, nil
}

// tokenLifetimes returns the client's own lifetimes, falling back to the
// configured defaults.
func (s *Server) tokenLifetimes(client *security.Client) (access, refresh time.Duration) {
	access, refresh = s.Config.AccessTokenTTL, s.Config.RefreshTokenTTL
	if client.AccessTokenTTL > 0 {
		access = client.AccessTokenTTL
	}
	if client.RefreshTokenTTL > 0 {
		refresh = client.RefreshTokenTTL
	}
	return access, refresh
}

// issueTokens mints and records an access token and, unless disabled or
// reusedRefresh is set, a new refresh token.
func (s *Server) issueTokens(ctx context.Context, client *AuthenticatedClient, userID string, scopes []string, resource, reusedRefresh string) (*TokenResponse, error) {
	now := time.Now()
	clientID := client.ID
	accessTTL, refreshTTL := s.tokenLifetimes(client.Client)
	scope := strings.Join(scopes, " ")

	claims := &AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Config.Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTTL)),
		},
		ClientID: clientID,
		Scope:    scope,
	}
	if resource != "" {
		claims.Audience = jwt.ClaimStrings{resource}
	}

	accessToken, err := s.signer.Sign(claims)
	if err != nil {
		return nil, ErrServer(err)
	}

	if err := s.tokens.SaveAccessToken(ctx, &storage.AccessToken{
		Token:     accessToken,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(accessTTL),
	}); err != nil {
		return nil, ErrServer(err)
	}

	resp := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(accessTTL.Seconds()),
		Scope:       scope,
	}

	if s.Config.DisableRefreshTokens || reusedRefresh != "" {
		return resp, nil
	}

	refresh := &storage.RefreshToken{
		Token:     generateRandomToken(),
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		Resource:  resource,
		IssuedAt:  now,
		ExpiresAt: now.Add(refreshTTL),
	}
	if err := s.tokens.SaveRefreshToken(ctx, refresh); err != nil {
		return nil, ErrServer(err)
	}
	resp.RefreshToken = refresh.Token

	return resp, nil
}
