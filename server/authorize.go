package server

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// ResponseTypeCode is the only response_type this server issues
const ResponseTypeCode = "code"

// AuthorizationRequest holds the parameters of an authorization request
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// ParseAuthorizationRequest reads an authorization request from query parameters
func ParseAuthorizationRequest(q url.Values) *AuthorizationRequest {
	return &AuthorizationRequest{
		ResponseType:        q.Get("response_type"),
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		Resource:            q.Get("resource"),
	}
}

// AuthorizationResult is a successful authorization: the caller should be
// redirected to RedirectURL, which carries the code and state.
type AuthorizationResult struct {
	Code        string
	RedirectURL string
}

// ValidateAuthorizationRequest checks an authorization request before any
// credentials are asked for. Checks run in a fixed order and the first failure
// is returned. Errors flagged Untrusted must not be redirected.
func (s *Server) ValidateAuthorizationRequest(req *AuthorizationRequest) error {
	if req.RedirectURI == "" {
		return untrusted(ErrInvalidRequest("redirect_uri is required"))
	}
	if !isAbsoluteURI(req.RedirectURI) {
		return untrusted(ErrInvalidRequest("redirect_uri must be an absolute URI"))
	}
	if req.ClientID == "" {
		return ErrInvalidRequest("client_id is required")
	}
	if req.ResponseType == "" {
		return ErrInvalidRequest("response_type is required")
	}
	if req.ResponseType != ResponseTypeCode {
		return ErrUnsupportedResponseType("only response_type=code is supported")
	}
	if req.State == "" && req.CodeChallenge == "" {
		return ErrInvalidRequest("state or code_challenge is required")
	}
	if req.CodeChallenge != "" {
		method := normalizeChallengeMethod(req.CodeChallenge, req.CodeChallengeMethod)
		if err := s.validateChallengeMethod(method); err != nil {
			return ErrInvalidRequest(err.Error())
		}
	}
	if err := s.validateScopes(parseScope(req.Scope)); err != nil {
		return ErrInvalidScope(err.Error())
	}
	if err := s.validateResource(req.Resource); err != nil {
		return ErrInvalidTarget(err.Error())
	}
	return nil
}

// Authorize authenticates the resource owner and issues an authorization code
// for the request. Credentials are checked only after the client and its
// redirect_uri are known to be genuine.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, email, password, clientIP string) (*AuthorizationResult, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.authorize")
	defer span.End()

	if err := s.ValidateAuthorizationRequest(req); err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}

	client, err := s.codec.Decode(req.ClientID)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, untrusted(&Error{Code: ErrorCodeInvalidClient, Description: "unknown client", Err: err})
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventInvalidRedirect,
			ClientID:  req.ClientID,
			IPAddress: clientIP,
			Details:   map[string]any{"redirect_uri": sanitizeURIForLogging(req.RedirectURI)},
		})
		instrumentation.SetSpanError(span, "redirect_uri mismatch")
		return nil, untrusted(ErrInvalidRequest("redirect_uri does not match a registered redirect URI"))
	}

	if !client.HasGrantType(GrantTypeAuthorizationCode) {
		return nil, ErrUnauthorizedClient("client is not allowed to use the authorization_code grant")
	}

	if email == "" || password == "" {
		return nil, ErrInvalidRequest("email and password are required")
	}

	user, err := s.users.Authenticate(ctx, email, password)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidCredentials) {
			instrumentation.RecordError(span, err)
			return nil, ErrServer(err)
		}
		s.Auditor.LogAuthFailure("", req.ClientID, clientIP, "invalid_credentials")
		instrumentation.SetSpanError(span, "invalid credentials")
		return nil, &Error{Code: ErrorCodeInvalidRequest, Description: "invalid email or password", Err: err}
	}

	scopes := parseScope(req.Scope)
	if len(scopes) == 0 {
		scopes = append([]string(nil), s.Config.DefaultScopes...)
	}

	now := time.Now()
	authCode := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            req.ClientID,
		UserID:              user.ID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: normalizeChallengeMethod(req.CodeChallenge, req.CodeChallengeMethod),
		Resource:            req.Resource,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.Config.AuthorizationCodeTTL),
	}

	if err := s.codes.SaveAuthorizationCode(ctx, authCode); err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrServer(err)
	}

	scope := strings.Join(scopes, " ")
	instrumentation.AddOAuthFlowAttributes(span, security.HashForLogging(req.ClientID), user.ID, scope)
	instrumentation.AddPKCEAttributes(span, authCode.CodeChallengeMethod)
	instrumentation.SetSpanSuccess(span)

	s.metrics().RecordCodeIssued(ctx, authCode.CodeChallengeMethod)
	s.Auditor.LogCodeIssued(user.ID, req.ClientID, clientIP, scope)
	s.Logger.Debug("Authorization code issued",
		"code_prefix", util.SafeTruncate(authCode.Code, 8),
		"scope", scope)

	return &AuthorizationResult{
		Code:        authCode.Code,
		RedirectURL: RedirectURLWithParams(req.RedirectURI, url.Values{"code": {authCode.Code}}, req.State),
	}, nil
}

// RedirectURLWithParams appends params and, when non-empty, state to
// redirectURI, keeping any query it already has.
func RedirectURLWithParams(redirectURI string, params url.Values, state string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ErrorRedirectURL builds the redirect carrying an authorization error back to
// the client (RFC 6749 section 4.1.2.1)
func ErrorRedirectURL(redirectURI string, oauthErr *Error, state string) string {
	params := url.Values{"error": {string(oauthErr.Code)}}
	if oauthErr.Description != "" {
		params.Set("error_description", oauthErr.Description)
	}
	return RedirectURLWithParams(redirectURI, params, state)
}
