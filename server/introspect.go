package server

import (
	"context"
	"strings"

	"github.com/giantswarm/mcp-authserver/instrumentation"
)

// IntrospectionResponse is the RFC 7662 response body. Only Active is set for
// tokens that are not live.
type IntrospectionResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	Issuer    string   `json:"iss,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	JTI       string   `json:"jti,omitempty"`
}

// IntrospectToken reports whether token is a live access token issued to
// client. The record must still exist (so revoked tokens are inactive) and
// the JWT must verify. Tokens of other clients are reported inactive.
func (s *Server) IntrospectToken(ctx context.Context, client *AuthenticatedClient, token string) (*IntrospectionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.introspect")
	defer span.End()

	inactive := &IntrospectionResponse{Active: false}
	if token == "" {
		return nil, ErrInvalidRequest("token is required")
	}

	record, err := s.tokens.GetAccessToken(ctx, token)
	if err != nil {
		if err := ignoreMissing(err); err != nil {
			instrumentation.RecordError(span, err)
			return nil, ErrServer(err)
		}
		return inactive, nil
	}
	if record.ClientID != client.ID {
		return inactive, nil
	}

	claims, err := s.signer.Verify(token, s.Config.Issuer, 0)
	if err != nil {
		s.Logger.Debug("Stored access token failed verification", "error", err)
		return inactive, nil
	}

	instrumentation.SetSpanSuccess(span)

	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     strings.Join(record.Scopes, " "),
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		Audience:  claims.Audience,
		Issuer:    claims.Issuer,
		TokenType: TokenTypeBearer,
		JTI:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		resp.IssuedAt = claims.IssuedAt.Unix()
	}
	return resp, nil
}
