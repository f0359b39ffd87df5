package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/storage"
)

// RevokeToken implements RFC 7009 revocation.
//
// An empty token is a no-op. Otherwise the caller must identify itself; a
// secret is optional but must match when given. Only records owned by the
// caller are removed. An unknown or foreign token is not an error, so callers
// cannot probe for valid tokens. The hint only decides which kind is looked
// up first.
func (s *Server) RevokeToken(ctx context.Context, creds ClientCredentials, token, tokenTypeHint, clientIP string) error {
	ctx, span := s.tracer.Start(ctx, "oauth.revoke")
	defer span.End()

	if token == "" {
		return nil
	}

	client, err := s.AuthenticateClient(creds, false)
	if err != nil {
		s.Auditor.LogAuthFailure("", creds.ClientID, clientIP, "revocation_client_authentication")
		instrumentation.RecordError(span, err)
		return err
	}

	order := []string{TokenTypeHintAccessToken, TokenTypeHintRefreshToken}
	if tokenTypeHint == TokenTypeHintRefreshToken {
		order = []string{TokenTypeHintRefreshToken, TokenTypeHintAccessToken}
	}

	for _, kind := range order {
		revoked, err := s.revokeOwned(ctx, kind, token, client.ID)
		if err != nil {
			instrumentation.RecordError(span, err)
			return ErrServer(err)
		}
		if revoked != "" {
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrTokenType, kind))
			s.metrics().RecordTokenRevocation(ctx, kind)
			s.Auditor.LogTokenRevoked(revoked, client.ID, clientIP, kind)
			break
		}
	}

	instrumentation.SetSpanSuccess(span)
	return nil
}

// revokeOwned deletes token of the given kind if clientID owns it and returns
// the owning user id, or "" when nothing was deleted.
func (s *Server) revokeOwned(ctx context.Context, kind, token, clientID string) (string, error) {
	switch kind {
	case TokenTypeHintAccessToken:
		record, err := s.tokens.GetAccessToken(ctx, token)
		if err != nil {
			return "", ignoreMissing(err)
		}
		if record.ClientID != clientID {
			return "", nil
		}
		return record.UserID, s.tokens.DeleteAccessToken(ctx, token)
	default:
		record, err := s.tokens.GetRefreshToken(ctx, token)
		if err != nil {
			return "", ignoreMissing(err)
		}
		if record.ClientID != clientID {
			return "", nil
		}
		return record.UserID, s.tokens.DeleteRefreshToken(ctx, token)
	}
}

func ignoreMissing(err error) error {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
		return nil
	}
	return err
}
