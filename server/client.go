package server

import (
	"crypto/subtle"

	"github.com/giantswarm/mcp-authserver/security"
)

// Grant types this server implements
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// SupportedGrantTypes lists the grant types a client can register for
var SupportedGrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}

// Token type hints (RFC 7009)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// ClientCredentials is what a caller presented to identify itself
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	// Method records how the credentials were sent (client_secret_basic or client_secret_post)
	Method string
}

// AuthenticatedClient is a client whose id decoded and whose secret matched
type AuthenticatedClient struct {
	ID string
	*security.Client
}

// AuthenticateClient decodes the client id and compares the secret in constant
// time. With requireSecret false an absent secret is accepted, which is what
// revocation needs; a wrong secret is always rejected.
func (s *Server) AuthenticateClient(creds ClientCredentials, requireSecret bool) (*AuthenticatedClient, error) {
	if creds.ClientID == "" {
		return nil, ErrInvalidClient("client authentication required")
	}

	client, err := s.codec.Decode(creds.ClientID)
	if err != nil {
		s.Logger.Debug("Client id failed to decode", "error", err)
		return nil, &Error{Code: ErrorCodeInvalidClient, Description: "unknown client", Err: err}
	}

	if creds.ClientSecret == "" && !requireSecret {
		return &AuthenticatedClient{ID: creds.ClientID, Client: client}, nil
	}

	if subtle.ConstantTimeCompare([]byte(creds.ClientSecret), []byte(client.Secret)) != 1 {
		return nil, ErrInvalidClient("client authentication failed")
	}

	return &AuthenticatedClient{ID: creds.ClientID, Client: client}, nil
}
