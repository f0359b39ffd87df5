package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
)

const clientSecretBytes = 32

// maxRegistrationBodySize bounds the registration request body
const maxRegistrationBodySize = 64 << 10

// RegistrationRequest is the subset of RFC 7591 client metadata this server uses
type RegistrationRequest struct {
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ClientName              string   `json:"client_name,omitempty"`
}

// RegistrationResponse is the RFC 7591 section 3.2.1 response
type RegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ClientName              string   `json:"client_name,omitempty"`
	Scope                   string   `json:"scope"`
}

// DecodeRegistrationRequest reads a registration request body. redirect_uris
// that is missing or not an array of strings is reported as
// invalid_redirect_uri, any other malformed metadata as invalid_client_metadata.
func DecodeRegistrationRequest(body io.Reader) (*RegistrationRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(body, maxRegistrationBodySize)).Decode(&raw); err != nil {
		return nil, &Error{Code: ErrorCodeInvalidClientMetadata, Description: "request body must be a JSON object", Err: err}
	}

	req := &RegistrationRequest{}
	if err := json.Unmarshal(raw["redirect_uris"], &req.RedirectURIs); err != nil || req.RedirectURIs == nil {
		return nil, ErrInvalidRedirectURI("redirect_uris must be an array of strings")
	}

	fields := map[string]any{
		"token_endpoint_auth_method": &req.TokenEndpointAuthMethod,
		"grant_types":                &req.GrantTypes,
		"client_name":                &req.ClientName,
	}
	for name, dst := range fields {
		value, ok := raw[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			return nil, ErrInvalidClientMetadata(fmt.Sprintf("%s has the wrong type", name))
		}
	}
	return req, nil
}

// RegisterClient performs dynamic client registration (RFC 7591). Nothing is
// stored: the client's metadata and secret are sealed into the returned
// client_id.
func (s *Server) RegisterClient(ctx context.Context, req *RegistrationRequest, clientIP string) (*RegistrationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "oauth.register")
	defer span.End()

	if len(req.RedirectURIs) == 0 {
		return nil, ErrInvalidRedirectURI("at least one redirect URI is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := s.redirectPolicy.Validate(uri); err != nil {
			var uriErr *RedirectURIError
			if errors.As(err, &uriErr) {
				s.Logger.Info("Rejected redirect URI at registration",
					"category", uriErr.Category,
					"uri", uriErr.URI,
					"reason", uriErr.Reason,
					"ip", clientIP)
			}
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidRedirect,
				IPAddress: clientIP,
				Details:   map[string]any{"stage": "registration"},
			})
			instrumentation.SetSpanError(span, "invalid redirect uri")
			return nil, &Error{Code: ErrorCodeInvalidRedirectURI, Description: err.Error(), Err: err}
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod != security.AuthMethodClientSecretBasic && authMethod != security.AuthMethodClientSecretPost {
		authMethod = security.AuthMethodClientSecretBasic
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = SupportedGrantTypes
	}
	for _, gt := range grantTypes {
		if !slices.Contains(SupportedGrantTypes, gt) {
			return nil, ErrInvalidClientMetadata(fmt.Sprintf("unsupported grant_type %q", gt))
		}
	}
	grantTypes = slices.Clone(grantTypes)

	secret, err := generateClientSecret()
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrServer(err)
	}

	issuedAt := time.Now().Truncate(time.Second)
	clientID, err := s.codec.Encode(&security.Client{
		Secret:       secret,
		RedirectURIs: req.RedirectURIs,
		AuthMethod:   authMethod,
		GrantTypes:   grantTypes,
		IssuedAt:     issuedAt,
	})
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, ErrServer(err)
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrAuthMethod, authMethod))
	instrumentation.SetSpanSuccess(span)
	s.metrics().RecordClientRegistration(ctx, authMethod)
	s.Auditor.LogClientRegistered(clientID, authMethod, clientIP, len(req.RedirectURIs))
	s.Logger.Info("Registered client",
		"client_id_hash", security.HashForLogging(clientID),
		"auth_method", authMethod,
		"redirect_uri_count", len(req.RedirectURIs))

	return &RegistrationResponse{
		ClientID:                clientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        issuedAt.Unix(),
		ClientSecretExpiresAt:   0,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              grantTypes,
		ResponseTypes:           []string{ResponseTypeCode},
		TokenEndpointAuthMethod: authMethod,
		ClientName:              req.ClientName,
		Scope:                   strings.Join(s.Config.DefaultScopes, " "),
	}, nil
}

func generateClientSecret() (string, error) {
	b := make([]byte, clientSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate client secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}
