package server

import (
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Server implements the authorization server's grant logic independent of HTTP.
// It owns no global state: codes, tokens and users live behind the storage
// interfaces, clients live inside their encrypted client ids.
type Server struct {
	codes  storage.CodeStore
	tokens storage.TokenStore
	users  storage.UserDirectory
	codec  *security.ClientCodec
	signer *Signer

	redirectPolicy RedirectURIPolicy

	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter for the HTTP layer
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
}

// New creates a new OAuth server
func New(
	codes storage.CodeStore,
	tokens storage.TokenStore,
	users storage.UserDirectory,
	codec *security.ClientCodec,
	signer *Signer,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if codes == nil {
		return nil, errors.New("code store is required")
	}
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	if users == nil {
		return nil, errors.New("user directory is required")
	}
	if codec == nil {
		return nil, errors.New("client codec is required")
	}
	if signer == nil {
		return nil, errors.New("token signer is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	srv := &Server{
		codes:  codes,
		tokens: tokens,
		users:  users,
		codec:  codec,
		signer: signer,
		Config: config,
		Logger: logger,
		tracer: noop.NewTracerProvider().Tracer("server"),
	}
	srv.redirectPolicy = NewRedirectURIPolicy(config)

	if config.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}
	for _, pattern := range config.AllowedCustomSchemes {
		if _, err := compileSchemePattern(pattern); err != nil {
			return nil, fmt.Errorf("invalid custom scheme pattern %q: %w", pattern, err)
		}
	}

	return srv, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetInstrumentation enables metrics and tracing for server operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// SetRedirectURIPolicy replaces the redirect URI policy applied at registration
func (s *Server) SetRedirectURIPolicy(policy RedirectURIPolicy) {
	if policy != nil {
		s.redirectPolicy = policy
	}
}

// Signer returns the access token signer
func (s *Server) Signer() *Signer {
	return s.signer
}

// Codec returns the client id codec
func (s *Server) Codec() *security.ClientCodec {
	return s.codec
}

// IPResolver returns the client IP resolver matching the proxy configuration
func (s *Server) IPResolver() security.IPResolver {
	return security.IPResolver{TrustProxy: s.Config.TrustProxy, TrustedProxyCount: s.Config.TrustedProxyCount}
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// generateRandomToken returns 32 random bytes as unpadded base64url.
// Used for authorization codes and refresh tokens.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}
