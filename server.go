package oauth

import (
	"log/slog"

	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage"
)

// Server is the protocol core behind Handler
type Server = server.Server

// ServerConfig holds OAuth server configuration
type ServerConfig = server.Config

// NewServer creates the protocol core. It is a shorthand for server.New so
// that most callers only need to import this package.
func NewServer(
	codes storage.CodeStore,
	tokens storage.TokenStore,
	users storage.UserDirectory,
	codec *security.ClientCodec,
	signer *server.Signer,
	config *ServerConfig,
	logger *slog.Logger,
) (*Server, error) {
	return server.New(codes, tokens, users, codec, signer, config, logger)
}
