package main

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
)

// Config is read from the environment, after an optional .env file
type Config struct {
	AuthServerAddr   string `env:"AUTH_SERVER_ADDR" env-default:":3000" env-description:"authorization server listen address"`
	AuthServerIssuer string `env:"AUTH_SERVER_ISSUER" env-default:"http://localhost:3000" env-description:"issuer URL"`

	ResourceServerAddr string `env:"RESOURCE_SERVER_ADDR" env-default:":3001" env-description:"resource server listen address"`
	ResourceServerURL  string `env:"RESOURCE_SERVER_URL" env-default:"http://localhost:3001" env-description:"resource server canonical URL, used as token audience"`

	ClientIDEncryptionKey string `env:"CLIENT_ID_ENCRYPTION_KEY" env-description:"base64 32-byte key sealing client ids; generated when empty"`

	SignAlgorithm string `env:"ACCESS_TOKEN_SIGN_ALGORITHM" env-default:"RS256" env-description:"RS256 or HS256"`
	SignSecret    string `env:"ACCESS_TOKEN_SIGN_SECRET" env-description:"HS256 secret, or RSA private key PEM for RS256"`
	SignKeyFile   string `env:"ACCESS_TOKEN_SIGN_KEY_FILE" env-description:"RSA private key PEM file for RS256"`

	AccessTokenTTL      time.Duration `env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTokenTTL     time.Duration `env:"REFRESH_TOKEN_TTL" env-default:"336h"`
	RotateRefreshTokens bool          `env:"ROTATE_REFRESH_TOKENS" env-default:"false"`
	AllowPKCEPlain      bool          `env:"ALLOW_PKCE_PLAIN" env-default:"false"`

	DemoUserEmail    string `env:"DEMO_USER_EMAIL" env-default:"itsuki@itsuki.com"`
	DemoUserPassword string `env:"DEMO_USER_PASSWORD" env-default:"000"`
	DemoUserID       string `env:"DEMO_USER_ID" env-default:"0000001"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" env-default:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" env-default:"20"`
	TrustProxy     bool    `env:"TRUST_PROXY" env-default:"false"`

	MetricsEnabled bool   `env:"METRICS_ENABLED" env-default:"true"`
	LogLevel       string `env:"LOG_LEVEL" env-default:"info"`
}

// loadConfig loads envFile when it exists and then reads the environment.
// Variables already set in the environment win over the file.
func loadConfig(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", filepath.Base(envFile), err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.SignAlgorithm) {
	case server.SigningAlgorithmRS256, server.SigningAlgorithmHS256:
		c.SignAlgorithm = strings.ToUpper(c.SignAlgorithm)
	default:
		return fmt.Errorf("ACCESS_TOKEN_SIGN_ALGORITHM must be RS256 or HS256, got %q", c.SignAlgorithm)
	}
	if c.SignAlgorithm == server.SigningAlgorithmHS256 && c.SignSecret == "" {
		return errors.New("ACCESS_TOKEN_SIGN_SECRET is required for HS256")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	return nil
}

// logLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c *Config) logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// signer builds the access token signer. RS256 reads the key from
// ACCESS_TOKEN_SIGN_KEY_FILE, then from a PEM in ACCESS_TOKEN_SIGN_SECRET, and
// generates a throwaway key when neither is set.
func (c *Config) signer(logger *slog.Logger) (*server.Signer, error) {
	if c.SignAlgorithm == server.SigningAlgorithmHS256 {
		return server.NewHS256Signer([]byte(c.SignSecret))
	}

	var (
		key *rsa.PrivateKey
		err error
	)
	switch {
	case c.SignKeyFile != "":
		key, err = server.LoadRSAPrivateKeyFile(c.SignKeyFile)
	case c.SignSecret != "":
		key, err = server.ParseRSAPrivateKeyPEM([]byte(c.SignSecret))
	default:
		logger.Warn("No RSA signing key configured, generating one; tokens will not survive a restart")
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load RSA signing key: %w", err)
	}
	return server.NewRS256Signer(key)
}

// clientCodec builds the codec sealing client ids. Without a configured key
// every restart invalidates all registered clients.
func (c *Config) clientCodec(logger *slog.Logger) (*security.ClientCodec, error) {
	var (
		key []byte
		err error
	)
	if c.ClientIDEncryptionKey != "" {
		key, err = security.KeyFromBase64(c.ClientIDEncryptionKey)
	} else {
		key, err = security.GenerateKey()
		if err == nil {
			logger.Warn("CLIENT_ID_ENCRYPTION_KEY not set, generated a new key; registered clients will not survive a restart")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client id key: %w", err)
	}
	return security.NewClientCodec(key)
}
