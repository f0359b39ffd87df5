package oauth

import (
	"log/slog"
)

// Config holds the HTTP layer settings of a Handler. Protocol settings live
// in server.Config.
type Config struct {
	// LoginRenderer draws the credential form and the error page.
	// Default: the built-in html/template pages.
	LoginRenderer LoginRenderer

	// MaxRequestBodyBytes caps form and JSON bodies.
	// Default: 64 KiB
	MaxRequestBodyBytes int64

	// DisableMetricsEndpoint hides /metrics even when the server has
	// instrumentation attached
	DisableMetricsEndpoint bool

	// Logger for structured logging (optional, uses the server's logger if not provided)
	Logger *slog.Logger
}

func (c *Config) withDefaults(fallback *slog.Logger) Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.LoginRenderer == nil {
		out.LoginRenderer = DefaultLoginRenderer()
	}
	if out.MaxRequestBodyBytes <= 0 {
		out.MaxRequestBodyBytes = DefaultMaxRequestBodyBytes
	}
	if out.Logger == nil {
		out.Logger = fallback
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}
