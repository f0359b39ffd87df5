// Command mcp-authserver runs an OAuth 2.1 authorization server and a demo
// MCP resource server that accepts the access tokens it issues.
//
// Configuration is read from environment variables, optionally seeded from a
// .env file in the working directory (override with -env-file).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	oauth "github.com/giantswarm/mcp-authserver"
	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/resource"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
	"github.com/giantswarm/mcp-authserver/storage/memory"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	flag.Parse()

	cfg, err := loadConfig(*envFile)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	inst, err := instrumentation.New(instrumentation.Config{
		ServiceVersion: version,
		Enabled:        cfg.MetricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()

	store := memory.New()
	defer store.Stop()
	store.SetLogger(logger)
	if err := store.SetInstrumentation(inst); err != nil {
		return fmt.Errorf("failed to instrument storage: %w", err)
	}

	users := memory.NewDirectory()
	if _, err := users.AddUser(cfg.DemoUserID, cfg.DemoUserEmail, cfg.DemoUserPassword); err != nil {
		return fmt.Errorf("failed to seed demo user: %w", err)
	}

	signer, err := cfg.signer(logger)
	if err != nil {
		return err
	}
	codec, err := cfg.clientCodec(logger)
	if err != nil {
		return err
	}

	srv, err := oauth.NewServer(store, store, users, codec, signer, &oauth.ServerConfig{
		Issuer:              cfg.AuthServerIssuer,
		AccessTokenTTL:      cfg.AccessTokenTTL,
		RefreshTokenTTL:     cfg.RefreshTokenTTL,
		RotateRefreshTokens: cfg.RotateRefreshTokens,
		AllowPKCEPlain:      cfg.AllowPKCEPlain,
		AllowedResources:    []string{cfg.ResourceServerURL},
		TrustProxy:          cfg.TrustProxy,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create authorization server: %w", err)
	}

	rateLimiter := security.NewRateLimiter(security.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}, logger)
	defer rateLimiter.Stop()

	srv.SetAuditor(security.NewAuditor(logger, true))
	srv.SetRateLimiter(rateLimiter)
	srv.SetInstrumentation(inst)

	handler := oauth.NewHandler(srv, &oauth.Config{DisableMetricsEndpoint: !cfg.MetricsEnabled})

	servers := []*http.Server{
		newHTTPServer(cfg.AuthServerAddr, handler.Routes()),
		newHTTPServer(cfg.ResourceServerAddr, resourceRoutes(cfg, srv, inst, logger)),
	}

	errCh := make(chan error, len(servers))
	for _, hs := range servers {
		go func(hs *http.Server) {
			logger.Info("Listening", "addr", hs.Addr)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server on %s: %w", hs.Addr, err)
			}
		}(hs)
	}

	logger.Info("Authorization server started",
		"version", version,
		"issuer", cfg.AuthServerIssuer,
		"resource", cfg.ResourceServerURL,
		"signing_algorithm", signer.Algorithm(),
		"refresh_rotation", cfg.RotateRefreshTokens)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, hs := range servers {
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown failed", "addr", hs.Addr, "error", err)
		}
	}
	return runErr
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// resourceRoutes serves the protected resource metadata and the demo MCP
// endpoint. Tokens are verified with the authorization server's own key.
func resourceRoutes(cfg *Config, srv *server.Server, inst *instrumentation.Instrumentation, logger *slog.Logger) http.Handler {
	signer := srv.Signer()
	md := resource.NewProtectedResourceMetadata(cfg.ResourceServerURL, cfg.AuthServerIssuer, signer.Algorithm(), srv.Config.SupportedScopes)

	validator := &resource.Validator{
		Issuer:    srv.Config.Issuer,
		Audience:  md.Resource,
		Algorithm: signer.Algorithm(),
		Key:       signer.VerificationKey(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)

	r.Method(http.MethodGet, resource.MetadataPath, resource.ServeProtectedResourceMetadata(md))
	r.Method(http.MethodHead, resource.MetadataPath, resource.ServeProtectedResourceMetadata(md))

	r.Group(func(r chi.Router) {
		r.Use(resource.Middleware(validator, resource.Options{
			ResourceMetadataURL: md.MetadataURL(),
			Logger:              logger,
			Instrumentation:     inst,
		}))
		r.Get("/mcp", serveMCP(logger))
		r.Post("/mcp", serveMCP(logger))
	})

	return r
}

// serveMCP stands in for an MCP transport and echoes who called it
func serveMCP(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, ok := resource.AuthInfoFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		security.LoggerFromContext(r.Context(), logger).Info("MCP request",
			"method", r.Method,
			"user_id", info.Subject,
			"client_id_prefix", util.SafeTruncate(info.ClientID, 8))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(info)
	}
}
