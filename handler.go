package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/internal/util"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
)

// Handler is a thin HTTP adapter for the authorization server.
// It parses requests and delegates to server.Server for business logic.
type Handler struct {
	server *server.Server
	config Config
	logger *slog.Logger
	tracer trace.Tracer // OpenTelemetry tracer for HTTP layer
}

// NewHandler creates a new HTTP handler. config may be nil.
func NewHandler(srv *server.Server, config *Config) *Handler {
	cfg := config.withDefaults(srv.Logger)

	h := &Handler{
		server: srv,
		config: cfg,
		logger: cfg.Logger,
		tracer: noop.NewTracerProvider().Tracer("http"),
	}

	// Initialize tracer if instrumentation is enabled
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// Routes returns the router serving every authorization server endpoint
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.RequestIDMiddleware)
	r.Use(h.instrument)
	r.Use(h.limitBody)

	r.Group(func(r chi.Router) {
		r.Use(h.rateLimit)
		r.Get(EndpointAuthorize, h.ServeAuthorization)
		r.Post(EndpointAuthorize, h.ServeAuthorizationSubmit)
		r.Post(EndpointToken, h.ServeToken)
		r.Post(EndpointRegister, h.ServeClientRegistration)
	})

	r.Get(EndpointError, h.ServeErrorPage)
	r.Post(EndpointRevoke, h.ServeTokenRevocation)
	r.Post(EndpointIntrospect, h.ServeTokenIntrospection)

	r.Get(MetadataPathAuthorizationServer, h.ServeAuthorizationServerMetadata)
	r.Get(MetadataPathOpenIDConfiguration, h.ServeAuthorizationServerMetadata)
	r.Get(MetadataPathJWKS, h.ServeJWKS)
	r.Get(EndpointHealth, h.ServeHealth)

	if inst := h.server.Instrumentation; inst != nil && !h.config.DisableMetricsEndpoint {
		r.Method(http.MethodGet, EndpointMetrics, inst.MetricsHandler())
	}

	return r
}

// instrument wraps every request in a span and records the request metrics
// under the matched route pattern
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := h.tracer.Start(r.Context(), "oauth.http.request", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		instrumentation.SetSpanAttributes(span, attribute.String("http.request_id", security.GetRequestID(ctx)))
		if inst := h.server.Instrumentation; inst != nil && inst.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.clientIP(r))
		}
		if status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(status))
		}
		h.metrics().RecordHTTPRequest(ctx, r.Method, endpoint, status, float64(time.Since(start).Microseconds())/1000)
	})
}

// limitBody caps request bodies
func (h *Handler) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit rejects requests from client IPs over their per-IP budget
func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)
		if h.server.RateLimiter.Allow(clientIP) {
			next.ServeHTTP(w, r)
			return
		}

		h.logger.Warn("Rate limit exceeded", "ip", clientIP, "path", r.URL.Path)
		h.metrics().RecordRateLimitExceeded(r.Context(), r.URL.Path)
		h.server.Auditor.LogRateLimitExceeded(clientIP, r.URL.Path)

		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rateLimitRetryAfter.Seconds())))
		h.writeError(w, r, &server.Error{
			Code:        ErrorCodeRateLimitExceeded,
			Description: "rate limit exceeded, please try again later",
		})
	})
}

// ServeAuthorization validates an authorization request and renders the login page
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	req := server.ParseAuthorizationRequest(r.URL.Query())
	if err := h.server.ValidateAuthorizationRequest(req); err != nil {
		h.authorizationError(w, r, req, err)
		return
	}

	scope := req.Scope
	if scope == "" {
		scope = strings.Join(h.server.Config.DefaultScopes, " ")
	}

	security.SetPageSecurityHeaders(w, h.server.Config.Issuer)
	page := &LoginPage{
		Action:   EndpointAuthorize + "?" + r.URL.RawQuery,
		Scope:    scope,
		Resource: req.Resource,
	}
	if err := h.config.LoginRenderer.RenderLogin(w, r, page); err != nil {
		h.logger.Error("Failed to render login page", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// ServeAuthorizationSubmit authenticates the resource owner and redirects
// back to the client with an authorization code. The authorization request
// is read from the query string; email and password from the body win over
// the query.
func (h *Handler) ServeAuthorizationSubmit(w http.ResponseWriter, r *http.Request) {
	req := server.ParseAuthorizationRequest(r.URL.Query())
	if err := r.ParseForm(); err != nil {
		h.authorizationError(w, r, req, server.ErrInvalidRequest("malformed form body"))
		return
	}

	email := firstNonEmpty(r.PostForm.Get("email"), r.URL.Query().Get("email"))
	password := firstNonEmpty(r.PostForm.Get("password"), r.URL.Query().Get("password"))

	result, err := h.server.Authorize(r.Context(), req, email, password, h.clientIP(r))
	if err != nil {
		h.authorizationError(w, r, req, err)
		return
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// authorizationError sends err back to the client's redirect_uri, or to the
// internal error page when the redirect_uri is not known to be genuine
func (h *Handler) authorizationError(w http.ResponseWriter, r *http.Request, req *server.AuthorizationRequest, err error) {
	oauthErr := server.AsError(err)
	logger := security.LoggerFromContext(r.Context(), h.logger)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	if oauthErr.Untrusted {
		logger.Warn("Authorization request rejected before redirect_uri was verified",
			"error", oauthErr.Error(),
			"redirect_uri_prefix", util.SafeTruncate(req.RedirectURI, 64))
		q := url.Values{"error": {string(oauthErr.Code)}}
		if oauthErr.Description != "" {
			q.Set("error_description", oauthErr.Description)
		}
		http.Redirect(w, r, EndpointError+"?"+q.Encode(), http.StatusFound)
		return
	}

	if oauthErr.Code == ErrorCodeServerError {
		logger.Error("Authorization failed", "error", err)
	} else {
		logger.Info("Authorization request rejected", "error", oauthErr.Error())
	}
	http.Redirect(w, r, server.ErrorRedirectURL(req.RedirectURI, oauthErr, req.State), http.StatusFound)
}

// ServeErrorPage renders errors that could not be redirected to the client
func (h *Handler) ServeErrorPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := &ErrorPage{
		Error:       util.SafeTruncate(firstNonEmpty(q.Get("error"), string(ErrorCodeInvalidRequest)), 64),
		Description: util.SafeTruncate(q.Get("error_description"), 256),
	}

	security.SetPageSecurityHeaders(w, h.server.Config.Issuer)
	if err := h.config.LoginRenderer.RenderError(w, r, page); err != nil {
		h.logger.Error("Failed to render error page", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// ServeToken handles the token endpoint for the authorization_code and
// refresh_token grants
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, server.ErrInvalidRequest("malformed form body"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	switch grantType {
	case "":
		h.writeError(w, r, server.ErrInvalidRequest("grant_type is required"))
		return
	case server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken:
	default:
		h.writeError(w, r, server.ErrUnsupportedGrantType(fmt.Sprintf("grant_type %q is not supported", util.SafeTruncate(grantType, 32))))
		return
	}

	clientIP := h.clientIP(r)
	client, err := h.authenticateClient(r, clientIP, true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !client.HasGrantType(grantType) {
		h.writeError(w, r, server.ErrUnauthorizedClient(fmt.Sprintf("client is not registered for %s", grantType)))
		return
	}

	var resp *server.TokenResponse
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		resp, err = h.server.ExchangeAuthorizationCode(r.Context(), client,
			r.PostForm.Get("code"),
			r.PostForm.Get("redirect_uri"),
			r.PostForm.Get("code_verifier"),
			clientIP)
	case server.GrantTypeRefreshToken:
		resp, err = h.server.RefreshAccessToken(r.Context(), client,
			r.PostForm.Get("refresh_token"),
			r.PostForm.Get("scope"),
			clientIP)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, h.server.Config.Issuer, http.StatusOK, resp)
}

// ServeTokenRevocation handles RFC 7009 token revocation. Unknown tokens
// are answered like revoked ones.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, server.ErrInvalidRequest("malformed form body"))
		return
	}

	err := h.server.RevokeToken(r.Context(), clientCredentials(r),
		r.PostForm.Get("token"),
		r.PostForm.Get("token_type_hint"),
		h.clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, h.server.Config.Issuer, http.StatusOK, struct{}{})
}

// ServeTokenIntrospection handles RFC 7662 token introspection.
// Requires client authentication to prevent token scanning attacks.
func (h *Handler) ServeTokenIntrospection(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, server.ErrInvalidRequest("malformed form body"))
		return
	}

	client, err := h.authenticateClient(r, h.clientIP(r), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.server.IntrospectToken(r.Context(), client, r.PostForm.Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, h.server.Config.Issuer, http.StatusOK, resp)
}

// ServeClientRegistration handles RFC 7591 dynamic client registration
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	req, err := server.DecodeRegistrationRequest(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp, err := h.server.RegisterClient(r.Context(), req, h.clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, h.server.Config.Issuer, http.StatusCreated, resp)
}

// ServeAuthorizationServerMetadata serves RFC 8414 metadata. The same document
// is served at the OpenID discovery path for clients that only look there.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, h.server.Config.Issuer, http.StatusOK, h.buildAuthServerMetadata())
}

func (h *Handler) buildAuthServerMetadata() *AuthorizationServerMetadata {
	cfg := h.server.Config
	issuer := strings.TrimSuffix(cfg.Issuer, "/")
	authMethods := []string{security.AuthMethodClientSecretBasic, security.AuthMethodClientSecretPost}

	challengeMethods := []string{server.PKCEMethodS256}
	if cfg.AllowPKCEPlain {
		challengeMethods = append(challengeMethods, server.PKCEMethodPlain)
	}

	md := &AuthorizationServerMetadata{
		Issuer:                                    issuer,
		AuthorizationEndpoint:                     issuer + EndpointAuthorize,
		TokenEndpoint:                             issuer + EndpointToken,
		RegistrationEndpoint:                      issuer + EndpointRegister,
		RevocationEndpoint:                        issuer + EndpointRevoke,
		IntrospectionEndpoint:                     issuer + EndpointIntrospect,
		ScopesSupported:                           cfg.SupportedScopes,
		ResponseTypesSupported:                    []string{server.ResponseTypeCode},
		GrantTypesSupported:                       server.SupportedGrantTypes,
		TokenEndpointAuthMethodsSupported:         authMethods,
		RevocationEndpointAuthMethodsSupported:    authMethods,
		IntrospectionEndpointAuthMethodsSupported: authMethods,
		CodeChallengeMethodsSupported:             challengeMethods,
		AccessTokenSigningAlgValuesSupported:      []string{h.server.Signer().Algorithm()},
	}
	if h.server.Signer().Algorithm() == server.SigningAlgorithmRS256 {
		md.JWKSURI = issuer + MetadataPathJWKS
	}
	return md
}

// ServeJWKS publishes the access token verification key. Symmetric keys are
// never published, so an HS256 server answers 404.
func (h *Handler) ServeJWKS(w http.ResponseWriter, r *http.Request) {
	if h.server.Signer().Algorithm() != server.SigningAlgorithmRS256 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, h.server.Config.Issuer, http.StatusOK, h.server.Signer().JWKS())
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// authenticateClient authenticates the caller of the token and
// introspection endpoints and audits failures
func (h *Handler) authenticateClient(r *http.Request, clientIP string, requireSecret bool) (*server.AuthenticatedClient, error) {
	creds := clientCredentials(r)
	client, err := h.server.AuthenticateClient(creds, requireSecret)
	if err != nil {
		h.logger.Warn("Client authentication failed",
			"client_id_prefix", util.SafeTruncate(creds.ClientID, 8),
			"method", creds.Method,
			"ip", clientIP)
		h.server.Auditor.LogAuthFailure("", creds.ClientID, clientIP, "client_authentication_failed")
		return nil, err
	}
	return client, nil
}

// clientCredentials reads client_secret_basic credentials, falling back to
// client_secret_post form fields. ParseForm must have been called.
func clientCredentials(r *http.Request) server.ClientCredentials {
	if id, secret, ok := r.BasicAuth(); ok {
		// RFC 6749 section 2.3.1: both parts are form-urlencoded before
		// being joined
		return server.ClientCredentials{
			ClientID:     formUnescape(id),
			ClientSecret: formUnescape(secret),
			Method:       security.AuthMethodClientSecretBasic,
		}
	}
	return server.ClientCredentials{
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		Method:       security.AuthMethodClientSecretPost,
	}
}

func formUnescape(s string) string {
	if u, err := url.QueryUnescape(s); err == nil {
		return u
	}
	return s
}

func (h *Handler) clientIP(r *http.Request) string {
	return h.server.IPResolver().ClientIP(r)
}

func (h *Handler) metrics() *instrumentation.Metrics {
	if h.server.Instrumentation == nil {
		return nil
	}
	return h.server.Instrumentation.Metrics()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
