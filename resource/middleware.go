package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
)

const (
	// DefaultRealm is the realm parameter of the Bearer challenge
	DefaultRealm = "mcp"

	// MetadataPath is where ServeProtectedResourceMetadata is mounted
	MetadataPath = "/.well-known/oauth-protected-resource"

	errorCodeInvalidToken      = "invalid_token"
	errorCodeInsufficientScope = "insufficient_scope"
	errorCodeServerError       = "server_error"

	// results recorded by Metrics.RecordTokenValidation
	resultValid             = "valid"
	resultMissing           = "missing"
	resultMalformed         = "malformed"
	resultInvalid           = "invalid"
	resultInsufficientScope = "insufficient_scope"
)

// Options configure Middleware
type Options struct {
	// ResourceMetadataURL is advertised in every challenge. Usually
	// <resource>/.well-known/oauth-protected-resource.
	ResourceMetadataURL string

	// Realm defaults to DefaultRealm
	Realm string

	// RequiredScopes, when non-empty, must all be granted or the request is
	// rejected with 403 insufficient_scope. Empty by default.
	RequiredScopes []string

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Instrumentation is optional
	Instrumentation *instrumentation.Instrumentation
}

type middleware struct {
	validator *Validator
	opts      Options
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *instrumentation.Metrics
}

// Middleware returns an http middleware that admits only requests carrying a
// valid bearer access token. The validated AuthInfo is available to the next
// handler through AuthInfoFromContext.
func Middleware(validator *Validator, opts Options) func(http.Handler) http.Handler {
	if opts.Realm == "" {
		opts.Realm = DefaultRealm
	}

	m := &middleware{
		validator: validator,
		opts:      opts,
		logger:    opts.Logger,
		tracer:    noop.NewTracerProvider().Tracer("resource"),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if opts.Instrumentation != nil {
		m.tracer = opts.Instrumentation.Tracer("resource")
		m.metrics = opts.Instrumentation.Metrics()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx, span := m.tracer.Start(r.Context(), "resource.validate_token")
	defer span.End()
	logger := security.LoggerFromContext(ctx, m.logger)

	if m.validator == nil {
		logger.Error("Bearer middleware has no validator")
		instrumentation.SetSpanError(span, "no validator")
		writeJSONError(w, http.StatusInternalServerError, errorCodeServerError, "")
		return
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		result := resultMissing
		if r.Header.Get("Authorization") != "" {
			result = resultMalformed
		}
		m.record(ctx, span, result)
		m.challenge(w, http.StatusUnauthorized, "", "", "")
		return
	}

	info, err := m.validator.Validate(token)
	if err != nil {
		logger.Warn("Access token rejected", "error", err)
		m.record(ctx, span, resultInvalid)
		m.challenge(w, http.StatusUnauthorized, errorCodeInvalidToken, describeValidationError(err), "")
		return
	}

	if len(m.opts.RequiredScopes) > 0 && !info.HasScopes(m.opts.RequiredScopes) {
		logger.Info("Access token lacks required scope",
			"client_id", info.ClientID,
			"granted", strings.Join(info.Scopes, " "),
			"required", strings.Join(m.opts.RequiredScopes, " "))
		m.record(ctx, span, resultInsufficientScope)
		m.challenge(w, http.StatusForbidden, errorCodeInsufficientScope,
			"the access token does not grant the required scope", strings.Join(m.opts.RequiredScopes, " "))
		return
	}

	m.record(ctx, span, resultValid)
	instrumentation.SetSpanAttributes(span, attribute.String("oauth.client_id", info.ClientID))
	next.ServeHTTP(w, r.WithContext(ContextWithAuthInfo(ctx, info)))
}

func (m *middleware) record(ctx context.Context, span trace.Span, result string) {
	m.metrics.RecordTokenValidation(ctx, result)
	instrumentation.SetSpanAttributes(span, attribute.String("oauth.token.validation", result))
	if result == resultValid {
		instrumentation.SetSpanSuccess(span)
	} else {
		instrumentation.SetSpanError(span, result)
	}
}

// challenge writes an RFC 6750 error response. A request that carried no
// credentials gets a challenge without error attributes.
func (m *middleware) challenge(w http.ResponseWriter, status int, code, description, scope string) {
	w.Header().Set("WWW-Authenticate", FormatChallenge(m.opts.Realm, m.opts.ResourceMetadataURL, code, description, scope))
	writeJSONError(w, status, code, description)
}

// FormatChallenge builds a Bearer WWW-Authenticate value. Empty parameters
// are omitted. Values are escaped as RFC 7230 quoted-strings.
func FormatChallenge(realm, resourceMetadataURL, code, description, scope string) string {
	params := []string{fmt.Sprintf("realm=%s", quote(realm))}
	if resourceMetadataURL != "" {
		params = append(params, fmt.Sprintf("resource_metadata=%s", quote(resourceMetadataURL)))
	}
	if code != "" {
		params = append(params, fmt.Sprintf("error=%s", quote(code)))
	}
	if description != "" {
		params = append(params, fmt.Sprintf("error_description=%s", quote(description)))
	}
	if scope != "" {
		params = append(params, fmt.Sprintf("scope=%s", quote(scope)))
	}
	return "Bearer " + strings.Join(params, ", ")
}

// quote escapes backslashes before quotes and drops control characters
func quote(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// bearerToken extracts the credentials of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Cache-Control", "no-store")
	if code == "" {
		w.WriteHeader(status)
		return
	}
	body := map[string]string{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
