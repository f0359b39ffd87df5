package oauth

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/mcp-authserver/instrumentation"
	"github.com/giantswarm/mcp-authserver/security"
	"github.com/giantswarm/mcp-authserver/server"
)

// ErrorCode is an OAuth error code as sent in the "error" field
type ErrorCode = server.ErrorCode

// OAuth error codes, re-exported from the server package
const (
	ErrorCodeInvalidRequest          = server.ErrorCodeInvalidRequest
	ErrorCodeInvalidClient           = server.ErrorCodeInvalidClient
	ErrorCodeInvalidGrant            = server.ErrorCodeInvalidGrant
	ErrorCodeUnauthorizedClient      = server.ErrorCodeUnauthorizedClient
	ErrorCodeUnsupportedGrantType    = server.ErrorCodeUnsupportedGrantType
	ErrorCodeUnsupportedResponseType = server.ErrorCodeUnsupportedResponseType
	ErrorCodeInvalidScope            = server.ErrorCodeInvalidScope
	ErrorCodeInvalidTarget           = server.ErrorCodeInvalidTarget
	ErrorCodeAccessDenied            = server.ErrorCodeAccessDenied
	ErrorCodeServerError             = server.ErrorCodeServerError
	ErrorCodeInvalidToken            = server.ErrorCodeInvalidToken
	ErrorCodeInsufficientScope       = server.ErrorCodeInsufficientScope
	ErrorCodeInvalidRedirectURI      = server.ErrorCodeInvalidRedirectURI
	ErrorCodeInvalidClientMetadata   = server.ErrorCodeInvalidClientMetadata
	ErrorCodeRateLimitExceeded       = server.ErrorCodeRateLimitExceeded
)

// Error is the error type returned by server operations
type Error = server.Error

// StatusCode maps an error code to the HTTP status of a JSON error response
func StatusCode(code ErrorCode) int {
	switch code {
	case ErrorCodeUnauthorizedClient, ErrorCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrorCodeInsufficientScope, ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrorCodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError writes err as an RFC 6749 JSON error body. Causes of server
// errors are logged and never sent.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	oauthErr := server.AsError(err)
	status := StatusCode(oauthErr.Code)

	instrumentation.AddOAuthErrorAttributes(trace.SpanFromContext(r.Context()), string(oauthErr.Code), oauthErr.Description)

	logger := security.LoggerFromContext(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("Request rejected", "path", r.URL.Path, "error", oauthErr.Error())
	}

	writeJSON(w, h.server.Config.Issuer, status, ErrorResponse{
		Error:            string(oauthErr.Code),
		ErrorDescription: oauthErr.Description,
	})
}

// writeJSON writes body with the API security headers
func writeJSON(w http.ResponseWriter, issuer string, status int, body any) {
	security.SetSecurityHeaders(w, issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
