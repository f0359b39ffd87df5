package server

import (
	"errors"
	"fmt"
)

// ErrorCode is an OAuth 2.x error code as sent in the "error" field
type ErrorCode string

// Error codes from RFC 6749, RFC 6750, RFC 7591 and RFC 8707
const (
	ErrorCodeInvalidRequest          ErrorCode = "invalid_request"
	ErrorCodeInvalidClient           ErrorCode = "invalid_client"
	ErrorCodeInvalidGrant            ErrorCode = "invalid_grant"
	ErrorCodeUnauthorizedClient      ErrorCode = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrorCodeInvalidScope            ErrorCode = "invalid_scope"
	ErrorCodeInvalidTarget           ErrorCode = "invalid_target"
	ErrorCodeAccessDenied            ErrorCode = "access_denied"
	ErrorCodeServerError             ErrorCode = "server_error"
	ErrorCodeInvalidToken            ErrorCode = "invalid_token"
	ErrorCodeInsufficientScope       ErrorCode = "insufficient_scope"
	ErrorCodeInvalidRedirectURI      ErrorCode = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata   ErrorCode = "invalid_client_metadata"
	ErrorCodeRateLimitExceeded       ErrorCode = "rate_limit_exceeded"
)

// Error is the error type returned by Server operations.
//
// Untrusted marks errors detected before the redirect_uri could be tied to a
// registered client. The HTTP layer must not redirect such errors to the
// caller-supplied URI and shows its own error page instead.
type Error struct {
	Code        ErrorCode
	Description string
	Untrusted   bool
	Err         error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError returns err as an *Error. Anything that is not already one becomes
// a server_error wrapping err.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return &Error{Code: ErrorCodeServerError, Description: "internal server error", Err: err}
}

func newError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// ErrInvalidRequest returns an invalid_request error
func ErrInvalidRequest(description string) *Error {
	return newError(ErrorCodeInvalidRequest, description)
}

// ErrInvalidClient returns an invalid_client error
func ErrInvalidClient(description string) *Error {
	return newError(ErrorCodeInvalidClient, description)
}

// ErrInvalidGrant returns an invalid_grant error
func ErrInvalidGrant(description string) *Error {
	return newError(ErrorCodeInvalidGrant, description)
}

// ErrUnauthorizedClient returns an unauthorized_client error
func ErrUnauthorizedClient(description string) *Error {
	return newError(ErrorCodeUnauthorizedClient, description)
}

// ErrUnsupportedGrantType returns an unsupported_grant_type error
func ErrUnsupportedGrantType(description string) *Error {
	return newError(ErrorCodeUnsupportedGrantType, description)
}

// ErrUnsupportedResponseType returns an unsupported_response_type error
func ErrUnsupportedResponseType(description string) *Error {
	return newError(ErrorCodeUnsupportedResponseType, description)
}

// ErrInvalidScope returns an invalid_scope error
func ErrInvalidScope(description string) *Error {
	return newError(ErrorCodeInvalidScope, description)
}

// ErrInvalidTarget returns an invalid_target error (RFC 8707)
func ErrInvalidTarget(description string) *Error {
	return newError(ErrorCodeInvalidTarget, description)
}

// ErrAccessDenied returns an access_denied error
func ErrAccessDenied(description string) *Error {
	return newError(ErrorCodeAccessDenied, description)
}

// ErrInvalidRedirectURI returns an invalid_redirect_uri error (RFC 7591)
func ErrInvalidRedirectURI(description string) *Error {
	return newError(ErrorCodeInvalidRedirectURI, description)
}

// ErrInvalidClientMetadata returns an invalid_client_metadata error (RFC 7591)
func ErrInvalidClientMetadata(description string) *Error {
	return newError(ErrorCodeInvalidClientMetadata, description)
}

// ErrServer wraps an internal failure. The cause is kept for logging and is
// never shown to the client.
func ErrServer(err error) *Error {
	return &Error{Code: ErrorCodeServerError, Description: "internal server error", Err: err}
}

// untrusted marks e as not redirectable and returns it
func untrusted(e *Error) *Error {
	e.Untrusted = true
	return e
}
