package security

// Audit event types.
const (
	EventTokenIssued             = "token_issued"
	EventTokenRefreshed          = "token_refreshed"
	EventTokenRevoked            = "token_revoked"
	EventAuthorizationCodeIssued = "authorization_code_issued"
	EventClientRegistered        = "client_registered"

	// EventAuthFailure covers bad user credentials and failed client authentication
	EventAuthFailure = "auth_failure"

	// EventInvalidPKCE is logged when a code_verifier does not match its challenge
	EventInvalidPKCE = "invalid_pkce"

	// EventInvalidRedirect is logged when a redirect_uri is not registered for the client
	EventInvalidRedirect = "invalid_redirect"

	// EventScopeEscalationAttempt is logged when a refresh asks for more than was granted
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventCodeClientMismatch is logged when a client redeems a code issued to another client
	EventCodeClientMismatch = "code_client_mismatch"

	EventRateLimitExceeded = "rate_limit_exceeded"
)
