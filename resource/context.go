package resource

import "context"

type contextKey string

const authInfoKey contextKey = "auth_info"

// AuthInfoFromContext returns the AuthInfo stored by Middleware
func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok && info != nil
}

// ContextWithAuthInfo returns a copy of ctx carrying info.
//
// Only Middleware should call this outside of tests.
func ContextWithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}
