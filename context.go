package otpcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type fingerprintContextKey struct{}
type tenantIDContextKey struct{}
type authContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses
// it for the IP admission axis, session metadata and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is
// recorded on the session as request metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithFingerprint attaches a client fingerprint to ctx.
func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintContextKey{}, fingerprint)
}

// WithTenantID attaches an explicit tenant identifier to ctx for
// pre-authentication operations. When absent, those operations run in
// the system scope.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithAuth attaches a resolved AuthContext to ctx so that token
// issuance and session-use checks can see the originating API key.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext returns the AuthContext attached by WithAuth, or an
// anonymous context when none is present.
func AuthFromContext(ctx context.Context) *AuthContext {
	if ctx == nil {
		return &AuthContext{Kind: AuthAnonymous}
	}
	if auth, ok := ctx.Value(authContextKey{}).(*AuthContext); ok && auth != nil {
		return auth
	}
	return &AuthContext{Kind: AuthAnonymous}
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func fingerprintFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	fingerprint, _ := ctx.Value(fingerprintContextKey{}).(string)
	return fingerprint
}

func tenantIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	tenantID, _ := ctx.Value(tenantIDContextKey{}).(string)
	return tenantID
}
