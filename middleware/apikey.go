package middleware

import (
	"net/http"

	otpcore "github.com/MrEthical07/otpcore"
)

const apiKeyHeader = "X-API-Key"

// RequireAPIKey rejects requests without a valid X-API-Key header. The
// verified auth context and the key's tenant are bound to the request
// context for downstream engine calls.
func RequireAPIKey(engine *otpcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			auth, err := engine.VerifyAPIKey(r.Context(), r.Header.Get(apiKeyHeader))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := otpcore.WithAuth(r.Context(), auth)
			ctx = otpcore.WithTenantID(ctx, auth.CustomerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Resolve runs the credential fallback chain and injects the tagged
// result. Anonymous requests pass through; a present but invalid
// credential is rejected rather than downgraded.
func Resolve(engine *otpcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, _ := bearerToken(r.Header.Get("Authorization"))
			auth, err := engine.ResolveAuth(r.Context(), r.Header.Get(apiKeyHeader), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(otpcore.WithAuth(r.Context(), auth)))
		})
	}
}
