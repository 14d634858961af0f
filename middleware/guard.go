package middleware

import (
	"context"
	"net/http"
	"strings"

	otpcore "github.com/MrEthical07/otpcore"
)

type identityContextKey struct{}

// IdentityFromContext returns the identity injected by Guard.
func IdentityFromContext(ctx context.Context) (*otpcore.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*otpcore.Identity)
	return identity, ok
}

// Guard rejects requests without a valid bearer access token and
// injects the verified identity into the request context.
func Guard(engine *otpcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
