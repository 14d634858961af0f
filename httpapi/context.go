package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	otpcore "github.com/MrEthical07/otpcore"
)

// requestContext builds the engine context for a request: client IP,
// user agent, fingerprint, and the resolved auth context. An API key
// present in the header binds the request to that key's tenant; a bad
// key fails the request rather than downgrading to anonymous.
func (s *Server) requestContext(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	ctx = otpcore.WithClientIP(ctx, s.clientIP(r))
	ctx = otpcore.WithUserAgent(ctx, r.UserAgent())
	if fp := r.Header.Get(fingerprintHeader); fp != "" {
		ctx = otpcore.WithFingerprint(ctx, fp)
	}

	rawKey := r.Header.Get(apiKeyHeader)
	if rawKey == "" {
		return ctx, nil
	}

	auth, err := s.engine.VerifyAPIKey(ctx, rawKey)
	if err != nil {
		return nil, err
	}
	ctx = otpcore.WithAuth(ctx, auth)
	ctx = otpcore.WithTenantID(ctx, auth.CustomerID)
	return ctx, nil
}

// clientIP extracts the caller address according to the forward
// policy: leftmost X-Forwarded-For entry, then X-Real-IP, then the
// socket peer.
func (s *Server) clientIP(r *http.Request) string {
	if s.forwardPolicy == TrustForwardHeaders {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(ip)
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
