// Package httpapi exposes the engine over a JSON HTTP surface: OTP
// request/verify, cookie-based session refresh and logout, a
// claims-only identity endpoint, and the data-request consent
// endpoints. It is transport glue only; every decision is made by the
// engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	otpcore "github.com/MrEthical07/otpcore"
)

const (
	accessCookieName  = "auth_token"
	refreshCookieName = "refresh_token"

	apiKeyHeader      = "X-API-Key"
	fingerprintHeader = "X-Fingerprint"
)

// ForwardPolicy controls whether proxy forwarding headers are trusted
// for client IP extraction.
type ForwardPolicy uint8

const (
	// TrustForwardHeaders uses X-Forwarded-For / X-Real-IP when present.
	TrustForwardHeaders ForwardPolicy = iota
	// IgnoreForwardHeaders always uses the socket peer address.
	IgnoreForwardHeaders
)

// defaultForwardPolicy trusts forwarding headers. The service is
// expected to run behind a terminating proxy; deployments exposed
// directly must opt out with WithForwardPolicy.
const defaultForwardPolicy = TrustForwardHeaders

// Server binds the engine to HTTP routes.
type Server struct {
	engine        *otpcore.Engine
	secureCookies bool
	forwardPolicy ForwardPolicy
}

// Option customizes a Server.
type Option func(*Server)

// WithSecureCookies switches cookies to SameSite=None; Secure for
// cross-site production deployments. The default is SameSite=Lax for
// plain-HTTP development.
func WithSecureCookies(secure bool) Option {
	return func(s *Server) { s.secureCookies = secure }
}

// WithForwardPolicy overrides the client IP extraction policy.
func WithForwardPolicy(policy ForwardPolicy) Option {
	return func(s *Server) { s.forwardPolicy = policy }
}

func NewServer(engine *otpcore.Engine, opts ...Option) *Server {
	s := &Server{
		engine:        engine,
		forwardPolicy: defaultForwardPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/request-otp", s.handleRequestOTP)
	mux.HandleFunc("POST /auth/verify-otp", s.handleVerifyOTP)
	mux.HandleFunc("POST /auth/refresh", s.handleRefresh)
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /customer/data-requests", s.handleListDataRequests)
	mux.HandleFunc("POST /customer/data-requests", s.handleDataRequestAction)
	return mux
}

func (s *Server) handleRequestOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, otpcore.ErrValidation)
		return
	}

	ctx, err := s.requestContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.engine.RequestOTP(ctx, body.Email)
	if errors.Is(err, otpcore.ErrRateLimited) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     "rate_limit_exceeded",
			"remaining": result.Remaining,
			"reset_at":  result.ResetAt.UTC().Format(time.RFC3339),
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"remaining": result.Remaining,
		"reset_at":  result.ResetAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, otpcore.ErrValidation)
		return
	}

	ctx, err := s.requestContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pair, err := s.engine.VerifyOTP(ctx, body.Email, body.OTP)
	if err != nil {
		writeError(w, err)
		return
	}

	s.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	raw := cookieValue(r, refreshCookieName)
	if raw == "" {
		// Body fallback for clients that cannot carry cookies.
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			raw = body.RefreshToken
		}
	}
	if raw == "" {
		writeError(w, otpcore.ErrValidation)
		return
	}

	ctx, err := s.requestContext(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pair, err := s.engine.Refresh(ctx, raw)
	if err != nil {
		writeError(w, err)
		return
	}

	s.setSessionCookies(w, pair)
	writeJSON(w, http.StatusOK, tokenResponse(pair))
}

// handleMe derives identity from the auth_token cookie only. Headers
// and body are deliberately ignored.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, accessCookieName)
	if token == "" {
		writeError(w, otpcore.ErrTokenInvalid)
		return
	}

	identity, err := s.engine.ValidateAccess(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":    identity.CustomerID,
		"scope":          identity.Scope,
		"csrf":           identity.CSRF,
		"sso_scope":      identity.SSOScope,
		"is_super_admin": identity.IsSuperAdmin,
		"display_name":   identity.DisplayName,
		"expires_at":     identity.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := cookieValue(r, accessCookieName)
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		writeError(w, otpcore.ErrValidation)
		return
	}

	err := s.engine.Logout(r.Context(), token, cookieValue(r, refreshCookieName))
	if err != nil {
		writeError(w, err)
		return
	}

	s.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDataRequests(w http.ResponseWriter, r *http.Request) {
	identity, err := s.cookieIdentity(r)
	if err != nil {
		writeError(w, err)
		return
	}

	reqs, err := s.engine.ListDataRequestsForOwner(r.Context(), identity.CustomerID, identity.CustomerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// handleDataRequestAction decides a request targeting the caller.
func (s *Server) handleDataRequestAction(w http.ResponseWriter, r *http.Request) {
	identity, err := s.cookieIdentity(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body struct {
		Action         string `json:"action"`
		RequestID      string `json:"request_id"`
		RequesterToken string `json:"requester_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, otpcore.ErrValidation)
		return
	}

	switch body.Action {
	case "approve":
		req, err := s.engine.ApproveDataRequest(r.Context(), body.RequestID, identity.CustomerID, body.RequesterToken)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	case "reject":
		req, err := s.engine.RejectDataRequest(r.Context(), body.RequestID, identity.CustomerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	default:
		writeError(w, otpcore.ErrValidation)
	}
}

// cookieIdentity authenticates the caller from the auth_token cookie.
func (s *Server) cookieIdentity(r *http.Request) (*otpcore.Identity, error) {
	token := cookieValue(r, accessCookieName)
	if token == "" {
		return nil, otpcore.ErrTokenInvalid
	}
	return s.engine.ValidateAccess(r.Context(), token)
}

func tokenResponse(pair *otpcore.TokenPair) map[string]any {
	return map[string]any{
		"access_token": pair.AccessToken,
		"csrf":         pair.CSRF,
		"customer_id":  pair.CustomerID,
		"expires_at":   pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	}
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func bearerToken(value string) string {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return ""
	}
	return value[len(bearer):]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
// Storage failures surface as a generic 500; every other outcome is
// normal traffic shaping and carries its machine-readable code.
func writeError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, otpcore.ErrValidation):
		status, code = http.StatusBadRequest, "validation_error"
	case errors.Is(err, otpcore.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "rate_limit_exceeded"
	case errors.Is(err, otpcore.ErrBruteForceLockout):
		status, code = http.StatusTooManyRequests, "attempts_exhausted"
	case errors.Is(err, otpcore.ErrOTPMismatch):
		status, code = http.StatusUnauthorized, "otp_mismatch"
	case errors.Is(err, otpcore.ErrOTPExpired):
		status, code = http.StatusUnauthorized, "otp_expired"
	case errors.Is(err, otpcore.ErrTokenRevoked):
		status, code = http.StatusUnauthorized, "token_revoked"
	case errors.Is(err, otpcore.ErrTokenInvalid):
		status, code = http.StatusUnauthorized, "invalid_grant"
	case errors.Is(err, otpcore.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, otpcore.ErrCustomerInactive):
		status, code = http.StatusForbidden, "customer_inactive"
	case errors.Is(err, otpcore.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, otpcore.ErrRequestNotPending):
		status, code = http.StatusConflict, "request_not_pending"
	default:
		log.Print("httpapi: internal error: ", err)
		status, code = http.StatusInternalServerError, "internal_error"
	}

	writeJSON(w, status, map[string]string{"error": code})
}
