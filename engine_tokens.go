package otpcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/otpcore/apikey"
	"github.com/MrEthical07/otpcore/internal"
	"github.com/MrEthical07/otpcore/jwt"
	"github.com/MrEthical07/otpcore/session"
)

// issueTokens mints an access/refresh pair and overwrites the
// customer's session record. The refresh chain's absolute expiry is
// fixed here and inherited unchanged by every later rotation.
func (e *Engine) issueTokens(ctx context.Context, cust *Customer, keyID string, ssoScope []string, isSuperAdmin bool) (*TokenPair, error) {
	now := time.Now()
	absoluteExpiresAt := now.Add(e.config.Session.MaxLifetime)

	return e.mintPair(ctx, cust, keyID, ssoScope, isSuperAdmin, now, absoluteExpiresAt)
}

func (e *Engine) mintPair(ctx context.Context, cust *Customer, keyID string, ssoScope []string, isSuperAdmin bool, now, absoluteExpiresAt time.Time) (*TokenPair, error) {
	csrf, err := internal.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	audience := cust.CustomerID
	if keyID != "" {
		audience = keyID
	}

	access, claims, err := e.jwtManager.CreateAccess(jwt.TokenInput{
		CustomerID:   cust.CustomerID,
		Audience:     audience,
		Scope:        "auth",
		CSRF:         csrf,
		SSOScope:     ssoScope,
		IsSuperAdmin: isSuperAdmin,
		DisplayName:  cust.DisplayName,
	})
	if err != nil {
		return nil, err
	}

	rawRefresh, err := internal.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := e.refreshStore.Save(ctx, internal.HashToken(rawRefresh), &session.RefreshRecord{
		CustomerID:        cust.CustomerID,
		KeyID:             keyID,
		SSOScope:          ssoScope,
		CreatedAt:         now.Unix(),
		AbsoluteExpiresAt: absoluteExpiresAt.Unix(),
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	sess := &session.Session{
		CustomerID:  cust.CustomerID,
		TokenHash:   internal.HashToken(access),
		IPAddress:   clientIPFromContext(ctx),
		UserAgent:   userAgentFromContext(ctx),
		Fingerprint: fingerprintFromContext(ctx),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.Session.TTL).Unix(),
	}
	if err := e.sessionStore.Save(ctx, sess, e.config.Session.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	e.metricInc(MetricSessionIssued)
	e.emitAudit(ctx, auditEventSessionIssued, true, cust.CustomerID, keyID, nil, nil)

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     rawRefresh,
		CSRF:             csrf,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: absoluteExpiresAt,
		CustomerID:       cust.CustomerID,
	}, nil
}

// Refresh rotates a token pair. The presented refresh token is spent
// atomically on lookup, success or not; the replacement keeps the
// chain's original absolute expiry and inherits the originating key
// and SSO scope.
func (e *Engine) Refresh(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	if rawRefreshToken == "" {
		return nil, ErrValidation
	}

	rec, err := e.refreshStore.Consume(ctx, internal.HashToken(rawRefreshToken))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			e.metricInc(MetricRefreshInvalid)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrTokenInvalid, func() map[string]string {
				return map[string]string{
					"reason": "unknown_or_spent_token",
				}
			})
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	now := time.Now()
	absoluteExpiresAt := time.Unix(rec.AbsoluteExpiresAt, 0)
	if !now.Before(absoluteExpiresAt) {
		e.metricInc(MetricRefreshInvalid)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.CustomerID, rec.KeyID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{
				"reason": "absolute_lifetime_exceeded",
				"hint":   "reauthenticate",
			}
		})
		return nil, ErrTokenInvalid
	}

	if auth := AuthFromContext(ctx); auth.Kind == AuthAPIKey {
		if !apikey.CanShareSession(auth.KeyID, rec.SSOScope) {
			e.metricInc(MetricRefreshInvalid)
			e.emitAudit(ctx, auditEventSSOScopeDenied, false, rec.CustomerID, auth.KeyID, ErrForbidden, nil)
			return nil, ErrForbidden
		}
	}

	cust, err := e.customerUsable(ctx, rec.CustomerID)
	if err != nil {
		e.metricInc(MetricRefreshInvalid)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.CustomerID, rec.KeyID, err, nil)
		return nil, err
	}

	isSuperAdmin := false
	if cust.Email != "" {
		if admin, adminErr := e.directory.IsSuperAdmin(ctx, cust.Email); adminErr == nil {
			isSuperAdmin = admin
		}
	}

	pair, err := e.mintPair(ctx, cust, rec.KeyID, rec.SSOScope, isSuperAdmin, now, absoluteExpiresAt)
	if err != nil {
		e.metricInc(MetricRefreshInvalid)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.CustomerID, rec.KeyID, err, nil)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, rec.CustomerID, rec.KeyID, nil, nil)

	return pair, nil
}

// Logout revokes the access token, tears down the session, and spends
// the refresh token when one is presented. A just-expired access token
// is still accepted so its session can be cleaned up.
func (e *Engine) Logout(ctx context.Context, accessToken, rawRefreshToken string) error {
	claims, err := e.jwtManager.ParseExpired(accessToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogout, false, "", "", ErrTokenInvalid, nil)
		return ErrTokenInvalid
	}

	if err := e.blacklist.Revoke(ctx, claims.CustomerID, claims.ID, claims.ExpiresAt.Time); err != nil {
		e.emitAudit(ctx, auditEventLogout, false, claims.CustomerID, "", ErrStorageUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, claims.CustomerID, "", nil, nil)

	if err := e.sessionStore.Delete(ctx, claims.CustomerID); err != nil {
		e.emitAudit(ctx, auditEventLogout, false, claims.CustomerID, "", ErrStorageUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if rawRefreshToken != "" {
		// Best effort: the refresh chain dies with the session either
		// way once the record is unreachable.
		_, _ = e.refreshStore.Consume(ctx, internal.HashToken(rawRefreshToken))
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, claims.CustomerID, "", nil, nil)

	return nil
}

// ValidateAccess verifies signature and expiry, then the blacklist,
// then that the backing session record still exists. All three must
// pass; a storage failure on either lookup denies.
func (e *Engine) ValidateAccess(ctx context.Context, accessToken string) (*Identity, error) {
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	claims, err := e.jwtManager.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	revoked, err := e.blacklist.IsRevoked(ctx, claims.CustomerID, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	if _, err := e.sessionStore.Get(ctx, claims.CustomerID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Cryptographically valid token outliving a logout-deleted
			// session.
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if auth := AuthFromContext(ctx); auth.Kind == AuthAPIKey {
		if !apikey.CanShareSession(auth.KeyID, claims.SSOScope) {
			e.emitAudit(ctx, auditEventSSOScopeDenied, false, claims.CustomerID, auth.KeyID, ErrForbidden, nil)
			return nil, ErrForbidden
		}
	}

	return identityFromClaims(claims), nil
}

// identityFromClaims builds the identity strictly from token claims;
// no secondary store is consulted for PII.
func identityFromClaims(claims *jwt.AccessClaims) *Identity {
	id := &Identity{
		CustomerID:   claims.CustomerID,
		TokenID:      claims.ID,
		Scope:        claims.Scope,
		CSRF:         claims.CSRF,
		SSOScope:     claims.SSOScope,
		IsSuperAdmin: claims.IsSuperAdmin,
		DisplayName:  claims.DisplayName,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id
}
