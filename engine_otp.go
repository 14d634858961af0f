package otpcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/MrEthical07/otpcore/internal"
	"github.com/MrEthical07/otpcore/keyspace"
	"github.com/MrEthical07/otpcore/otp"
)

// RequestOTP issues a one-time code for the email, subject to both
// admission axes. The tenant scope comes from the context; without one
// the challenge lives in the pre-tenant system scope. Super-admin
// identities bypass rate limiting entirely.
func (e *Engine) RequestOTP(ctx context.Context, email string) (*OTPRequestResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrValidation
	}

	tenantID := tenantIDFromContext(ctx)
	emailHash := keyspace.HashEmail(email)
	ipHash := ""
	if ip := clientIPFromContext(ctx); ip != "" {
		ipHash = keyspace.Hash(ip)
	}

	isSuperAdmin, err := e.directory.IsSuperAdmin(ctx, email)
	if err != nil {
		// Privilege lookup failure means no privilege, not a denial of
		// the ordinary flow.
		isSuperAdmin = false
	}

	limits := e.planLimits(PlanFree)
	if tenantID != keyspace.SystemScope {
		cust, err := e.customerUsable(ctx, tenantID)
		if err != nil {
			e.emitAudit(ctx, auditEventOTPRequestDenied, false, tenantID, "", err, nil)
			return nil, err
		}
		limits = e.planLimits(cust.Plan)
	}

	result := &OTPRequestResult{Remaining: superAdminRemaining}
	if !isSuperAdmin {
		decision, err := e.limiter.AllowEmail(ctx, tenantID, emailHash, ipHash, limits.EmailQuota, limits.IPCap)
		if err != nil {
			e.metricInc(MetricOTPRequestDenied)
			e.emitAudit(ctx, auditEventOTPRequestDenied, false, tenantID, "", ErrStorageUnavailable, nil)
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		if !decision.Allowed {
			e.metricInc(MetricOTPRequestDenied)
			e.emitRateLimit(ctx, tenantID, decision.Reason)
			return &OTPRequestResult{Remaining: 0, ResetAt: decision.ResetAt},
				fmt.Errorf("%w: %s", ErrRateLimited, decision.Reason)
		}
		result = &OTPRequestResult{Remaining: decision.Remaining, ResetAt: decision.ResetAt}

		if err := e.limiter.RecordRequest(ctx, tenantID, emailHash, ipHash); err != nil {
			// Statistics are observational; their loss never blocks
			// issuance.
			log.Print("otpcore: usage stats update failed")
		}
	}

	code, err := internal.NewOTPCode(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}

	now := nowUnix()
	challenge := &otp.Challenge{
		CustomerID: tenantID,
		CodeHash:   internal.HashToken(code),
		CreatedAt:  now,
		ExpiresAt:  now + int64(e.config.OTP.TTL.Seconds()),
	}
	if err := e.otpStore.Save(ctx, tenantID, emailHash, challenge, e.config.OTP.TTL); err != nil {
		e.emitAudit(ctx, auditEventOTPRequestDenied, false, tenantID, "", ErrStorageUnavailable, nil)
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if e.notifier != nil {
		if err := e.notifier.SendOTP(ctx, email, code); err != nil {
			return nil, err
		}
	}

	e.metricInc(MetricOTPRequested)
	e.emitAudit(ctx, auditEventOTPRequested, true, tenantID, "", nil, func() map[string]string {
		return map[string]string{
			"email_hash": emailHash,
		}
	})

	return result, nil
}

// VerifyOTP consumes the live challenge for the email and, on a match,
// provisions the customer and mints the initial token pair. Any
// outcome other than success leaves no reusable challenge state behind
// except a decremented attempt budget.
func (e *Engine) VerifyOTP(ctx context.Context, email, code string) (*TokenPair, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") || code == "" {
		return nil, ErrValidation
	}

	tenantID := tenantIDFromContext(ctx)
	emailHash := keyspace.HashEmail(email)
	ipHash := ""
	if ip := clientIPFromContext(ctx); ip != "" {
		ipHash = keyspace.Hash(ip)
	}

	_, err := e.otpStore.Consume(ctx, tenantID, emailHash, internal.HashToken(code), e.config.OTP.MaxAttempts)
	if err != nil {
		mapped := mapOTPError(err)
		if !errors.Is(mapped, ErrNotFound) && !errors.Is(mapped, ErrStorageUnavailable) {
			if recErr := e.limiter.RecordFailure(ctx, tenantID, emailHash, ipHash); recErr != nil {
				log.Print("otpcore: usage stats update failed")
			}
		}
		if errors.Is(mapped, ErrBruteForceLockout) {
			e.metricInc(MetricOTPLockout)
		}
		e.metricInc(MetricOTPVerifyFailed)
		e.emitAudit(ctx, auditEventOTPVerifyFailed, false, tenantID, "", mapped, func() map[string]string {
			return map[string]string{
				"email_hash": emailHash,
			}
		})
		return nil, mapped
	}

	if err := e.limiter.RecordSuccess(ctx, tenantID, emailHash); err != nil {
		log.Print("otpcore: usage stats update failed")
	}

	cust, err := e.directory.EnsureCustomer(ctx, email)
	if err != nil || cust == nil {
		e.emitAudit(ctx, auditEventOTPVerifyFailed, false, tenantID, "", ErrProvisioningFailed, nil)
		return nil, ErrProvisioningFailed
	}
	if cust.Status != CustomerActive {
		e.emitAudit(ctx, auditEventOTPVerifyFailed, false, cust.CustomerID, "", ErrCustomerInactive, nil)
		return nil, ErrCustomerInactive
	}

	isSuperAdmin, err := e.directory.IsSuperAdmin(ctx, email)
	if err != nil {
		isSuperAdmin = false
	}

	keyID := ""
	var ssoScope []string
	if auth := AuthFromContext(ctx); auth.Kind == AuthAPIKey {
		keyID = auth.KeyID
		ssoScope = auth.SSOScope
	}

	pair, err := e.issueTokens(ctx, cust, keyID, ssoScope, isSuperAdmin)
	if err != nil {
		e.emitAudit(ctx, auditEventOTPVerifyFailed, false, cust.CustomerID, keyID, err, nil)
		return nil, err
	}

	e.metricInc(MetricOTPVerified)
	e.emitAudit(ctx, auditEventOTPVerified, true, cust.CustomerID, keyID, nil, nil)

	return pair, nil
}

func mapOTPError(err error) error {
	switch {
	case errors.Is(err, otp.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, otp.ErrMismatch):
		return ErrOTPMismatch
	case errors.Is(err, otp.ErrExpired):
		return ErrOTPExpired
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return ErrBruteForceLockout
	case errors.Is(err, otp.ErrRedisUnavailable):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
}
