package otpcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventOTPRequested           = "otp_requested"
	auditEventOTPRequestDenied       = "otp_request_denied"
	auditEventOTPVerified            = "otp_verified"
	auditEventOTPVerifyFailed        = "otp_verify_failed"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
	auditEventSessionIssued          = "session_issued"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshInvalid         = "refresh_invalid"
	auditEventLogout                 = "logout"
	auditEventTokenRevoked           = "token_revoked"
	auditEventAPIKeyVerified         = "apikey_verified"
	auditEventAPIKeyDenied           = "apikey_denied"
	auditEventSSOScopeDenied         = "sso_scope_denied"
	auditEventDataRequestCreated     = "data_request_created"
	auditEventDataRequestApproved    = "data_request_approved"
	auditEventDataRequestRejected    = "data_request_rejected"
	auditEventDataRequestKeyResolved = "data_request_key_resolved"
)

type auditErrorCodeValue string

const (
	auditErrValidation    auditErrorCodeValue = "validation"
	auditErrRateLimited   auditErrorCodeValue = "rate_limited"
	auditErrOTPMismatch   auditErrorCodeValue = "otp_mismatch"
	auditErrOTPExpired    auditErrorCodeValue = "otp_expired"
	auditErrLockout       auditErrorCodeValue = "attempts_exhausted"
	auditErrTokenInvalid  auditErrorCodeValue = "invalid_token"
	auditErrTokenRevoked  auditErrorCodeValue = "token_revoked"
	auditErrForbidden     auditErrorCodeValue = "forbidden"
	auditErrNotFound      auditErrorCodeValue = "not_found"
	auditErrUnavailable   auditErrorCodeValue = "storage_unavailable"
	auditErrProvisioning  auditErrorCodeValue = "provisioning_failed"
	auditErrInactive      auditErrorCodeValue = "customer_inactive"
	auditErrRequestClosed auditErrorCodeValue = "request_not_pending"
	auditErrInternal      auditErrorCodeValue = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	customerID string,
	keyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		CustomerID: customerID,
		KeyID:      keyID,
		IP:         clientIPFromContext(ctx),
		Success:    success,
		Metadata:   metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, customerID, reason string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, customerID, "", ErrRateLimited, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
}

func auditErrorCode(err error) auditErrorCodeValue {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrOTPMismatch):
		return auditErrOTPMismatch
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrBruteForceLockout):
		return auditErrLockout
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrStorageUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrProvisioningFailed):
		return auditErrProvisioning
	case errors.Is(err, ErrCustomerInactive):
		return auditErrInactive
	case errors.Is(err, ErrRequestNotPending):
		return auditErrRequestClosed
	default:
		return auditErrInternal
	}
}
