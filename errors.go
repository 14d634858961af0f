package otpcore

import "errors"

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("invalid input")
	// ErrRateLimited is returned when either admission axis denies the
	// request. The accompanying result carries the reset time.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrOTPMismatch is returned when the submitted code does not match
	// the live challenge.
	ErrOTPMismatch = errors.New("one-time code mismatch")
	// ErrOTPExpired is returned when the challenge is past its expiry.
	ErrOTPExpired = errors.New("one-time code expired")
	// ErrBruteForceLockout is returned once the attempt budget for a
	// challenge is spent. Verification stays blocked until a fresh code
	// is issued.
	ErrBruteForceLockout = errors.New("verification attempts exhausted")
	// ErrTokenInvalid covers unknown, malformed and expired credentials,
	// including spent refresh tokens.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrTokenRevoked is kept distinct from expiry for audit clarity.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrForbidden is returned on authorization mismatch, e.g. a key
	// outside a session's SSO scope or the wrong owner deciding a data
	// request.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned for missing challenges, sessions and data
	// requests.
	ErrNotFound = errors.New("not found")
	// ErrStorageUnavailable marks a transient storage failure. It is
	// always treated as a denial, never as an implicit allow.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrConfigInvalid is returned at build time for missing or unsafe
	// configuration. The engine refuses to start rather than fall back
	// to a weaker default.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrProvisioningFailed is returned when the customer directory
	// cannot resolve or create the tenant record for a verified email.
	// Authentication fails as a whole; it never downgrades silently.
	ErrProvisioningFailed = errors.New("customer provisioning failed")
	// ErrCustomerInactive is returned when the tenant behind a credential
	// is suspended, cancelled or pending.
	ErrCustomerInactive = errors.New("customer account inactive")
	// ErrRequestNotPending is returned when a data request decision is
	// attempted on a request that already reached a terminal state.
	ErrRequestNotPending = errors.New("data request is not pending")
)
