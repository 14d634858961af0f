package internaldefs

import (
	otpcore "github.com/MrEthical07/otpcore"
)

// CounterDef binds one engine counter to its exported metric name.
type CounterDef struct {
	ID   otpcore.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exported metric name.
type HistogramDef struct {
	ID   otpcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: otpcore.MetricOTPRequested, Name: "otpcore_otp_requested_total", Help: "Issued OTP challenges."},
	{ID: otpcore.MetricOTPRequestDenied, Name: "otpcore_otp_request_denied_total", Help: "OTP issuance requests denied before a code was generated."},
	{ID: otpcore.MetricOTPVerified, Name: "otpcore_otp_verified_total", Help: "Successful OTP verifications."},
	{ID: otpcore.MetricOTPVerifyFailed, Name: "otpcore_otp_verify_failed_total", Help: "Failed OTP verifications."},
	{ID: otpcore.MetricOTPLockout, Name: "otpcore_otp_lockout_total", Help: "Challenges invalidated by attempt exhaustion."},
	{ID: otpcore.MetricRateLimitHit, Name: "otpcore_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: otpcore.MetricSessionIssued, Name: "otpcore_session_issued_total", Help: "Issued session token pairs."},
	{ID: otpcore.MetricRefreshSuccess, Name: "otpcore_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: otpcore.MetricRefreshInvalid, Name: "otpcore_refresh_invalid_total", Help: "Rejected refresh attempts."},
	{ID: otpcore.MetricLogout, Name: "otpcore_logout_total", Help: "Logout operations."},
	{ID: otpcore.MetricTokenRevoked, Name: "otpcore_token_revoked_total", Help: "Access tokens inserted into the blacklist."},
	{ID: otpcore.MetricAPIKeyVerified, Name: "otpcore_apikey_verified_total", Help: "Successful API key authentications."},
	{ID: otpcore.MetricAPIKeyDenied, Name: "otpcore_apikey_denied_total", Help: "Rejected API key authentications."},
	{ID: otpcore.MetricDataRequestCreated, Name: "otpcore_data_request_created_total", Help: "Opened data requests."},
	{ID: otpcore.MetricDataRequestApproved, Name: "otpcore_data_request_approved_total", Help: "Approved data requests."},
	{ID: otpcore.MetricDataRequestRejected, Name: "otpcore_data_request_rejected_total", Help: "Rejected data requests."},
	{ID: otpcore.MetricDataRequestKeyResolved, Name: "otpcore_data_request_key_resolved_total", Help: "Resolved data-request keys."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: otpcore.MetricValidateLatency, Name: "otpcore_validate_latency_ms", Help: "Access token validation latency in milliseconds."},
}

// HistogramBounds are the upper bucket bounds in milliseconds, matching
// the engine's fixed histogram layout.
var HistogramBounds = []string{
	"5",
	"10",
	"25",
	"50",
	"100",
	"250",
	"500",
	"+Inf",
}

// HistogramBoundSuffix holds instrument-name-safe forms of the bounds.
var HistogramBoundSuffix = []string{
	"5",
	"10",
	"25",
	"50",
	"100",
	"250",
	"500",
	"inf",
}

// NormalizeBuckets widens a snapshot bucket slice to the fixed layout.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
