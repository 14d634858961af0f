// Package otpcore is the authentication and session core of a
// multi-tenant OTP identity service: it issues and verifies one-time
// codes, rate-limits them adaptively per email and per IP, mints and
// rotates signed session tokens under an absolute lifetime ceiling,
// scopes API-key session sharing (SSO), and brokers consent-gated
// access to request keys for double-encrypted personal data.
//
// The package is built for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization
// through [Builder.Build]. All state lives in Redis; there is no
// background worker, and every side effect happens synchronously
// within the triggering request.
//
// Tenant isolation is enforced in one place: every storage key is
// namespaced through the keyspace package, and no entity is
// addressable across tenants except the explicitly cross-tenant data
// request pair.
//
// Storage failures are always denials. No admission, verification or
// validation path treats an unreachable store as an allow.
package otpcore
