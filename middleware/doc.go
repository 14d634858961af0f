// Package middleware exposes HTTP middleware adapters over the
// engine's credential resolution.
//
// # Guards
//
//   - [Guard] requires a valid bearer access token.
//   - [RequireAPIKey] requires a valid X-API-Key header and binds the
//     request to the key's tenant.
//   - [Resolve] runs the full credential fallback chain (API key,
//     then token, then anonymous) without rejecting anonymous requests.
//
// Each guard injects its result into the request context; handlers read
// it back with [IdentityFromContext] or [otpcore.AuthFromContext].
//
// # Architecture boundaries
//
// This package translates HTTP semantics into engine calls. It does NOT
// implement authentication logic itself; all decisions are delegated to
// the engine.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to the engine).
//   - Access Redis (the engine handles I/O).
//   - Make authorization decisions beyond pass/reject from the engine.
package middleware
