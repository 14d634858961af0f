// Package keyspace builds tenant-scoped storage keys and hashes
// identifying values before they reach Redis.
//
// Every persisted record in otpcore is addressed through this package.
// The tenant prefix is the sole cross-tenant isolation mechanism, so the
// layout is deliberately small and pure: identical logical key + tenant
// always yields the same storage key.
package keyspace

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SystemScope is the tenant value for records that exist before a
// customer is known (pre-tenant OTP challenges, refresh tokens looked
// up by hash, API key index entries).
const SystemScope = ""

// Key returns the storage key for a logical key under a tenant.
// SystemScope yields the bare logical key; any other tenant is
// prefixed as "cust_{customerID}_".
func Key(customerID, logical string) string {
	if customerID == SystemScope {
		return logical
	}
	return "cust_" + customerID + "_" + logical
}

// Hash returns the lowercase hex SHA-256 of value. Used for every
// client-supplied identifier (email, IP, token) so raw values never
// appear in storage keys.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HashEmail normalizes an email address (trim, lowercase) before
// hashing so that case variants map to the same challenge and quota
// records.
func HashEmail(email string) string {
	return Hash(strings.ToLower(strings.TrimSpace(email)))
}

// HashBytes returns the raw SHA-256 of value for records that store
// fixed-width digests instead of hex strings.
func HashBytes(value string) [32]byte {
	return sha256.Sum256([]byte(value))
}
