package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

const (
	refreshSecretSize = 48
	requestKeySize    = 32
	csrfTokenSize     = 24
)

// NewOTPCode draws a uniformly distributed numeric code of the given
// width with a single wide-range draw, so no modulo bias and no
// rejection loop.
func NewOTPCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}

// NewRefreshToken returns an opaque refresh token. The raw value is
// never persisted; stores index it by SHA-256 only.
func NewRefreshToken() (string, error) {
	var raw [refreshSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewRequestKey returns a fresh symmetric key for an approved data
// request.
func NewRequestKey() ([]byte, error) {
	key := make([]byte, requestKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// NewCSRFToken returns the per-session CSRF value embedded in access
// token claims.
func NewCSRFToken() (string, error) {
	var raw [csrfTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken is the canonical digest used to index opaque tokens and
// API key secrets in Redis.
func HashToken(raw string) [32]byte {
	return sha256.Sum256([]byte(raw))
}
