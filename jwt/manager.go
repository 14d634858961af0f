// Package jwt issues and verifies the signed access tokens carrying
// identity claims. Refresh tokens are opaque and never pass through
// this package.
package jwt

import (
	"crypto/ed25519"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// ErrTokenInvalid covers every parse, signature and expiry failure.
// Callers get no detail beyond "invalid" so parse errors cannot be
// used as an oracle.
var ErrTokenInvalid = errors.New("invalid access token")

// Config holds signing material and validation policy.
type Config struct {
	AccessTTL     time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// Manager signs and parses access tokens.
type Manager struct {
	config Config
}

// AccessClaims is the claim set of an access token. Subject and
// CustomerID are always identical; CustomerID exists for clients that
// read the explicit name.
type AccessClaims struct {
	CustomerID    string   `json:"customerId"`
	EmailVerified bool     `json:"email_verified"`
	Scope         string   `json:"scope,omitempty"`
	CSRF          string   `json:"csrf,omitempty"`
	SSOScope      []string `json:"ssoScope,omitempty"`
	IsSuperAdmin  bool     `json:"isSuperAdmin,omitempty"`
	DisplayName   string   `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

// TokenInput is the identity material for CreateAccess.
type TokenInput struct {
	CustomerID   string
	Audience     string
	Scope        string
	CSRF         string
	SSOScope     []string
	IsSuperAdmin bool
	DisplayName  string
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("ed25519 requires a 64-byte private key")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("ed25519 requires a 32-byte public key")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return &Manager{config: cfg}, nil
}

// CreateAccess mints a signed access token. The jti is a fresh UUID so
// every token is individually revocable.
func (m *Manager) CreateAccess(input TokenInput) (string, *AccessClaims, error) {
	if strings.TrimSpace(input.CustomerID) == "" {
		return "", nil, errors.New("missing customer id")
	}

	now := time.Now()
	claims := &AccessClaims{
		CustomerID:    input.CustomerID,
		EmailVerified: true,
		Scope:         input.Scope,
		CSRF:          input.CSRF,
		SSOScope:      input.SSOScope,
		IsSuperAdmin:  input.IsSuperAdmin,
		DisplayName:   input.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   input.CustomerID,
			Issuer:    m.config.Issuer,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if input.Audience != "" {
		claims.Audience = jwt.ClaimStrings{input.Audience}
	}

	token := jwt.NewWithClaims(m.signingMethod(), claims)

	signed, err := token.SignedString(m.signKey())
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

// ParseAccess verifies signature, expiry and issuer. It does not
// consult the blacklist; that is the engine's job.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signingMethod().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, m.verifyKeyFunc, options...)
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.CustomerID == "" || claims.Subject != claims.CustomerID {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ParseExpired verifies the signature but tolerates an elapsed expiry.
// Logout uses it so that a just-expired token can still tear down its
// session and blacklist entry.
func (m *Manager) ParseExpired(tokenStr string) (*AccessClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signingMethod().Alg()}),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, m.verifyKeyFunc, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && token != nil {
			return claims, nil
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// AccessTTL exposes the configured token lifetime for cookie Max-Age.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

func (m *Manager) signingMethod() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() any {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey
	}
	return ed25519.PrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKeyFunc(*jwt.Token) (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return ed25519.PublicKey(m.config.PublicKey), nil
}
