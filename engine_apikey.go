package otpcore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MrEthical07/otpcore/apikey"
	"github.com/MrEthical07/otpcore/internal"
)

// APIKeyInput describes a key to provision: its tenant, public key ID
// and SSO isolation policy.
type APIKeyInput struct {
	CustomerID    string
	KeyID         string
	Isolation     apikey.IsolationMode
	GlobalSSO     bool
	AllowedKeyIDs []string
}

// CreateAPIKey provisions a key and returns the raw secret. The secret
// is shown exactly once; only its hash is stored.
func (e *Engine) CreateAPIKey(ctx context.Context, input APIKeyInput) (string, error) {
	if strings.TrimSpace(input.CustomerID) == "" || strings.TrimSpace(input.KeyID) == "" {
		return "", ErrValidation
	}

	token, err := internal.NewRefreshToken()
	if err != nil {
		return "", err
	}
	secret := "sk_" + token

	rec := &apikey.Record{
		CustomerID:    input.CustomerID,
		KeyID:         input.KeyID,
		Status:        apikey.StatusActive,
		Isolation:     input.Isolation,
		GlobalSSO:     input.GlobalSSO,
		AllowedKeyIDs: input.AllowedKeyIDs,
		CreatedAt:     time.Now().Unix(),
	}
	if err := e.apiKeyStore.Save(ctx, internal.HashToken(secret), rec); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	return secret, nil
}

// VerifyAPIKey authenticates a raw key: hash lookup, key status, then
// tenant status. The last-used stamp is updated as a side effect.
func (e *Engine) VerifyAPIKey(ctx context.Context, rawKey string) (*AuthContext, error) {
	if rawKey == "" {
		return nil, ErrValidation
	}

	hash := internal.HashToken(rawKey)
	rec, err := e.apiKeyStore.GetBySecretHash(ctx, hash)
	if err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			e.metricInc(MetricAPIKeyDenied)
			e.emitAudit(ctx, auditEventAPIKeyDenied, false, "", "", ErrTokenInvalid, nil)
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if rec.Status != apikey.StatusActive {
		e.metricInc(MetricAPIKeyDenied)
		e.emitAudit(ctx, auditEventAPIKeyDenied, false, rec.CustomerID, rec.KeyID, ErrTokenRevoked, nil)
		return nil, ErrTokenRevoked
	}

	if _, err := e.customerUsable(ctx, rec.CustomerID); err != nil {
		e.metricInc(MetricAPIKeyDenied)
		e.emitAudit(ctx, auditEventAPIKeyDenied, false, rec.CustomerID, rec.KeyID, err, nil)
		return nil, err
	}

	if err := e.apiKeyStore.TouchLastUsed(ctx, hash); err != nil {
		log.Print("otpcore: api key last-used update failed")
	}

	e.metricInc(MetricAPIKeyVerified)
	e.emitAudit(ctx, auditEventAPIKeyVerified, true, rec.CustomerID, rec.KeyID, nil, nil)

	return &AuthContext{
		Kind:       AuthAPIKey,
		CustomerID: rec.CustomerID,
		KeyID:      rec.KeyID,
		SSOScope:   rec.SessionScope(),
	}, nil
}

// ResolveAuth collapses the credential fallback chain into one tagged
// result: a present API key wins, then a signed token, then anonymous.
// A credential that is present but bad fails the resolution; it never
// downgrades to anonymous.
func (e *Engine) ResolveAuth(ctx context.Context, rawAPIKey, accessToken string) (*AuthContext, error) {
	if rawAPIKey != "" {
		return e.VerifyAPIKey(ctx, rawAPIKey)
	}

	if accessToken != "" {
		identity, err := e.ValidateAccess(ctx, accessToken)
		if err != nil {
			return nil, err
		}
		if _, err := e.customerUsable(ctx, identity.CustomerID); err != nil {
			return nil, err
		}
		return &AuthContext{
			Kind:       AuthJWT,
			CustomerID: identity.CustomerID,
			Identity:   identity,
		}, nil
	}

	return &AuthContext{Kind: AuthAnonymous}, nil
}
