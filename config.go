package otpcore

import (
	"fmt"
	"time"

	"github.com/MrEthical07/otpcore/jwt"
)

// Config is the full engine configuration. Zero values are filled in
// from defaultConfig by the builder; only signing material has no
// default and must be supplied.
type Config struct {
	OTP         OTPConfig
	RateLimit   RateLimitConfig
	Session     SessionConfig
	JWT         JWTConfig
	DataRequest DataRequestConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// OTPConfig tunes challenge issuance and verification.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
}

// PlanLimits are the per-plan admission ceilings: the base hourly email
// quota before dynamic adjustment, and the hard hourly IP cap.
type PlanLimits struct {
	EmailQuota int
	IPCap      int
}

// RateLimitConfig tunes the two admission axes.
type RateLimitConfig struct {
	Window         time.Duration
	StatsRetention time.Duration
	MaxSamples     int
	PlanLimits     map[Plan]PlanLimits
}

// SessionConfig tunes session records and the refresh rotation chain.
// MaxLifetime is the absolute ceiling fixed at first login; rotation
// never extends it.
type SessionConfig struct {
	TTL         time.Duration
	MaxLifetime time.Duration
}

// JWTConfig carries the signing material and validation policy for
// access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// DataRequestConfig tunes the consent workflow.
type DataRequestConfig struct {
	TTL       time.Duration
	Retention time.Duration
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig tunes the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the standard configuration. It carries no
// signing key; Validate fails until one is supplied.
func DefaultConfig() Config {
	return Config{
		OTP: OTPConfig{
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
		},
		RateLimit: RateLimitConfig{
			Window:         time.Hour,
			StatsRetention: 30 * 24 * time.Hour,
			MaxSamples:     1000,
			PlanLimits: map[Plan]PlanLimits{
				PlanFree:       {EmailQuota: 3, IPCap: 10},
				PlanStarter:    {EmailQuota: 10, IPCap: 30},
				PlanPro:        {EmailQuota: 30, IPCap: 60},
				PlanEnterprise: {EmailQuota: 100, IPCap: 120},
			},
		},
		Session: SessionConfig{
			TTL:         7 * time.Hour,
			MaxLifetime: 7 * 24 * time.Hour,
		},
		JWT: JWTConfig{
			AccessTTL:     7 * time.Hour,
			SigningMethod: string(jwt.MethodEd25519),
			Issuer:        "otpcore",
		},
		DataRequest: DataRequestConfig{
			TTL:       30 * 24 * time.Hour,
			Retention: 90 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine must not run with. There
// is deliberately no fallback signing key.
func (c *Config) Validate() error {
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return fmt.Errorf("%w: otp digits must be in [4,10]", ErrConfigInvalid)
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("%w: otp ttl must be positive", ErrConfigInvalid)
	}
	if c.OTP.MaxAttempts <= 0 {
		return fmt.Errorf("%w: otp max attempts must be positive", ErrConfigInvalid)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: rate window must be positive", ErrConfigInvalid)
	}
	if len(c.RateLimit.PlanLimits) == 0 {
		return fmt.Errorf("%w: plan limits must be provided", ErrConfigInvalid)
	}
	for plan, limits := range c.RateLimit.PlanLimits {
		if limits.EmailQuota <= 0 || limits.IPCap <= 0 {
			return fmt.Errorf("%w: plan %q limits must be positive", ErrConfigInvalid, plan)
		}
	}
	if c.Session.TTL <= 0 || c.Session.MaxLifetime <= 0 {
		return fmt.Errorf("%w: session lifetimes must be positive", ErrConfigInvalid)
	}
	if c.Session.MaxLifetime < c.Session.TTL {
		return fmt.Errorf("%w: session max lifetime below session ttl", ErrConfigInvalid)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("%w: access ttl must be positive", ErrConfigInvalid)
	}
	if len(c.JWT.PrivateKey) == 0 {
		return fmt.Errorf("%w: jwt signing key required", ErrConfigInvalid)
	}
	if c.DataRequest.TTL <= 0 {
		return fmt.Errorf("%w: data request ttl must be positive", ErrConfigInvalid)
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.RateLimit.PlanLimits != nil {
		out.RateLimit.PlanLimits = make(map[Plan]PlanLimits, len(cfg.RateLimit.PlanLimits))
		for plan, limits := range cfg.RateLimit.PlanLimits {
			out.RateLimit.PlanLimits[plan] = limits
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
