// Package rate enforces the two admission axes in front of OTP
// issuance: a fixed hourly IP cap and an adaptive per-email quota
// derived from rolling usage statistics. Windows and statistics live
// in Redis so limits hold across instances.
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

var (
	// ErrRedisUnavailable wraps transport failures. Every caller must
	// treat it as a denial, never as an implicit allow.
	ErrRedisUnavailable = errors.New("rate redis unavailable")
)

// Config holds limiter tuning parameters.
type Config struct {
	// Window is the admission window length. Windows are anchored at
	// the first request and expire via key TTL.
	Window time.Duration
	// StatsRetention bounds how long usage statistics are kept.
	StatsRetention time.Duration
	// MaxSamples caps the rolling timestamp list per stats record.
	MaxSamples int
}

// DefaultConfig returns the standard hourly-window configuration.
func DefaultConfig() Config {
	return Config{
		Window:         time.Hour,
		StatsRetention: 30 * 24 * time.Hour,
		MaxSamples:     1000,
	}
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Reason    string
}

const (
	// ReasonEmailLimit marks a denial on the adaptive email axis.
	ReasonEmailLimit = "email_rate_limit_exceeded"
	// ReasonIPLimit marks a denial on the hard IP axis.
	ReasonIPLimit = "ip_rate_limit_exceeded"
)

// Limiter enforces both axes against Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.StatsRetention <= 0 {
		cfg.StatsRetention = 30 * 24 * time.Hour
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 1000
	}
	return &Limiter{redis: redisClient, config: cfg}
}

func emailWindowKey(customerID, emailHash string) string {
	return keyspace.Key(customerID, "ratelimit_email_"+emailHash)
}

func ipWindowKey(customerID, ipHash string) string {
	return keyspace.Key(customerID, "ratelimit_ip_"+ipHash)
}

// AllowEmail admits or denies one OTP issuance for the email+IP pair.
// The IP hard cap is checked first and is independent of the email
// adjustment; the email quota is baseQuota adjusted by the rolling
// usage statistics, clamped to a minimum of one.
func (l *Limiter) AllowEmail(ctx context.Context, customerID, emailHash, ipHash string, baseQuota, ipCap int) (*Decision, error) {
	emailStats, err := l.loadStats(ctx, emailStatsKey(customerID, emailHash))
	if err != nil {
		return deny(ReasonIPLimit), err
	}
	ipStats, err := l.loadStats(ctx, ipStatsKey(customerID, ipHash))
	if err != nil {
		return deny(ReasonIPLimit), err
	}

	if ipCap > 0 && ipHash != "" {
		count, resetAt, err := l.consume(ctx, ipWindowKey(customerID, ipHash))
		if err != nil {
			return deny(ReasonIPLimit), err
		}
		if count > int64(ipCap) {
			return &Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, Reason: ReasonIPLimit}, nil
		}
	}

	quota := adjustedQuota(baseQuota, emailStats, ipStats, time.Now())

	count, resetAt, err := l.consume(ctx, emailWindowKey(customerID, emailHash))
	if err != nil {
		return deny(ReasonEmailLimit), err
	}
	if count > int64(quota) {
		return &Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, Reason: ReasonEmailLimit}, nil
	}

	remaining := quota - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// consume increments a window counter, starting a fresh window with
// count 1 when none exists. The first hit sets the TTL, so the window
// persists until its reset and then rolls over atomically from the
// caller's perspective.
func (l *Limiter) consume(ctx context.Context, key string) (int64, time.Time, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return count, time.Now().Add(l.config.Window), nil
	}

	ttl, err := l.redis.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// Counter without TTL should not happen; repair rather than
		// leave a window that never resets.
		_ = l.redis.Expire(ctx, key, l.config.Window)
		ttl = l.config.Window
	}
	return count, time.Now().Add(ttl), nil
}

// adjustedQuota applies the bounded dynamic adjustment to the base
// email quota. The total adjustment is clamped to [-2, +2] and the
// final quota never drops below one.
func adjustedQuota(base int, email, ip *Stats, now time.Time) int {
	dayAgo := now.Add(-24 * time.Hour).Unix()
	weekAgo := now.Add(-7 * 24 * time.Hour).Unix()

	adj := 0

	emailDay := email.requestsSince(dayAgo)
	if emailDay < 3 {
		adj += 2
	}
	if emailDay > 10 {
		adj--
	}
	if email.LifetimeRequests > 0 &&
		float64(email.LifetimeFailures)/float64(email.LifetimeRequests) > 0.5 {
		adj -= 2
	}
	if email.LastSuccess >= weekAgo && email.LastSuccess > 0 {
		adj++
	}
	if ip.requestsSince(dayAgo) > 20 {
		adj--
		if ip.LifetimeFailures > 10 {
			adj--
		}
	}

	if adj > 2 {
		adj = 2
	}
	if adj < -2 {
		adj = -2
	}

	quota := base + adj
	if quota < 1 {
		quota = 1
	}
	return quota
}

func deny(reason string) *Decision {
	return &Decision{Allowed: false, Remaining: 0, Reason: reason}
}
