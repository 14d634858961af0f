package rate

import (
	"context"
	"time"
)

// IPLimiter is the identity-free variant used by endpoints that have
// no email associated yet. It reuses the dynamic-adjustment math with
// only the IP-side inputs.
type IPLimiter struct {
	limiter *Limiter
	scope   string
}

// NewIPLimiter wraps a Limiter for a named scope (for example
// "anonymous" or a route tag) so distinct endpoints keep distinct
// windows for the same IP.
func NewIPLimiter(l *Limiter, scope string) *IPLimiter {
	if scope == "" {
		scope = "generic"
	}
	return &IPLimiter{limiter: l, scope: scope}
}

// Allow admits or denies one request for the IP under the scope.
func (l *IPLimiter) Allow(ctx context.Context, customerID, ipHash string, baseQuota int) (*Decision, error) {
	stats, err := l.limiter.loadStats(ctx, ipStatsKey(customerID, ipHash))
	if err != nil {
		return deny(ReasonIPLimit), err
	}

	quota := adjustedIPQuota(baseQuota, stats, time.Now())

	key := l.limiter.scopedWindowKey(customerID, l.scope, ipHash)
	count, resetAt, err := l.limiter.consume(ctx, key)
	if err != nil {
		return deny(ReasonIPLimit), err
	}
	if count > int64(quota) {
		return &Decision{Allowed: false, Remaining: 0, ResetAt: resetAt, Reason: ReasonIPLimit}, nil
	}

	remaining := quota - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{Allowed: true, Remaining: remaining, ResetAt: resetAt}, nil
}

// Record counts the request in the IP usage record.
func (l *IPLimiter) Record(ctx context.Context, customerID, ipHash string) error {
	return l.limiter.updateStats(ctx, ipStatsKey(customerID, ipHash), func(s *Stats) {
		s.appendSample(time.Now(), l.limiter.config.MaxSamples)
	})
}

func (l *Limiter) scopedWindowKey(customerID, scope, ipHash string) string {
	return ipWindowKey(customerID, scope+"_"+ipHash)
}

func adjustedIPQuota(base int, ip *Stats, now time.Time) int {
	dayAgo := now.Add(-24 * time.Hour).Unix()

	adj := 0
	if ip.requestsSince(dayAgo) > 20 {
		adj--
	}
	if ip.LifetimeFailures > 10 {
		adj--
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
