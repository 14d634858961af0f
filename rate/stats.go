package rate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

// Stats is the rolling usage record behind the dynamic quota
// adjustment. It is observational: admission decisions never depend on
// it alone, and a lost update only skews the adjustment, never the
// hard window counters.
type Stats struct {
	RequestTimestamps []int64 `json:"request_timestamps,omitempty"`
	LifetimeRequests  int64   `json:"lifetime_requests"`
	LifetimeFailures  int64   `json:"lifetime_failures"`
	LastSuccess       int64   `json:"last_success,omitempty"`
}

func (s *Stats) requestsSince(cutoff int64) int {
	n := 0
	for _, ts := range s.RequestTimestamps {
		if ts >= cutoff {
			n++
		}
	}
	return n
}

func emailStatsKey(customerID, emailHash string) string {
	return keyspace.Key(customerID, "usage_email_"+emailHash)
}

func ipStatsKey(customerID, ipHash string) string {
	return keyspace.Key(customerID, "usage_ip_"+ipHash)
}

// RecordRequest appends a request sample to the email and IP usage
// records. Samples older than 24h are pruned and the list is bounded
// to MaxSamples, newest kept.
func (l *Limiter) RecordRequest(ctx context.Context, customerID, emailHash, ipHash string) error {
	now := time.Now()
	if err := l.updateStats(ctx, emailStatsKey(customerID, emailHash), func(s *Stats) {
		s.appendSample(now, l.config.MaxSamples)
	}); err != nil {
		return err
	}
	if ipHash == "" {
		return nil
	}
	return l.updateStats(ctx, ipStatsKey(customerID, ipHash), func(s *Stats) {
		s.appendSample(now, l.config.MaxSamples)
	})
}

// RecordFailure counts a failed verification against both records.
func (l *Limiter) RecordFailure(ctx context.Context, customerID, emailHash, ipHash string) error {
	if err := l.updateStats(ctx, emailStatsKey(customerID, emailHash), func(s *Stats) {
		s.LifetimeFailures++
	}); err != nil {
		return err
	}
	if ipHash == "" {
		return nil
	}
	return l.updateStats(ctx, ipStatsKey(customerID, ipHash), func(s *Stats) {
		s.LifetimeFailures++
	})
}

// RecordSuccess stamps the last successful verification for the email.
func (l *Limiter) RecordSuccess(ctx context.Context, customerID, emailHash string) error {
	return l.updateStats(ctx, emailStatsKey(customerID, emailHash), func(s *Stats) {
		s.LastSuccess = time.Now().Unix()
	})
}

func (s *Stats) appendSample(now time.Time, maxSamples int) {
	cutoff := now.Add(-24 * time.Hour).Unix()

	kept := s.RequestTimestamps[:0]
	for _, ts := range s.RequestTimestamps {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now.Unix())
	if len(kept) > maxSamples {
		kept = kept[len(kept)-maxSamples:]
	}

	s.RequestTimestamps = kept
	s.LifetimeRequests++
}

func (l *Limiter) loadStats(ctx context.Context, key string) (*Stats, error) {
	data, err := l.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Stats{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	stats := &Stats{}
	if err := json.Unmarshal(data, stats); err != nil {
		// A corrupt record resets to empty rather than poisoning the
		// adjustment forever.
		return &Stats{}, nil
	}
	return stats, nil
}

func (l *Limiter) updateStats(ctx context.Context, key string, mutate func(*Stats)) error {
	stats, err := l.loadStats(ctx, key)
	if err != nil {
		return err
	}

	mutate(stats)

	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if err := l.redis.Set(ctx, key, data, l.config.StatsRetention).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
