package rate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/keyspace"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

// seedNeutralStats writes an email usage record that produces a zero
// adjustment: between 3 and 10 requests in 24h, no failures, no recent
// success.
func seedNeutralStats(t *testing.T, rdb *redis.Client, customerID, emailHash string) {
	t.Helper()

	now := time.Now().Unix()
	stats := Stats{
		RequestTimestamps: []int64{now - 100, now - 200, now - 300, now - 400, now - 500},
		LifetimeRequests:  5,
	}
	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal stats: %v", err)
	}
	if err := rdb.Set(context.Background(), emailStatsKey(customerID, emailHash), data, time.Hour).Err(); err != nil {
		t.Fatalf("seed stats: %v", err)
	}
}

func TestEmailQuotaExhaustion(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()

	emailHash := keyspace.HashEmail("alice@example.com")
	ipHash := keyspace.Hash("203.0.113.7")
	seedNeutralStats(t, rdb, "abc123", emailHash)

	wantRemaining := []int{2, 1, 0}
	for i, want := range wantRemaining {
		d, err := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 10)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d must be allowed", i+1)
		}
		if d.Remaining != want {
			t.Fatalf("request %d: remaining = %d, want %d", i+1, d.Remaining, want)
		}
	}

	d, err := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 10)
	if err != nil {
		t.Fatalf("fourth request: %v", err)
	}
	if d.Allowed {
		t.Fatal("fourth request must be denied")
	}
	if d.Reason != ReasonEmailLimit {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonEmailLimit)
	}
	if d.Remaining != 0 {
		t.Fatalf("denied remaining = %d, want 0", d.Remaining)
	}
	if d.ResetAt.IsZero() {
		t.Fatal("denied decision must carry a reset time")
	}
}

func TestWindowRollsOverAfterReset(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()

	emailHash := keyspace.HashEmail("alice@example.com")
	ipHash := keyspace.Hash("203.0.113.7")
	seedNeutralStats(t, rdb, "abc123", emailHash)

	for i := 0; i < 3; i++ {
		if d, err := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 10); err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	if d, _ := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 10); d.Allowed {
		t.Fatal("over-quota request must be denied")
	}

	// Window keys expire; the next request starts a fresh window
	// counting itself.
	mr.FastForward(61 * time.Minute)
	seedNeutralStats(t, rdb, "abc123", emailHash)

	d, err := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 10)
	if err != nil {
		t.Fatalf("post-reset request: %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("post-reset: allowed=%v remaining=%d, want allowed remaining=2", d.Allowed, d.Remaining)
	}
}

func TestIPHardCapIndependentOfEmailAxis(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()

	ipHash := keyspace.Hash("203.0.113.7")

	// Distinct emails, same IP: the IP cap of 2 trips on the third
	// request even though every email axis is cold.
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	for i, email := range emails[:2] {
		d, err := l.AllowEmail(ctx, "abc123", keyspace.HashEmail(email), ipHash, 3, 2)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}

	d, err := l.AllowEmail(ctx, "abc123", keyspace.HashEmail(emails[2]), ipHash, 3, 2)
	if err != nil {
		t.Fatalf("third request: %v", err)
	}
	if d.Allowed {
		t.Fatal("IP cap must deny regardless of email-side state")
	}
	if d.Reason != ReasonIPLimit {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonIPLimit)
	}
}

func TestColdStartLeniency(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()

	emailHash := keyspace.HashEmail("new@example.com")
	ipHash := keyspace.Hash("203.0.113.7")

	// No stats at all: fewer than 3 requests in 24h adds +2, so base 3
	// admits five requests.
	for i := 0; i < 5; i++ {
		d, err := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 100)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	if d, _ := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 3, 100); d.Allowed {
		t.Fatal("sixth request must exceed the lenient quota")
	}
}

func TestFailureRatioPenaltyClampsToMinimumOne(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, DefaultConfig())
	ctx := context.Background()

	emailHash := keyspace.HashEmail("abusive@example.com")
	ipHash := keyspace.Hash("203.0.113.7")

	now := time.Now().Unix()
	samples := make([]int64, 12)
	for i := range samples {
		samples[i] = now - int64(i*60)
	}
	stats := Stats{
		RequestTimestamps: samples,
		LifetimeRequests:  20,
		LifetimeFailures:  15,
	}
	data, _ := json.Marshal(stats)
	if err := rdb.Set(ctx, emailStatsKey("abc123", emailHash), data, time.Hour).Err(); err != nil {
		t.Fatalf("seed stats: %v", err)
	}

	// >10 requests in 24h (-1) plus >50% failure ratio (-2) clamps the
	// adjustment to -2; base 1 still yields the minimum quota of 1.
	d, err := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 1, 100)
	if err != nil || !d.Allowed {
		t.Fatalf("first request must pass on minimum quota: allowed=%v err=%v", d.Allowed, err)
	}
	if d, _ := l.AllowEmail(ctx, "abc123", emailHash, ipHash, 1, 100); d.Allowed {
		t.Fatal("second request must be denied on minimum quota")
	}
}

func TestRecentSuccessBonus(t *testing.T) {
	now := time.Now()
	email := &Stats{
		RequestTimestamps: []int64{now.Unix() - 10, now.Unix() - 20, now.Unix() - 30, now.Unix() - 40},
		LifetimeRequests:  4,
		LastSuccess:       now.Add(-48 * time.Hour).Unix(),
	}
	if q := adjustedQuota(3, email, &Stats{}, now); q != 4 {
		t.Fatalf("quota with recent success = %d, want 4", q)
	}

	email.LastSuccess = now.Add(-8 * 24 * time.Hour).Unix()
	if q := adjustedQuota(3, email, &Stats{}, now); q != 3 {
		t.Fatalf("quota with stale success = %d, want 3", q)
	}
}

func TestNoisyIPPenalty(t *testing.T) {
	now := time.Now()
	email := &Stats{
		RequestTimestamps: []int64{now.Unix() - 10, now.Unix() - 20, now.Unix() - 30, now.Unix() - 40},
		LifetimeRequests:  4,
	}

	samples := make([]int64, 25)
	for i := range samples {
		samples[i] = now.Unix() - int64(i*60)
	}
	ip := &Stats{RequestTimestamps: samples, LifetimeRequests: 25}

	if q := adjustedQuota(3, email, ip, now); q != 2 {
		t.Fatalf("quota with noisy ip = %d, want 2", q)
	}

	ip.LifetimeFailures = 11
	if q := adjustedQuota(3, email, ip, now); q != 1 {
		t.Fatalf("quota with noisy failing ip = %d, want 1", q)
	}
}

func TestStatsPruningAndBounds(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := New(rdb, Config{Window: time.Hour, StatsRetention: time.Hour, MaxSamples: 10})
	ctx := context.Background()

	emailHash := keyspace.HashEmail("alice@example.com")
	for i := 0; i < 25; i++ {
		if err := l.RecordRequest(ctx, "abc123", emailHash, ""); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	stats, err := l.loadStats(ctx, emailStatsKey("abc123", emailHash))
	if err != nil {
		t.Fatalf("load stats: %v", err)
	}
	if len(stats.RequestTimestamps) != 10 {
		t.Fatalf("samples = %d, want bounded to 10", len(stats.RequestTimestamps))
	}
	if stats.LifetimeRequests != 25 {
		t.Fatalf("lifetime requests = %d, want 25", stats.LifetimeRequests)
	}
}

func TestFailClosedOnRedisDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := New(rdb, DefaultConfig())

	mr.Close()

	d, err := l.AllowEmail(context.Background(), "abc123", keyspace.HashEmail("a@example.com"), keyspace.Hash("1.2.3.4"), 3, 10)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected redis unavailable, got %v", err)
	}
	if d.Allowed {
		t.Fatal("limiter must fail closed")
	}
}

func TestIPOnlyLimiterVariant(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewIPLimiter(New(rdb, DefaultConfig()), "anonymous")
	ctx := context.Background()

	ipHash := keyspace.Hash("203.0.113.7")
	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, keyspace.SystemScope, ipHash, 5)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}
	if d, _ := l.Allow(ctx, keyspace.SystemScope, ipHash, 5); d.Allowed {
		t.Fatal("sixth request must be denied")
	}
}
