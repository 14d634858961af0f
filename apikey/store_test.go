package apikey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/otpcore/internal"
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

func TestRecordRoundTrip(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	hash := internal.HashToken("sk_live_secret")
	rec := &Record{
		CustomerID:    "abc123",
		KeyID:         "key_1",
		Status:        StatusActive,
		Isolation:     IsolationSelective,
		AllowedKeyIDs: []string{"key_2", "key_3"},
		CreatedAt:     time.Now().Unix(),
	}
	if err := store.Save(ctx, hash, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.GetBySecretHash(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CustomerID != "abc123" || got.KeyID != "key_1" {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.Isolation != IsolationSelective || len(got.AllowedKeyIDs) != 2 {
		t.Fatalf("sso config mismatch: %+v", got)
	}
}

func TestGetUnknownSecret(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)

	_, err := store.GetBySecretHash(context.Background(), internal.HashToken("sk_unknown"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTouchLastUsed(t *testing.T) {
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	hash := internal.HashToken("sk_live_secret")
	if err := store.Save(ctx, hash, &Record{CustomerID: "abc123", KeyID: "key_1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.TouchLastUsed(ctx, hash); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := store.GetBySecretHash(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastUsedAt == 0 {
		t.Fatal("last used must be stamped")
	}
}

func TestSessionScope(t *testing.T) {
	complete := &Record{KeyID: "key_1", Isolation: IsolationComplete}
	if scope := complete.SessionScope(); len(scope) != 1 || scope[0] != "key_1" {
		t.Fatalf("complete scope = %v", scope)
	}

	selective := &Record{KeyID: "key_1", Isolation: IsolationSelective, AllowedKeyIDs: []string{"key_2"}}
	if scope := selective.SessionScope(); len(scope) != 2 || scope[1] != "key_2" {
		t.Fatalf("selective scope = %v", scope)
	}

	global := &Record{KeyID: "key_1", Isolation: IsolationNone, GlobalSSO: true}
	if scope := global.SessionScope(); len(scope) != 1 || scope[0] != Wildcard {
		t.Fatalf("global scope = %v", scope)
	}

	// "none" without the tenant flag must not open anything up.
	lonely := &Record{KeyID: "key_1", Isolation: IsolationNone}
	if scope := lonely.SessionScope(); len(scope) != 1 || scope[0] != "key_1" {
		t.Fatalf("none-without-flag scope = %v", scope)
	}
}

func TestCanShareSession(t *testing.T) {
	if CanShareSession("key_a", nil) {
		t.Fatal("absent scope must deny")
	}
	if CanShareSession("key_a", []string{}) {
		t.Fatal("empty scope must deny")
	}
	if !CanShareSession("key_a", []string{Wildcard}) {
		t.Fatal("wildcard must allow any key")
	}
	if !CanShareSession("", nil) {
		t.Fatal("keyless session use must be allowed")
	}
	if CanShareSession("key_b", []string{"key_a"}) {
		t.Fatal("non-member must be denied")
	}
	if !CanShareSession("key_a", []string{"key_a", "key_b"}) {
		t.Fatal("member must be allowed")
	}
}
