package keyspace

import (
	"strings"
	"testing"
)

func TestKeyTenantPrefix(t *testing.T) {
	if got := Key("abc123", "otp_deadbeef"); got != "cust_abc123_otp_deadbeef" {
		t.Fatalf("unexpected tenant key: %q", got)
	}
	if got := Key(SystemScope, "otp_deadbeef"); got != "otp_deadbeef" {
		t.Fatalf("system scope must not be prefixed: %q", got)
	}
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("abc123", "session_x")
	b := Key("abc123", "session_x")
	if a != b {
		t.Fatalf("key not deterministic: %q vs %q", a, b)
	}
}

func TestKeyTenantIsolation(t *testing.T) {
	a := Key("abc123", "session_x")
	b := Key("abc124", "session_x")
	if a == b {
		t.Fatal("distinct tenants produced identical keys")
	}
}

func TestHashLowercaseHex(t *testing.T) {
	h := Hash("alice@example.com")
	if len(h) != 64 {
		t.Fatalf("unexpected hash length %d", len(h))
	}
	if h != strings.ToLower(h) {
		t.Fatal("hash must be lowercase hex")
	}
}

func TestHashEmailNormalizes(t *testing.T) {
	if HashEmail("  Alice@Example.COM ") != HashEmail("alice@example.com") {
		t.Fatal("email case variants must hash identically")
	}
	if HashEmail("alice@example.com") == HashEmail("bob@example.com") {
		t.Fatal("distinct emails collided")
	}
}
