package auth

import (
	"context"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	j := New("test-secret")

	tok, err := j.Sign("user-1", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	uid, err := j.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if uid != "user-1" {
		t.Fatalf("uid = %q, want user-1", uid)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, _ := New("secret-a").Sign("user-1", time.Hour)
	if _, err := New("secret-b").Verify(tok); err == nil {
		t.Fatal("token signed with a different secret must not verify")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	tok, _ := New("s").Sign("user-1", -time.Minute)
	if _, err := New("s").Verify(tok); err == nil {
		t.Fatal("expired token must not verify")
	}
}

func TestSignRejectsEmptyUID(t *testing.T) {
	if _, err := New("s").Sign("", time.Hour); err == nil {
		t.Fatal("empty uid must be rejected")
	}
}

func TestUserIDDefaultsToAnon(t *testing.T) {
	if got := UserID(context.Background()); got != "anon" {
		t.Fatalf("UserID = %q, want anon", got)
	}
	ctx := WithUser(context.Background(), "u7")
	if got := UserID(ctx); got != "u7" {
		t.Fatalf("UserID = %q, want u7", got)
	}
}
