package main

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenRoundTrip(t *testing.T) {
	a := NewAuth(nil, "test-secret")
	token, err := a.IssueToken("u1", "Alice")
	if err != nil {
		t.Fatal(err)
	}
	userID, name, err := a.ValidateToken(token)
	if err != nil {
		t.Fatal(err)
	}
	if userID != "u1" || name != "Alice" {
		t.Errorf("expected u1/Alice, got %s/%s", userID, name)
	}
}

func TestValidateTokenRejects(t *testing.T) {
	a := NewAuth(nil, "test-secret")
	other := NewAuth(nil, "other-secret")
	foreign, _ := other.IssueToken("u1", "Alice")

	for name, token := range map[string]string{
		"garbage":        "not-a-token",
		"empty":          "",
		"foreign secret": foreign,
	} {
		if _, _, err := a.ValidateToken(token); !errors.Is(err, ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestGuest(t *testing.T) {
	a := NewAuth(nil, "test-secret")

	id, name, token, err := a.Guest("", "1.2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(name, "Guest_") {
		t.Errorf("expected a generated guest name, got %q", name)
	}
	if got, _, err := a.ValidateToken(token); err != nil || got != id {
		t.Errorf("guest token should validate to %s, got %s (%v)", id, got, err)
	}

	if _, _, _, err := a.Guest("x", "5.6.7.8"); err == nil {
		t.Error("expected a one-letter name to be rejected")
	}
}

func TestGuestRateLimit(t *testing.T) {
	a := NewAuth(nil, "test-secret")
	for i := 0; i < maxGuestPerIP; i++ {
		if _, _, _, err := a.Guest("Bob", "9.9.9.9"); err != nil {
			t.Fatalf("sign-up %d: %v", i, err)
		}
	}
	if _, _, _, err := a.Guest("Bob", "9.9.9.9"); err == nil {
		t.Error("expected the rate limit to kick in")
	}
	if _, _, _, err := a.Guest("Bob", "10.0.0.1"); err != nil {
		t.Errorf("other addresses are unaffected: %v", err)
	}
}

func TestSecretPersistsInDB(t *testing.T) {
	db := openTestDB(t)
	first := NewAuth(db, "")
	token, _ := first.IssueToken("u1", "Alice")

	second := NewAuth(db, "")
	if _, _, err := second.ValidateToken(token); err != nil {
		t.Errorf("a restarted server should accept old tokens: %v", err)
	}
}
