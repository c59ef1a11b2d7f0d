package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestTokens(t *testing.T, now *time.Time) *Tokens {
	t.Helper()
	tokens, err := NewTokens("test-secret", "tradejournal", WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return tokens
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := newTestTokens(t, &now)

	token, expiresAt, err := tokens.Issue("user-42", 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}
	sub, err := tokens.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "user-42" {
		t.Fatalf("unexpected subject %q", sub)
	}

	now = now.Add(31 * time.Minute)
	if _, err := tokens.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := newTestTokens(t, &now)

	other, err := NewTokens("other-secret", "tradejournal", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	forged, _, err := other.Issue("user-42", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Verify(forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong-key token rejected, got %v", err)
	}

	wrongIssuer, err := NewTokens("test-secret", "someone-else", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	tok, _, _ := wrongIssuer.Issue("user-42", time.Minute)
	if _, err := tokens.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected wrong issuer rejected, got %v", err)
	}

	if _, err := tokens.Verify("   "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected empty token rejected, got %v", err)
	}
}

func TestRoleClaimsAreIgnored(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := newTestTokens(t, &now)

	claims := jwt.MapClaims{
		"typ":   typeAccess,
		"iss":   "tradejournal",
		"sub":   "user-7",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Minute).Unix(),
		"roles": []string{"admin"},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sub, err := tokens.Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if sub != "user-7" {
		t.Fatalf("unexpected subject %q", sub)
	}
}

func TestUnlockTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := newTestTokens(t, &now)

	unlock, _, err := tokens.IssueUnlock("admin-1", 30*time.Minute)
	if err != nil {
		t.Fatalf("IssueUnlock: %v", err)
	}
	if err := tokens.VerifyUnlock(unlock, "admin-1"); err != nil {
		t.Fatalf("VerifyUnlock: %v", err)
	}
	if err := tokens.VerifyUnlock(unlock, "admin-2"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unlock bound to admin, got %v", err)
	}
	if _, err := tokens.Verify(unlock); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unlock token must not authenticate requests, got %v", err)
	}

	access, _, _ := tokens.Issue("admin-1", time.Hour)
	if err := tokens.VerifyUnlock(access, "admin-1"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token must not unlock, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens(" ", "x"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestSecretHashing(t *testing.T) {
	hash, err := HashSecret("correct horse")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	if !CompareSecret(hash, "correct horse") {
		t.Fatal("expected match")
	}
	if CompareSecret(hash, "wrong") || CompareSecret("", "correct horse") {
		t.Fatal("expected mismatch")
	}
	if _, err := HashSecret(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " user-1 ")
	if id, ok := UserIDFromContext(ctx); !ok || id != "user-1" {
		t.Fatalf("unexpected user %q %v", id, ok)
	}
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("expected no user")
	}
	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token %q", tok)
	}
}
