package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/auth"
)

type memAttempts struct {
	mu        sync.Mutex
	rows      []Attempt
	lookupErr error
	insertErr error
}

func (m *memAttempts) FailuresSinceLastSuccess(_ context.Context, adminID string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	var out []Attempt
	for _, a := range m.rows {
		if a.AdminID != adminID {
			continue
		}
		if a.Success {
			out = out[:0]
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memAttempts) InsertAttempt(_ context.Context, a *Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.rows = append(m.rows, *a)
	return nil
}

type memAuditor struct {
	entries []audit.Entry
	err     error
}

func (m *memAuditor) Record(_ context.Context, e audit.Entry) (audit.Entry, error) {
	if m.err != nil {
		return audit.Entry{}, m.err
	}
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memAuditor) actions() []string {
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

type hashStore map[string]string

func (h hashStore) SecretHash(_ context.Context, adminID string) (string, bool, error) {
	v, ok := h[adminID]
	return v, ok, nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(store *memAttempts, aud *memAuditor, clock *testClock, opts ...Option) *Gate {
	opts = append([]Option{WithSharedSecret("s3cret"), WithClock(clock.now)}, opts...)
	return NewGate(store, aud, opts...)
}

func verify(g *Gate, secret string) Result {
	return g.Verify(context.Background(), Input{AdminID: "admin-1", Secret: secret, IP: "10.0.0.1", UserAgent: "test"})
}

func TestVerifySuccess(t *testing.T) {
	store, aud := &memAttempts{}, &memAuditor{}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	g := newTestGate(store, aud, clock)

	res := verify(g, "s3cret")
	if !res.Success || res.Blocked || res.AttemptsRemaining != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(store.rows) != 1 || !store.rows[0].Success || store.rows[0].ID == "" {
		t.Fatalf("expected one successful attempt, got %+v", store.rows)
	}
	if got := aud.actions(); len(got) != 1 || got[0] != audit.ActionLoginSuccess {
		t.Fatalf("unexpected audit actions %v", got)
	}
}

func TestVerifyLockoutIgnoresCorrectSecret(t *testing.T) {
	store, aud := &memAttempts{}, &memAuditor{}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	g := newTestGate(store, aud, clock)

	for i, wantRemaining := range []int{2, 1} {
		res := verify(g, "wrong")
		if res.Success || res.Blocked || res.AttemptsRemaining == nil || *res.AttemptsRemaining != wantRemaining {
			t.Fatalf("attempt %d: unexpected result %+v", i+1, res)
		}
	}
	third := verify(g, "wrong")
	if !third.Blocked || third.BlockedUntil == nil {
		t.Fatalf("expected lockout on third failure, got %+v", third)
	}
	if want := clock.t.Add(DefaultLockoutWindow); !third.BlockedUntil.Equal(want) {
		t.Fatalf("blocked until %v, want %v", third.BlockedUntil, want)
	}

	clock.advance(time.Minute)
	res := verify(g, "s3cret")
	if res.Success || !res.Blocked {
		t.Fatalf("correct secret during lockout must be blocked, got %+v", res)
	}
	last := store.rows[len(store.rows)-1]
	if last.Success || last.BlockedUntil != nil {
		t.Fatalf("blocked attempt must be a plain failure, got %+v", last)
	}
	acts := aud.actions()
	if acts[len(acts)-1] != audit.ActionLoginBlocked {
		t.Fatalf("expected blocked audit, got %v", acts)
	}
	if details := aud.entries[2].Details; details["blocked"] != true || details["attempt_number"] != 3 {
		t.Fatalf("unexpected lockout audit details %v", details)
	}
}

func TestVerifyLockoutExpires(t *testing.T) {
	store, aud := &memAttempts{}, &memAuditor{}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	g := newTestGate(store, aud, clock)

	for i := 0; i < 3; i++ {
		verify(g, "wrong")
	}
	clock.advance(DefaultLockoutWindow + time.Second)
	if res := verify(g, "s3cret"); !res.Success {
		t.Fatalf("expected success after lockout elapsed, got %+v", res)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	store, aud := &memAttempts{}, &memAuditor{}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	g := newTestGate(store, aud, clock)

	verify(g, "wrong")
	verify(g, "wrong")
	if res := verify(g, "s3cret"); !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	res := verify(g, "wrong")
	if res.Blocked || res.AttemptsRemaining == nil || *res.AttemptsRemaining != 2 {
		t.Fatalf("single failure after success must not lock out, got %+v", res)
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	lookupBroken := &memAttempts{lookupErr: errors.New("db down")}
	if res := verify(newTestGate(lookupBroken, &memAuditor{}, clock), "s3cret"); res.Success || !res.Unavailable {
		t.Fatal("lookup failure must not grant access")
	}

	insertBroken := &memAttempts{insertErr: errors.New("db down")}
	if res := verify(newTestGate(insertBroken, &memAuditor{}, clock), "s3cret"); res.Success {
		t.Fatal("insert failure must not grant access")
	}

	auditBroken := &memAuditor{err: errors.New("audit down")}
	if res := verify(newTestGate(&memAttempts{}, auditBroken, clock), "s3cret"); res.Success || !res.Unavailable {
		t.Fatal("audit failure must not grant access")
	}

	noSecret := NewGate(&memAttempts{}, &memAuditor{}, WithClock(clock.now))
	if res := verify(noSecret, ""); res.Success {
		t.Fatal("unconfigured secret must never match")
	}
}

func TestPerAdminSecretTakesPrecedence(t *testing.T) {
	hash, err := auth.HashSecret("personal")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	g := newTestGate(&memAttempts{}, &memAuditor{}, clock, WithSecretStore(hashStore{"admin-1": hash}))

	if res := verify(g, "s3cret"); res.Success {
		t.Fatal("shared secret must not match when admin has own secret")
	}
	if res := verify(g, "personal"); !res.Success {
		t.Fatalf("expected per-admin secret to match, got %+v", res)
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	later := now.Add(5 * time.Minute)
	earlier := now.Add(-time.Minute)

	cases := []struct {
		name     string
		failures []Attempt
		blocked  bool
	}{
		{"none", nil, false},
		{"below threshold", []Attempt{{BlockedUntil: &later}, {}}, false},
		{"active", []Attempt{{}, {}, {BlockedUntil: &later}}, true},
		{"expired", []Attempt{{}, {}, {BlockedUntil: &earlier}}, false},
		{"max wins", []Attempt{{}, {BlockedUntil: &later}, {BlockedUntil: &earlier}}, true},
		{"threshold without marker", []Attempt{{}, {}, {}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Evaluate(tc.failures, 3, now); got.Blocked != tc.blocked {
				t.Fatalf("Blocked=%v, want %v (%+v)", got.Blocked, tc.blocked, got)
			}
		})
	}
}
