package challenge

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/auth"
	"tradejournal.app/internal/ids"
	"tradejournal.app/internal/obs"
)

const (
	DefaultMaxAttempts   = 3
	DefaultLockoutWindow = 10 * time.Minute
)

const (
	msgGranted     = "Access granted"
	msgInvalid     = "Invalid secret"
	msgBlocked     = "Too many failed attempts. Try again later."
	msgUnavailable = "Verification unavailable"
)

// Attempt is one immutable challenge attempt.
type Attempt struct {
	ID           string
	AdminID      string
	AttemptedAt  time.Time
	IP           string
	UserAgent    string
	Success      bool
	BlockedUntil *time.Time
}

// AttemptStore persists attempts. Rows are never updated or deleted.
type AttemptStore interface {
	// FailuresSinceLastSuccess returns the failed attempts recorded after the
	// admin's most recent success (or all failures when there is none).
	FailuresSinceLastSuccess(ctx context.Context, adminID string) ([]Attempt, error)
	InsertAttempt(ctx context.Context, attempt *Attempt) error
}

// SecretStore resolves a per-admin bcrypt hash. found=false means none is set.
type SecretStore interface {
	SecretHash(ctx context.Context, adminID string) (hash string, found bool, err error)
}

// Auditor is the subset of audit.Log the gate writes to.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Input is a single verification request.
type Input struct {
	AdminID   string
	Secret    string
	IP        string
	UserAgent string
}

// Result is what the caller may learn about the attempt.
type Result struct {
	Success           bool       `json:"success"`
	Blocked           bool       `json:"blocked,omitempty"`
	AttemptsRemaining *int       `json:"attemptsRemaining,omitempty"`
	BlockedUntil      *time.Time `json:"blocked_until,omitempty"`
	Message           string     `json:"message"`

	// Unavailable marks a fail-closed result caused by storage or audit errors.
	Unavailable bool `json:"-"`
}

func unavailable() Result {
	return Result{Unavailable: true, Message: msgUnavailable}
}

// Lockout is derived from attempt history and never stored.
type Lockout struct {
	Failures     int
	BlockedUntil *time.Time
	Blocked      bool
}

// Evaluate derives the lockout state from the failures since the last success.
func Evaluate(failures []Attempt, maxAttempts int, now time.Time) Lockout {
	state := Lockout{Failures: len(failures)}
	for _, f := range failures {
		if f.Success || f.BlockedUntil == nil {
			continue
		}
		if state.BlockedUntil == nil || f.BlockedUntil.After(*state.BlockedUntil) {
			until := *f.BlockedUntil
			state.BlockedUntil = &until
		}
	}
	state.Blocked = state.Failures >= maxAttempts && state.BlockedUntil != nil && now.Before(*state.BlockedUntil)
	return state
}

// Gate verifies the second-factor admin secret with lockout.
//
// Two concurrent attempts for the same admin may read the same failure count,
// so the lockout can engage one attempt late.
type Gate struct {
	attempts     AttemptStore
	secrets      SecretStore
	sharedDigest []byte
	audit        Auditor
	maxAttempts  int
	window       time.Duration
	now          func() time.Time
}

// Option configures Gate.
type Option func(*Gate)

// WithSharedSecret sets the fallback secret used when an admin has no own hash.
func WithSharedSecret(secret string) Option {
	return func(g *Gate) {
		if secret == "" {
			g.sharedDigest = nil
			return
		}
		sum := sha256.Sum256([]byte(secret))
		g.sharedDigest = sum[:]
	}
}

// WithSecretStore enables per-admin bcrypt secrets.
func WithSecretStore(s SecretStore) Option {
	return func(g *Gate) { g.secrets = s }
}

// WithLimits overrides the attempt threshold and lockout window.
func WithLimits(maxAttempts int, window time.Duration) Option {
	return func(g *Gate) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if window > 0 {
			g.window = window
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(g *Gate) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGate constructs a Gate.
func NewGate(attempts AttemptStore, auditor Auditor, opts ...Option) *Gate {
	g := &Gate{
		attempts:    attempts,
		audit:       auditor,
		maxAttempts: DefaultMaxAttempts,
		window:      DefaultLockoutWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Verify runs one challenge attempt. Storage or audit errors fail closed.
func (g *Gate) Verify(ctx context.Context, in Input) Result {
	in.AdminID = strings.TrimSpace(in.AdminID)
	if in.AdminID == "" {
		obs.ObserveChallenge("error")
		return unavailable()
	}
	log := obs.Logger().With(
		zap.String("admin_id", in.AdminID),
		zap.String("ip", in.IP),
		zap.String("request_id", audit.RequestIDFromContext(ctx)),
	)

	failures, err := g.attempts.FailuresSinceLastSuccess(ctx, in.AdminID)
	if err != nil {
		log.Error("challenge history lookup failed", zap.Error(err))
		obs.ObserveChallenge("error")
		return unavailable()
	}
	now := g.now().UTC()
	state := Evaluate(failures, g.maxAttempts, now)

	if state.Blocked {
		return g.rejectBlocked(ctx, log, in, state, now)
	}

	match, err := g.matches(ctx, in.AdminID, in.Secret)
	if err != nil {
		log.Error("challenge secret lookup failed", zap.Error(err))
		obs.ObserveChallenge("error")
		return unavailable()
	}
	if match {
		return g.accept(ctx, log, in, now)
	}
	return g.reject(ctx, log, in, state, now)
}

func (g *Gate) rejectBlocked(ctx context.Context, log *zap.Logger, in Input, state Lockout, now time.Time) Result {
	attempt := g.newAttempt(in, now, false, nil)
	if err := g.attempts.InsertAttempt(ctx, &attempt); err != nil {
		log.Error("challenge attempt insert failed", zap.Error(err))
	}
	if _, err := g.audit.Record(ctx, audit.Entry{
		AdminID:   in.AdminID,
		Action:    audit.ActionLoginBlocked,
		Resource:  "admin_challenge",
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Details: map[string]any{
			"attempt_number": state.Failures + 1,
			"blocked_until":  state.BlockedUntil.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		log.Error("challenge blocked audit failed", zap.Error(err))
	}
	log.Warn("admin challenge blocked", zap.Time("blocked_until", *state.BlockedUntil))
	obs.ObserveChallenge("blocked")
	return Result{Blocked: true, BlockedUntil: state.BlockedUntil, Message: msgBlocked}
}

func (g *Gate) accept(ctx context.Context, log *zap.Logger, in Input, now time.Time) Result {
	attempt := g.newAttempt(in, now, true, nil)
	if err := g.attempts.InsertAttempt(ctx, &attempt); err != nil {
		log.Error("challenge attempt insert failed", zap.Error(err))
		obs.ObserveChallenge("error")
		return unavailable()
	}
	if _, err := g.audit.Record(ctx, audit.Entry{
		AdminID:   in.AdminID,
		Action:    audit.ActionLoginSuccess,
		Resource:  "admin_challenge",
		IP:        in.IP,
		UserAgent: in.UserAgent,
	}); err != nil {
		log.Error("challenge success audit failed", zap.Error(err))
		obs.ObserveChallenge("error")
		return unavailable()
	}
	obs.ObserveChallenge("success")
	return Result{Success: true, Message: msgGranted}
}

func (g *Gate) reject(ctx context.Context, log *zap.Logger, in Input, state Lockout, now time.Time) Result {
	failures := state.Failures + 1
	blocked := failures >= g.maxAttempts
	var until *time.Time
	if blocked {
		t := now.Add(g.window)
		until = &t
	}

	attempt := g.newAttempt(in, now, false, until)
	if err := g.attempts.InsertAttempt(ctx, &attempt); err != nil {
		log.Error("challenge attempt insert failed", zap.Error(err))
		obs.ObserveChallenge("error")
		return unavailable()
	}
	if _, err := g.audit.Record(ctx, audit.Entry{
		AdminID:   in.AdminID,
		Action:    audit.ActionLoginFailed,
		Resource:  "admin_challenge",
		IP:        in.IP,
		UserAgent: in.UserAgent,
		Details: map[string]any{
			"attempt_number": failures,
			"blocked":        blocked,
		},
	}); err != nil {
		log.Error("challenge failure audit failed", zap.Error(err))
	}

	if blocked {
		log.Warn("admin challenge lockout engaged", zap.Int("failures", failures), zap.Time("blocked_until", *until))
		obs.ObserveChallenge("blocked")
		return Result{Blocked: true, BlockedUntil: until, Message: msgBlocked}
	}
	remaining := g.maxAttempts - failures
	obs.ObserveChallenge("failure")
	return Result{AttemptsRemaining: &remaining, Message: msgInvalid}
}

func (g *Gate) matches(ctx context.Context, adminID, secret string) (bool, error) {
	if g.secrets != nil {
		hash, found, err := g.secrets.SecretHash(ctx, adminID)
		if err != nil {
			return false, err
		}
		if found {
			return auth.CompareSecret(hash, secret), nil
		}
	}
	if len(g.sharedDigest) == 0 || secret == "" {
		return false, nil
	}
	sum := sha256.Sum256([]byte(secret))
	return subtle.ConstantTimeCompare(sum[:], g.sharedDigest) == 1, nil
}

func (g *Gate) newAttempt(in Input, now time.Time, success bool, until *time.Time) Attempt {
	return Attempt{
		ID:           ids.NewAt(now),
		AdminID:      in.AdminID,
		AttemptedAt:  now,
		IP:           in.IP,
		UserAgent:    in.UserAgent,
		Success:      success,
		BlockedUntil: until,
	}
}
