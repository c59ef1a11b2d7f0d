package ban

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/obs"
)

// Record is the current ban of one user. At most one exists per user.
type Record struct {
	UserID      string
	BannedBy    string
	Reason      string
	IsPermanent bool
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

// Input describes a ban request.
type Input struct {
	TargetUserID string
	Reason       string
	IsPermanent  bool
	ExpiresAt    *time.Time
}

// IdentityProvider controls whether an account can sign in at all.
type IdentityProvider interface {
	SetAccountDisabled(ctx context.Context, userID string, disabled bool) error
}

// Store holds ban records.
type Store interface {
	UpsertBan(ctx context.Context, rec Record) error
	DeleteBan(ctx context.Context, userID string) error
}

// ProfileStore flips the non-punitive suspension flag.
type ProfileStore interface {
	SetProfileDisabled(ctx context.Context, userID string, disabled bool) error
}

// Auditor is the subset of audit.Log the service writes to.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) (audit.Entry, error)
}

// Authorizer re-checks the admin role on every call.
type Authorizer interface {
	RequireAdmin(ctx context.Context, caller access.Caller) error
}

// Service bans, unbans, disables and enables user accounts.
type Service struct {
	authz    Authorizer
	audit    Auditor
	idp      IdentityProvider
	bans     Store
	profiles ProfileStore
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires the ban service.
func NewService(authz Authorizer, auditor Auditor, idp IdentityProvider, bans Store, profiles ProfileStore, opts ...Option) *Service {
	s := &Service{authz: authz, audit: auditor, idp: idp, bans: bans, profiles: profiles, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ban disables the account at the identity provider and records the ban.
// A ban without an expiry is open-ended and stored as permanent.
func (s *Service) Ban(ctx context.Context, caller access.Caller, in Input) error {
	const action = "ban"
	target, err := s.precheck(ctx, caller, in.TargetUserID, action)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	rec := Record{
		UserID:      target,
		BannedBy:    caller.UserID,
		Reason:      strings.TrimSpace(in.Reason),
		IsPermanent: in.IsPermanent,
		CreatedAt:   now,
	}
	switch {
	case in.IsPermanent:
	case in.ExpiresAt == nil:
		rec.IsPermanent = true
	case !in.ExpiresAt.After(now):
		err := fmt.Errorf("%w: expires_at must be in the future", access.ErrValidation)
		s.observe(action, err)
		return err
	default:
		exp := in.ExpiresAt.UTC()
		rec.ExpiresAt = &exp
	}

	details := map[string]any{"reason": rec.Reason, "is_permanent": rec.IsPermanent}
	if rec.ExpiresAt != nil {
		details["expires_at"] = rec.ExpiresAt.Format(time.RFC3339)
	}
	if err := s.record(ctx, caller, target, audit.ActionBanUser, details); err != nil {
		s.observe(action, err)
		return err
	}

	if err := s.idp.SetAccountDisabled(ctx, target, true); err != nil {
		err = fmt.Errorf("%w: disable account: %v", access.ErrUpstreamUnavailable, err)
		s.observe(action, err)
		s.log(caller, target).Error("identity provider rejected ban", zap.Error(err))
		return err
	}
	if err := s.bans.UpsertBan(ctx, rec); err != nil {
		return s.partial(ctx, caller, target, action, err)
	}
	s.observe(action, nil)
	return nil
}

// Unban re-enables the account and removes the ban record.
func (s *Service) Unban(ctx context.Context, caller access.Caller, targetUserID string) error {
	const action = "unban"
	target, err := s.precheck(ctx, caller, targetUserID, action)
	if err != nil {
		return err
	}
	if err := s.record(ctx, caller, target, audit.ActionUnbanUser, nil); err != nil {
		s.observe(action, err)
		return err
	}
	if err := s.idp.SetAccountDisabled(ctx, target, false); err != nil {
		err = fmt.Errorf("%w: enable account: %v", access.ErrUpstreamUnavailable, err)
		s.observe(action, err)
		s.log(caller, target).Error("identity provider rejected unban", zap.Error(err))
		return err
	}
	if err := s.bans.DeleteBan(ctx, target); err != nil {
		return s.partial(ctx, caller, target, action, err)
	}
	s.observe(action, nil)
	return nil
}

// Disable suspends the profile without creating a ban.
func (s *Service) Disable(ctx context.Context, caller access.Caller, targetUserID string) error {
	return s.setProfile(ctx, caller, targetUserID, true)
}

// Enable lifts a profile suspension.
func (s *Service) Enable(ctx context.Context, caller access.Caller, targetUserID string) error {
	return s.setProfile(ctx, caller, targetUserID, false)
}

func (s *Service) setProfile(ctx context.Context, caller access.Caller, targetUserID string, disabled bool) error {
	action, event := "enable", audit.ActionEnableUser
	if disabled {
		action, event = "disable", audit.ActionDisableUser
	}
	target, err := s.precheck(ctx, caller, targetUserID, action)
	if err != nil {
		return err
	}
	if err := s.record(ctx, caller, target, event, nil); err != nil {
		s.observe(action, err)
		return err
	}
	if err := s.profiles.SetProfileDisabled(ctx, target, disabled); err != nil {
		s.observe(action, err)
		s.log(caller, target).Error("profile flag update failed", zap.String("action", action), zap.Error(err))
		if errors.Is(err, access.ErrNotFound) {
			return err
		}
		return fmt.Errorf("set profile disabled: %w", err)
	}
	s.observe(action, nil)
	return nil
}

// precheck runs the shared ordering: identity, self-target, admin role, id syntax.
func (s *Service) precheck(ctx context.Context, caller access.Caller, targetUserID, action string) (string, error) {
	if !caller.Authenticated() {
		s.observe(action, access.ErrUnauthenticated)
		return "", access.ErrUnauthenticated
	}
	target := strings.TrimSpace(targetUserID)
	if target != "" && strings.EqualFold(target, strings.TrimSpace(caller.UserID)) {
		err := fmt.Errorf("%w: cannot %s yourself", access.ErrInvalidOperation, action)
		s.observe(action, err)
		s.log(caller, target).Warn("self-targeted moderation refused", zap.String("action", action))
		return "", err
	}
	if err := s.authz.RequireAdmin(ctx, caller); err != nil {
		s.observe(action, err)
		s.log(caller, target).Warn("moderation denied", zap.String("action", action), zap.String("reason", access.Reason(err)))
		return "", err
	}
	if target == "" {
		err := fmt.Errorf("%w: user_id is required", access.ErrValidation)
		s.observe(action, err)
		return "", err
	}
	if !access.ValidUserID(target) {
		err := fmt.Errorf("%w: user_id must be a UUID", access.ErrValidation)
		s.observe(action, err)
		return "", err
	}
	return target, nil
}

func (s *Service) partial(ctx context.Context, caller access.Caller, target, action string, cause error) error {
	s.log(caller, target).Error("ban state diverged: identity provider updated, ban record not",
		zap.String("action", action),
		zap.Error(cause),
	)
	if err := s.record(ctx, caller, target, audit.ActionBanPartialFailure, map[string]any{
		"operation": action,
		"error":     cause.Error(),
	}); err != nil {
		s.log(caller, target).Error("partial failure audit failed", zap.Error(err))
	}
	err := fmt.Errorf("%w: %s ban record: %v", access.ErrPartialFailure, action, cause)
	s.observe(action, err)
	return err
}

func (s *Service) record(ctx context.Context, caller access.Caller, target, event string, details map[string]any) error {
	_, err := s.audit.Record(ctx, audit.Entry{
		AdminID:      caller.UserID,
		TargetUserID: target,
		Action:       event,
		Resource:     "user_bans",
		IP:           caller.IP,
		UserAgent:    caller.UserAgent,
		RequestID:    caller.RequestID,
		Details:      details,
	})
	if err != nil && !errors.Is(err, access.ErrAuditFailure) {
		err = fmt.Errorf("%w: %v", access.ErrAuditFailure, err)
	}
	return err
}

func (s *Service) observe(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = access.Reason(err)
	}
	obs.ObserveBan(action, outcome)
}

func (s *Service) log(caller access.Caller, target string) *zap.Logger {
	return obs.Logger().With(
		zap.String("admin_id", caller.UserID),
		zap.String("target_user_id", target),
		zap.String("request_id", caller.RequestID),
	)
}
