package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/challenge"
)

// HasRole reads user_roles directly. Malformed ids simply have no roles.
func (s *Store) HasRole(ctx context.Context, userID, role string) (bool, error) {
	if !access.ValidUserID(userID) {
		return false, nil
	}
	var ok bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from user_roles where user_id = $1 and role = $2)
	`, userID, role).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// GrantRole is idempotent.
func (s *Store) GrantRole(ctx context.Context, userID, role string) error {
	if !access.ValidUserID(userID) {
		return fmt.Errorf("%w: user id must be a UUID", access.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role) values ($1, $2)
		on conflict (user_id, role) do nothing
	`, userID, role)
	return translate(err)
}

func (s *Store) SecretHash(ctx context.Context, adminID string) (string, bool, error) {
	if !access.ValidUserID(adminID) {
		return "", false, nil
	}
	var hash string
	err := s.db.QueryRowContext(ctx, `select secret_hash from admin_secrets where admin_id = $1`, adminID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// SetSecretHash stores a bcrypt hash for one admin, replacing any previous one.
func (s *Store) SetSecretHash(ctx context.Context, adminID, hash string) error {
	if !access.ValidUserID(adminID) {
		return fmt.Errorf("%w: admin id must be a UUID", access.ErrValidation)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into admin_secrets (admin_id, secret_hash, updated_at)
		values ($1, $2, now())
		on conflict (admin_id) do update
		set secret_hash = excluded.secret_hash, updated_at = now()
	`, adminID, hash)
	return translate(err)
}

// FailuresSinceLastSuccess returns failed attempts newer than the admin's
// latest success, oldest first.
func (s *Store) FailuresSinceLastSuccess(ctx context.Context, adminID string) ([]challenge.Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, admin_id, attempted_at, ip, user_agent, success, blocked_until
		from admin_challenge_attempts
		where admin_id = $1
		  and not success
		  and attempted_at > coalesce(
		      (select max(attempted_at) from admin_challenge_attempts where admin_id = $1 and success),
		      '-infinity'::timestamptz)
		order by attempted_at asc
	`, adminID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var res []challenge.Attempt
	for rows.Next() {
		var (
			a       challenge.Attempt
			blocked sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.AdminID, &a.AttemptedAt, &a.IP, &a.UserAgent, &a.Success, &blocked); err != nil {
			return nil, err
		}
		if blocked.Valid {
			t := blocked.Time.UTC()
			a.BlockedUntil = &t
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (s *Store) InsertAttempt(ctx context.Context, a *challenge.Attempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into admin_challenge_attempts (id, admin_id, attempted_at, ip, user_agent, success, blocked_until)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.AdminID, a.AttemptedAt.UTC(), a.IP, a.UserAgent, a.Success, nullTime(a.BlockedUntil))
	return translate(err)
}
