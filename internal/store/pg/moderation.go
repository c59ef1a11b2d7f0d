package pg

import (
	"context"

	"tradejournal.app/internal/ban"
)

func (s *Store) UpsertBan(ctx context.Context, rec ban.Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_bans (user_id, banned_by, reason, is_permanent, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (user_id) do update
		set banned_by = excluded.banned_by,
		    reason = excluded.reason,
		    is_permanent = excluded.is_permanent,
		    expires_at = excluded.expires_at,
		    created_at = excluded.created_at
	`, rec.UserID, rec.BannedBy, rec.Reason, rec.IsPermanent, nullTime(rec.ExpiresAt), rec.CreatedAt.UTC())
	return translate(err)
}

// DeleteBan succeeds when no ban exists.
func (s *Store) DeleteBan(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from user_bans where user_id = $1`, userID)
	return translate(err)
}

// SetAccountDisabled is the local identity provider: a disabled account
// cannot sign in or refresh tokens.
func (s *Store) SetAccountDisabled(ctx context.Context, userID string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts set disabled = $2, updated_at = now() where user_id = $1
	`, userID, disabled)
	if err != nil {
		return translate(err)
	}
	return affectedOne(res)
}

func (s *Store) SetProfileDisabled(ctx context.Context, userID string, disabled bool) error {
	res, err := s.db.ExecContext(ctx, `
		update profiles set is_disabled = $2, updated_at = now() where user_id = $1
	`, userID, disabled)
	if err != nil {
		return translate(err)
	}
	return affectedOne(res)
}
