package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"tradejournal.app/internal/audit"
)

// Append commits one audit row. Returning nil means the row is durable.
func (s *Store) Append(ctx context.Context, e *audit.Entry) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = raw
	}
	_, err := s.db.ExecContext(ctx, `
		insert into admin_audit_log
			(id, admin_id, target_user_id, action, resource, ip, user_agent, request_id, occurred_at, details)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.AdminID, nullIfEmpty(e.TargetUserID), e.Action, nullIfEmpty(e.Resource),
		nullIfEmpty(e.IP), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID), e.OccurredAt.UTC(), details)
	return translate(err)
}
