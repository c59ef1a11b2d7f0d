package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"tradejournal.app/internal/ids"
	"tradejournal.app/internal/risk"
)

func (s *Store) SaveAssessment(ctx context.Context, rec risk.Record) error {
	factors := rec.Assessment.Factors
	if factors == nil {
		factors = []string{}
	}
	raw, err := json.Marshal(factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	a := rec.Assessment
	_, err = s.db.ExecContext(ctx, `
		insert into connection_assessments
			(id, user_id, ip, is_admin_access, risk_score, risk_level, risk_factors,
			 action_taken, connection_masked, degraded, assessed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ids.NewAt(rec.AssessedAt), rec.UserID, rec.IP, rec.IsAdminAccess, a.Score, string(a.Level), raw,
		string(a.Action), a.ConnectionMasked, a.Degraded, rec.AssessedAt.UTC())
	return translate(err)
}
