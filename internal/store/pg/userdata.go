package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/gateway"
)

const listLimit = 500

type dataQuery struct {
	table  string
	order  string
	single bool
}

var dataQueries = map[gateway.DataType]dataQuery{
	gateway.DataProfile:    {table: "profiles", single: true},
	gateway.DataSettings:   {table: "user_settings", single: true},
	gateway.DataTrades:     {table: "trades", order: "opened_at"},
	gateway.DataJournal:    {table: "journal_entries", order: "created_at"},
	gateway.DataChallenges: {table: "trading_challenges", order: "started_at"},
	gateway.DataSessions:   {table: "user_sessions", order: "last_seen_at"},
}

func (q dataQuery) sql() string {
	if q.single {
		return fmt.Sprintf(`select to_jsonb(t) from %s t where t.user_id = $1`, q.table)
	}
	return fmt.Sprintf(`
		select coalesce(jsonb_agg(to_jsonb(t) order by t.%[2]s desc), '[]'::jsonb)
		from (select * from %[1]s where user_id = $1 order by %[2]s desc limit %[3]d) t
	`, q.table, q.order, listLimit)
}

// FetchUserData returns the raw JSON rows of one user. Every query is keyed
// by user_id; the table name comes from the fixed map above, never the caller.
func (s *Store) FetchUserData(ctx context.Context, dataType gateway.DataType, userID string) (any, error) {
	q, ok := dataQueries[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: unknown data type %q", access.ErrValidation, dataType)
	}
	var raw []byte
	err := s.db.QueryRowContext(ctx, q.sql(), userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, translate(err)
	}
	return json.RawMessage(raw), nil
}
