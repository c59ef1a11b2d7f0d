package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tradejournal.app/internal/access"
	"tradejournal.app/internal/audit"
	"tradejournal.app/internal/ban"
	"tradejournal.app/internal/challenge"
	"tradejournal.app/internal/gateway"
	"tradejournal.app/internal/risk"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrInvalidText         = "22P02"
)

// ErrConflict is returned when a row with the same key already exists.
var ErrConflict = errors.New("pg: conflict")

// Store is the Postgres implementation of every gateway storage interface.
type Store struct {
	db *sql.DB
}

var (
	_ access.RoleStore       = (*Store)(nil)
	_ audit.Store            = (*Store)(nil)
	_ challenge.AttemptStore = (*Store)(nil)
	_ challenge.SecretStore  = (*Store)(nil)
	_ ban.Store              = (*Store)(nil)
	_ ban.IdentityProvider   = (*Store)(nil)
	_ ban.ProfileStore       = (*Store)(nil)
	_ gateway.Repository     = (*Store)(nil)
	_ risk.Recorder          = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle, e.g. sqlmock in tests.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// translate maps constraint violations onto the shared error classes.
func translate(err error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return ErrConflict
	case pgErrForeignKeyViolation:
		return access.ErrNotFound
	case pgErrInvalidText:
		return access.ErrValidation
	}
	return err
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return access.ErrNotFound
	}
	return nil
}
