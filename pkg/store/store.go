// Package store implements PostgreSQL persistence for jobs, books,
// characters and intermediate pipeline artifacts.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a postgres unique-constraint
// violation, letting callers turn insert races into replays.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Store bundles all persistence operations over one connection pool.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over the given database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }
