package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("postgres: not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("postgres: duplicate")

// ErrHasChildren is returned when deleting a menu that still has child
// menus; the tree must be pruned leaf-first.
var ErrHasChildren = errors.New("postgres: menu has children")

// isUniqueViolation reports whether the error is a Postgres 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
