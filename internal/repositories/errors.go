package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the requested user or video does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a duplicate username, filename or video id.
	ErrConflict = errors.New("record conflict")
)

const (
	pgUniqueViolation    = "23505"
	sqliteConstraintCode = 19
)

// isUniqueViolation reports whether err is a uniqueness failure from either
// SQL backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqliteConstraintCode
	}
	return false
}
