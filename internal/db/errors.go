package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the stores react to.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeAdminShutdown        = "57P01"
	CodeCannotConnectNow     = "57P03"
)

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return HasCode(err, CodeUniqueViolation)
}

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return HasCode(err, CodeForeignKeyViolation)
}

// IsTransient reports whether err is a PostgreSQL error that is safe to
// retry: serialization failures, deadlocks, lock timeouts, server restarts
// and connection exceptions (class 08).
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable,
		CodeAdminShutdown, CodeCannotConnectNow:
		return true
	}
	return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
}

// HasCode reports whether err wraps a *pgconn.PgError with the given code.
func HasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
