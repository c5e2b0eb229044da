package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// When names are given, the violated constraint must match one of them;
// sqlite reports "table.column" rather than a constraint name, so callers
// may pass both forms.
func IsUniqueViolation(err error, names ...string) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return false
		}
		if len(names) == 0 {
			return true
		}
		for _, name := range names {
			if pgErr.ConstraintName == name {
				return true
			}
		}
		return false
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if len(names) == 0 {
		return true
	}
	for _, name := range names {
		if strings.Contains(msg, name) {
			return true
		}
	}
	return false
}
