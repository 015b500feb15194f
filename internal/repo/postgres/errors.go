package postgres

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError

	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// canonicalIDs rewrites each id to the lowercase hyphenated UUID form and
// reports whether all of them parsed. uuid.Parse accepts spellings such as
// urn:uuid: that Postgres rejects with 22P02, so no id reaches a query
// unnormalized. A false result can never match a row; callers short-circuit
// to their not-found error.
func canonicalIDs(ids ...*string) bool {
	for _, id := range ids {
		parsed, err := uuid.Parse(strings.TrimSpace(*id))
		if err != nil {
			return false
		}
		*id = parsed.String()
	}
	return true
}
