package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a repository, commit or mapping id does
	// not resolve to a row.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateMapping is returned when a create would give a commit a
	// second active mapping. The partial unique index on mappings makes
	// this decision atomically, so exactly one of two concurrent creates
	// for the same commit receives it.
	ErrDuplicateMapping = errors.New("commit already mapped")

	// ErrDuplicateRepository is returned when a connection with the same
	// URL already exists.
	ErrDuplicateRepository = errors.New("repository already connected")
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
