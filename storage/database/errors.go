package database

import (
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
)

// IsUniqueViolation reports whether err was raised by the named unique constraint.
// An empty constraint matches any unique violation.
func IsUniqueViolation(err error, constraint string) bool {
	return isViolation(err, uniqueViolation, constraint)
}

// IsForeignKeyViolation reports whether err was raised by the named foreign key.
// An empty constraint matches any foreign key violation.
func IsForeignKeyViolation(err error, constraint string) bool {
	return isViolation(err, foreignKeyViolation, constraint)
}

func isViolation(err error, code pq.ErrorCode, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == code && (constraint == "" || pqErr.Constraint == constraint)
}
