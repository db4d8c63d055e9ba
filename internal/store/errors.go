package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Sentinel errors. Callers test with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrUniqueViolation   = errors.New("unique constraint violation")
	ErrForeignKey        = errors.New("foreign key violation")
	ErrCheckViolation    = errors.New("check constraint violation")
	ErrFieldTypeMismatch = errors.New("field type is immutable")
	ErrStale             = errors.New("row changed since it was read")
)

// ConstraintError is a constraint violation reported by SQLite. Kind is one
// of the sentinels above; Constraint names the failing columns or index.
type ConstraintError struct {
	Op         string
	Kind       error
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Constraint)
}

func (e *ConstraintError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify wraps err with op, mapping SQLite constraint failures to a
// *ConstraintError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		var kind error
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			kind = ErrUniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			kind = ErrForeignKey
		case sqlite3.ErrConstraintCheck:
			kind = ErrCheckViolation
		}
		if kind != nil {
			return &ConstraintError{
				Op:         op,
				Kind:       kind,
				Constraint: constraintName(se.Error()),
				Err:        err,
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// constraintName strips SQLite's "UNIQUE constraint failed: " style prefix.
func constraintName(msg string) string {
	if _, rest, ok := strings.Cut(msg, "constraint failed: "); ok {
		return rest
	}
	return msg
}

// IsUnique reports whether err is a uniqueness violation.
func IsUnique(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ConstraintOf returns the constraint named by err, or "".
func ConstraintOf(err error) string {
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return ce.Constraint
	}
	return ""
}
