package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
)

// Error implements repositories.RepositoryError for database failures.
type Error struct {
	Op          string
	Code        string
	Err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("postgres %s (%s): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("postgres %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error       { return e.Err }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return e.unavailable }

// Classify wraps err with its repository category. Serialization failures, deadlocks and
// lock timeouts are unavailable so callers may retry the whole operation.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	classified := &Error{Op: op, Err: err}

	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		classified.notFound = true
	case errors.As(err, &pqErr):
		classified.Code = string(pqErr.Code)
		switch classified.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			classified.unavailable = true
		case codeUniqueViolation, codeForeignKeyViolation:
			classified.conflict = true
		}
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone):
		classified.unavailable = true
	}
	return classified
}

// NotFound builds a not-found error for op without a driver cause.
func NotFound(op, what string) error {
	return &Error{Op: op, Err: fmt.Errorf("%s not found", what), notFound: true}
}
