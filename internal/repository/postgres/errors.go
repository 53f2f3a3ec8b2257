package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/lib/pq"

	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeExclusionViolation   = "23P01"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
)

// retryable reports whether the whole unit may be replayed.
func retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected
}

// classify turns driver errors into typed application errors. Errors that are
// already typed pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if apperrors.IsTimeout(err) {
		return apperrors.NewTransient("database operation timed out", err)
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperrors.NewTransient("database connection lost", err)
	}
	// database/sql rolls the tx back when its context ends; later statements
	// and Commit then see ErrTxDone.
	if errors.Is(err, sql.ErrTxDone) {
		return apperrors.NewTransient("transaction ended before commit", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperrors.NewTransient("database unreachable", err)
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch {
	case pqErr.Code == codeSerializationFailure || pqErr.Code == codeDeadlockDetected:
		return apperrors.NewTransient("concurrent update, retry the request", err)
	case pqErr.Code == codeExclusionViolation:
		return apperrors.NewSlotConflict("practitioner already has an appointment in this slot", err)
	case pqErr.Code == codeUniqueViolation:
		return apperrors.NewValidation("record already exists", err)
	case pqErr.Code == codeForeignKeyViolation:
		return apperrors.NewNotFound("referenced record", err)
	case pqErr.Code == codeCheckViolation:
		return apperrors.NewValidation("record violates a data constraint", err)
	case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code.Class() == "57":
		return apperrors.NewTransient("database unavailable", err)
	}
	return err
}

func notFound(resource string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound(resource, nil)
	}
	return err
}
