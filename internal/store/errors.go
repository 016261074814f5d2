package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrorCode categorizes store failures.
type ErrorCode string

const (
	// ErrCodeConstraint indicates a unique or primary key violation.
	ErrCodeConstraint ErrorCode = "CONSTRAINT"

	// ErrCodeNotOpen indicates an operation on a closed database.
	ErrCodeNotOpen ErrorCode = "NOT_OPEN"

	// ErrCodeNoSuchTable indicates a table that is not part of the open schema.
	ErrCodeNoSuchTable ErrorCode = "NO_SUCH_TABLE"

	// ErrCodeNotIndexed indicates a lookup on a property without an index.
	ErrCodeNotIndexed ErrorCode = "NOT_INDEXED"

	// ErrCodeInvalidKey indicates a document without a usable primary key.
	ErrCodeInvalidKey ErrorCode = "INVALID_KEY"

	// ErrCodeReadOnly indicates a write inside a read transaction.
	ErrCodeReadOnly ErrorCode = "READ_ONLY"

	// ErrCodeSchema indicates an invalid version declaration.
	ErrCodeSchema ErrorCode = "SCHEMA"

	// ErrCodeVersion indicates the declared version is below the stored one.
	ErrCodeVersion ErrorCode = "VERSION"

	// ErrCodeUpgrade indicates an upgrade the store cannot perform.
	ErrCodeUpgrade ErrorCode = "UPGRADE"
)

// Error is a structured store failure. Err holds the driver error, if any.
type Error struct {
	Code    ErrorCode
	Table   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Table != "" {
		msg += fmt.Sprintf(" (table=%s)", e.Table)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsConstraint reports whether err is a unique or primary key violation.
func IsConstraint(err error) bool {
	return hasCode(err, ErrCodeConstraint)
}

// IsNotIndexed reports whether err is a lookup on an unindexed property.
func IsNotIndexed(err error) bool {
	return hasCode(err, ErrCodeNotIndexed)
}

// IsNotOpen reports whether err was caused by a closed database.
func IsNotOpen(err error) bool {
	return hasCode(err, ErrCodeNotOpen)
}

// IsUpgradeError reports whether err is a version or upgrade failure.
func IsUpgradeError(err error) bool {
	return hasCode(err, ErrCodeUpgrade) || hasCode(err, ErrCodeVersion)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// mapDriverError converts driver errors into *Error where a code applies.
// Constraint violations are recognised by their SQLite result code.
func mapDriverError(err error, table string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &Error{Code: ErrCodeConstraint, Table: table, Message: "constraint violated", Err: err}
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return &Error{Code: ErrCodeNotOpen, Table: table, Message: "database connection closed", Err: err}
	}
	return err
}

func errNotOpen(table string) error {
	return &Error{Code: ErrCodeNotOpen, Table: table, Message: "database is not open"}
}
