// Package errors classifies audit store failures so the flusher can decide
// between retrying and escalating.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DatabaseErrorType represents the type of database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown is an unclassified failure. Treated as transient.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeDuplicateKey is a unique constraint violation (MySQL 1062, SQLite CONSTRAINT_UNIQUE/PRIMARYKEY).
	ErrorTypeDuplicateKey
	// ErrorTypeConstraintViolation is any other constraint violation.
	ErrorTypeConstraintViolation
	// ErrorTypeDataTooLong is MySQL 1406 or SQLite TOOBIG.
	ErrorTypeDataTooLong
	// ErrorTypeNotFound is a missing row.
	ErrorTypeNotFound
	// ErrorTypeDeadlock is MySQL 1213 / 1205.
	ErrorTypeDeadlock
	// ErrorTypeBusy is SQLite BUSY/LOCKED.
	ErrorTypeBusy
	// ErrorTypeConnectionError is a network or driver connection failure.
	ErrorTypeConnectionError
	// ErrorTypeInvalidValue is a rejected column value.
	ErrorTypeInvalidValue
	// ErrorTypeStorageFull is a full disk or database.
	ErrorTypeStorageFull
	// ErrorTypeCanceled is a canceled or expired context.
	ErrorTypeCanceled
)

var typeNames = map[DatabaseErrorType]string{
	ErrorTypeUnknown:             "unknown",
	ErrorTypeDuplicateKey:        "duplicate_key",
	ErrorTypeConstraintViolation: "constraint_violation",
	ErrorTypeDataTooLong:         "data_too_long",
	ErrorTypeNotFound:            "not_found",
	ErrorTypeDeadlock:            "deadlock",
	ErrorTypeBusy:                "busy",
	ErrorTypeConnectionError:     "connection",
	ErrorTypeInvalidValue:        "invalid_value",
	ErrorTypeStorageFull:         "storage_full",
	ErrorTypeCanceled:            "canceled",
}

// String returns the metric label for t.
func (t DatabaseErrorType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "unknown"
}

// DatabaseError wraps a database error with classification information.
type DatabaseError struct {
	Type        DatabaseErrorType
	OriginalErr error
	// Code is the driver error number (MySQL error number or SQLite extended code).
	Code    int
	Message string
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// Retryable reports whether repeating the same write may succeed.
func (e *DatabaseError) Retryable() bool {
	switch e.Type {
	case ErrorTypeUnknown, ErrorTypeDeadlock, ErrorTypeBusy, ErrorTypeConnectionError:
		return true
	default:
		return false
	}
}

// ClassifyDBError classifies a store error.
//
//   - context.Canceled / DeadlineExceeded → ErrorTypeCanceled
//   - gorm.ErrRecordNotFound → ErrorTypeNotFound
//   - MySQL 1062 → ErrorTypeDuplicateKey, 1451/1452 → ErrorTypeConstraintViolation,
//     1406 → ErrorTypeDataTooLong, 1213/1205 → ErrorTypeDeadlock, 1048/1265/1366 → ErrorTypeInvalidValue,
//     1114 → ErrorTypeStorageFull
//   - SQLite BUSY/LOCKED → ErrorTypeBusy, CONSTRAINT → duplicate or violation, FULL → ErrorTypeStorageFull,
//     TOOBIG → ErrorTypeDataTooLong
//   - connection-looking messages → ErrorTypeConnectionError
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &DatabaseError{Type: ErrorTypeCanceled, OriginalErr: err, Message: "operation canceled"}
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{Type: ErrorTypeNotFound, OriginalErr: err, Message: "record not found"}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return classifySQLiteError(sqliteErr)
	}

	if errors.Is(err, mysql.ErrInvalidConn) || isConnectionError(err.Error()) {
		return &DatabaseError{Type: ErrorTypeConnectionError, OriginalErr: err, Message: "database connection error"}
	}

	return &DatabaseError{Type: ErrorTypeUnknown, OriginalErr: err, Message: "unknown database error"}
}

func classifyMySQLError(err *mysql.MySQLError) *DatabaseError {
	dbErr := &DatabaseError{OriginalErr: err, Code: int(err.Number)}
	switch err.Number {
	case 1062: // ER_DUP_ENTRY
		dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
	case 1451, 1452: // ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
		dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "foreign key constraint violation"
	case 1406: // ER_DATA_TOO_LONG
		dbErr.Type, dbErr.Message = ErrorTypeDataTooLong, "data too long for column"
	case 1213, 1205: // ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		dbErr.Type, dbErr.Message = ErrorTypeDeadlock, "lock conflict"
	case 1048, 1265, 1366: // ER_BAD_NULL_ERROR, ER_WARN_DATA_TRUNCATED, ER_TRUNCATED_WRONG_VALUE
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "invalid or truncated value"
	case 1114: // ER_RECORD_FILE_FULL
		dbErr.Type, dbErr.Message = ErrorTypeStorageFull, "table is full"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "MySQL error"
	}
	return dbErr
}

func classifySQLiteError(err *sqlite.Error) *DatabaseError {
	code := err.Code()
	dbErr := &DatabaseError{OriginalErr: err, Code: code}
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		dbErr.Type, dbErr.Message = ErrorTypeDuplicateKey, "duplicate key constraint violation"
		return dbErr
	}

	// primary result code lives in the low byte
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		dbErr.Type, dbErr.Message = ErrorTypeBusy, "database is locked"
	case sqlite3.SQLITE_CONSTRAINT:
		dbErr.Type, dbErr.Message = ErrorTypeConstraintViolation, "constraint violation"
	case sqlite3.SQLITE_FULL:
		dbErr.Type, dbErr.Message = ErrorTypeStorageFull, "database or disk is full"
	case sqlite3.SQLITE_TOOBIG:
		dbErr.Type, dbErr.Message = ErrorTypeDataTooLong, "value too big"
	case sqlite3.SQLITE_MISMATCH:
		dbErr.Type, dbErr.Message = ErrorTypeInvalidValue, "datatype mismatch"
	default:
		dbErr.Type, dbErr.Message = ErrorTypeUnknown, "SQLite error"
	}
	return dbErr
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connection lost",
	"can't connect",
	"dial tcp",
	"bad connection",
}

func isConnectionError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether err is worth retrying. nil is not.
func IsRetryable(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Retryable()
}

// IsDuplicateKeyError checks if the error is a duplicate key constraint violation.
func IsDuplicateKeyError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeDuplicateKey
}

// IsNotFoundError checks if the error is a record not found error.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}
