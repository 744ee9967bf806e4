package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyDBError_MySQL(t *testing.T) {
	tests := []struct {
		name      string
		number    uint16
		wantType  DatabaseErrorType
		retryable bool
	}{
		{"duplicate entry", 1062, ErrorTypeDuplicateKey, false},
		{"child row", 1452, ErrorTypeConstraintViolation, false},
		{"parent row", 1451, ErrorTypeConstraintViolation, false},
		{"data too long", 1406, ErrorTypeDataTooLong, false},
		{"deadlock", 1213, ErrorTypeDeadlock, true},
		{"lock wait timeout", 1205, ErrorTypeDeadlock, true},
		{"null column", 1048, ErrorTypeInvalidValue, false},
		{"truncated", 1366, ErrorTypeInvalidValue, false},
		{"table full", 1114, ErrorTypeStorageFull, false},
		{"other", 1999, ErrorTypeUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbErr := ClassifyDBError(&mysql.MySQLError{Number: tt.number, Message: tt.name})
			require.NotNil(t, dbErr)
			assert.Equal(t, tt.wantType, dbErr.Type)
			assert.Equal(t, int(tt.number), dbErr.Code)
			assert.Equal(t, tt.retryable, dbErr.Retryable())
			assert.Contains(t, dbErr.Error(), fmt.Sprintf("code %d", tt.number))
		})
	}
}

func TestClassifyDBError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("append batch: %w", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"})

	dbErr := ClassifyDBError(wrapped)
	require.NotNil(t, dbErr)
	assert.Equal(t, ErrorTypeDeadlock, dbErr.Type)
	var mysqlErr *mysql.MySQLError
	assert.True(t, errors.As(dbErr, &mysqlErr))
	assert.True(t, IsRetryable(wrapped))
}

func TestClassifyDBError_NotFoundAndCanceled(t *testing.T) {
	assert.True(t, IsNotFoundError(gorm.ErrRecordNotFound))
	assert.False(t, IsRetryable(gorm.ErrRecordNotFound))

	dbErr := ClassifyDBError(fmt.Errorf("query: %w", context.DeadlineExceeded))
	require.NotNil(t, dbErr)
	assert.Equal(t, ErrorTypeCanceled, dbErr.Type)
	assert.False(t, dbErr.Retryable())
	assert.False(t, IsRetryable(context.Canceled))
}

func TestClassifyDBError_ConnectionError(t *testing.T) {
	for _, msg := range []string{
		"dial tcp 10.0.0.1:3306: connect: connection refused",
		"read tcp: connection reset by peer",
		"write tcp: broken pipe",
		"read: i/o timeout",
		"dial tcp: lookup mysql.internal: no such host",
		"driver: Bad Connection",
	} {
		t.Run(msg, func(t *testing.T) {
			dbErr := ClassifyDBError(errors.New(msg))
			require.NotNil(t, dbErr)
			assert.Equal(t, ErrorTypeConnectionError, dbErr.Type)
			assert.True(t, dbErr.Retryable())
		})
	}

	assert.Equal(t, ErrorTypeConnectionError, ClassifyDBError(mysql.ErrInvalidConn).Type)
}

func TestClassifyDBError_UnknownAndNil(t *testing.T) {
	assert.Nil(t, ClassifyDBError(nil))
	assert.False(t, IsRetryable(nil))

	dbErr := ClassifyDBError(errors.New("disk hiccup"))
	assert.Equal(t, ErrorTypeUnknown, dbErr.Type)
	assert.Equal(t, "unknown database error: disk hiccup", dbErr.Error())
	assert.True(t, dbErr.Retryable())
}

func TestIsDuplicateKeyError(t *testing.T) {
	assert.True(t, IsDuplicateKeyError(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsDuplicateKeyError(&mysql.MySQLError{Number: 1213}))
	assert.False(t, IsDuplicateKeyError(nil))
}

func TestDatabaseErrorType_String(t *testing.T) {
	assert.Equal(t, "deadlock", ErrorTypeDeadlock.String())
	assert.Equal(t, "busy", ErrorTypeBusy.String())
	assert.Equal(t, "unknown", DatabaseErrorType(99).String())
}
