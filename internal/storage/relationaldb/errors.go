package relationaldb

import (
	"errors"
	"fmt"
	"strings"
)

// Error types for different categories of database errors
var (
	// Configuration errors
	ErrMissingHost           = errors.New("database host is required")
	ErrMissingDatabase       = errors.New("database name is required")
	ErrMissingUsername       = errors.New("database username is required")
	ErrInvalidPort           = errors.New("invalid database port")
	ErrInvalidDriver         = errors.New("invalid database driver")
	ErrInvalidMaxOpenConns   = errors.New("max open connections must be >= 0")
	ErrInvalidMaxIdleConns   = errors.New("max idle connections must be >= 0")
	ErrMaxIdleExceedsMaxOpen = errors.New("max idle connections cannot exceed max open connections")
	ErrInvalidTimeout        = errors.New("timeout must be positive")

	// Connection errors
	ErrDatabaseClosed    = errors.New("database connection is closed")
	ErrConnectionFailed  = errors.New("failed to connect to database")
	ErrConnectionTimeout = errors.New("database connection timeout")

	// Transaction errors
	ErrTransactionClosed       = errors.New("transaction is closed")
	ErrTransactionRollback     = errors.New("transaction was rolled back")
	ErrTransactionCommitFailed = errors.New("transaction commit failed")
	ErrDeadlock                = errors.New("database deadlock detected")

	// Data errors
	ErrUserNotFound    = errors.New("user not found")
	ErrSymbolNotFound  = errors.New("symbol not found")
	ErrPoolNotFound    = errors.New("pool not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrTradeNotFound   = errors.New("trade not found")
	ErrBalanceNotFound = errors.New("balance not found")
	ErrDuplicateEntry  = errors.New("duplicate entry")

	// Constraint errors
	ErrConstraintViolation = errors.New("database constraint violation")
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrCheckViolation      = errors.New("check constraint violation")
)

// ErrorType represents different categories of database errors
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConfiguration
	ErrorTypeConnection
	ErrorTypeTransaction
	ErrorTypeData
	ErrorTypeConstraint
	ErrorTypeQuery
)

// DatabaseError provides detailed information about database errors
type DatabaseError struct {
	Type      ErrorType `json:"type"`
	Operation string    `json:"operation"`
	Message   string    `json:"message"`
	Cause     error     `json:"cause,omitempty"`
	Retryable bool      `json:"retryable"`
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Operation, e.Message)
}

// Unwrap returns the underlying cause error
func (e *DatabaseError) Unwrap() error {
	return e.Cause
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(errorType ErrorType, operation, message string, cause error) *DatabaseError {
	return &DatabaseError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableError(errorType, cause),
	}
}

// NewConnectionError creates a connection error
func NewConnectionError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeConnection, operation, message, cause)
}

// NewTransactionError creates a transaction error
func NewTransactionError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeTransaction, operation, message, cause)
}

// NewDataError creates a data error
func NewDataError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeData, operation, message, cause)
}

// NewConstraintError creates a constraint error
func NewConstraintError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeConstraint, operation, message, cause)
}

// NewQueryError creates a query error
func NewQueryError(operation, message string, cause error) *DatabaseError {
	return NewDatabaseError(ErrorTypeQuery, operation, message, cause)
}

func isRetryableError(errorType ErrorType, cause error) bool {
	switch errorType {
	case ErrorTypeConnection:
		return true
	case ErrorTypeTransaction:
		if cause != nil {
			s := strings.ToLower(cause.Error())
			return strings.Contains(s, "deadlock") || strings.Contains(s, "timeout") ||
				strings.Contains(s, "serialization") || strings.Contains(s, "locked")
		}
		return false
	default:
		return false
	}
}

// IsNotFound reports whether err indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSymbolNotFound) ||
		errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrTradeNotFound) ||
		errors.Is(err, ErrBalanceNotFound)
}

// IsConstraintError checks if an error is a constraint error
func IsConstraintError(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) && dbErr.Type == ErrorTypeConstraint {
		return true
	}
	return errors.Is(err, ErrConstraintViolation) ||
		errors.Is(err, ErrUniqueViolation) ||
		errors.Is(err, ErrDuplicateEntry)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return dbErr.Retryable
	}

	if err != nil {
		s := strings.ToLower(err.Error())
		retryablePatterns := []string{
			"connection refused",
			"connection reset",
			"database is locked",
			"deadlock",
			"serialization",
			"busy",
		}
		for _, pattern := range retryablePatterns {
			if strings.Contains(s, pattern) {
				return true
			}
		}
	}

	return false
}

// WrapError wraps an existing error with database error context
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		newErr := *dbErr
		newErr.Operation = operation
		return &newErr
	}

	s := strings.ToLower(err.Error())
	var errorType ErrorType
	var retryable bool

	switch {
	case strings.Contains(s, "connection") || strings.Contains(s, "connect"):
		errorType = ErrorTypeConnection
		retryable = true
	case strings.Contains(s, "deadlock") || strings.Contains(s, "locked"):
		errorType = ErrorTypeTransaction
		retryable = true
	case strings.Contains(s, "constraint") || strings.Contains(s, "duplicate") || strings.Contains(s, "unique"):
		errorType = ErrorTypeConstraint
	case strings.Contains(s, "not found") || strings.Contains(s, "no rows"):
		errorType = ErrorTypeData
	default:
		errorType = ErrorTypeUnknown
	}

	return &DatabaseError{
		Type:      errorType,
		Operation: operation,
		Message:   err.Error(),
		Cause:     err,
		Retryable: retryable,
	}
}
