package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine failure taxonomy. The HTTP layer maps the
// error kind to a status code; engines and the router return exactly one
// kind per failed operation, never a partial commit.
var (
	// Validation errors
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrMalformedAmount     = errors.New("malformed amount")
	ErrMissingParameter    = errors.New("missing required parameter")
	ErrQuantityOutOfBounds = errors.New("quantity outside symbol trade bounds")

	// State errors
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrSlippageExceeded      = errors.New("slippage exceeded")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotCancellable   = errors.New("order not cancellable")
	ErrDuplicateOrder        = errors.New("duplicate order")

	// Integrity errors
	ErrSymbolBindingMismatch = errors.New("operation not supported by bound engine")
	ErrEngineDisabled        = errors.New("engine disabled for symbol")

	// Transient errors
	ErrStorage            = errors.New("storage failure")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrConcurrencyAborted = errors.New("concurrent operation aborted")

	// Fatal errors
	ErrInvariantViolation = errors.New("engine invariant violation")
)

// Kind classifies an engine error for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindState
	KindIntegrity
	KindTransient
	KindFatal
)

// Error is the typed engine error carrying the taxonomy kind, the failing
// operation, and a user-facing message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// NewValidation wraps a validation failure.
func NewValidation(op, message string, cause error) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message, Cause: cause}
}

// NewState wraps a state-precondition failure.
func NewState(op, message string, cause error) *Error {
	return &Error{Kind: KindState, Op: op, Message: message, Cause: cause}
}

// NewIntegrity wraps a binding/capability mismatch.
func NewIntegrity(op, message string, cause error) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Message: message, Cause: cause}
}

// NewTransient wraps a retryable infrastructure failure.
func NewTransient(op, message string, cause error) *Error {
	return &Error{Kind: KindTransient, Op: op, Message: message, Cause: cause}
}

// NewFatal wraps an invariant violation. The router quarantines the symbol.
func NewFatal(op, message string, cause error) *Error {
	return &Error{Kind: KindFatal, Op: op, Message: message, Cause: cause}
}

// KindOf extracts the taxonomy kind from any error chain, classifying bare
// sentinels that were not wrapped in an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrUnknownSymbol),
		errors.Is(err, ErrMalformedAmount),
		errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrQuantityOutOfBounds):
		return KindValidation
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrSlippageExceeded),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOrderNotCancellable),
		errors.Is(err, ErrDuplicateOrder):
		return KindState
	case errors.Is(err, ErrSymbolBindingMismatch),
		errors.Is(err, ErrEngineDisabled):
		return KindIntegrity
	case errors.Is(err, ErrStorage),
		errors.Is(err, ErrDeadlineExceeded),
		errors.Is(err, ErrConcurrencyAborted):
		return KindTransient
	case errors.Is(err, ErrInvariantViolation):
		return KindFatal
	}
	return KindUnknown
}
