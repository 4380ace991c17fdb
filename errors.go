package nrbf

import (
	"errors"
	"fmt"
)

var (
	ErrUnexpectedNullRecordCount = errors.New("unexpected null record count")
	ErrInvalidPrimitiveTag       = errors.New("invalid primitive type tag")
	ErrInvalidArrayElementTag    = errors.New("invalid array element type tag")
	ErrArrayLengthExceedsLimit   = errors.New("array length exceeds limit")
	ErrUnexpectedNullInArray     = errors.New("unexpected null in array")
	ErrTypeMismatch              = errors.New("root record type mismatch")
	ErrUnexpectedEndOfStream     = errors.New("unexpected end of stream")
	ErrDuplicateIdentifier       = errors.New("duplicate object id")
	ErrDanglingReference         = errors.New("dangling reference")

	ErrUnexpectedRecord      = errors.New("unexpected record")
	ErrInvalidRecordTag      = errors.New("invalid record type tag")
	ErrInvalidMemberTypeTag  = errors.New("invalid member type tag")
	ErrUnsupportedRecord     = errors.New("unsupported record type")
	ErrInvalidLength         = errors.New("invalid length")
	ErrInvalidIdentifier     = errors.New("invalid object id")
	ErrInvalidPrimitiveValue = errors.New("invalid primitive value")
	ErrInvalidTypeName       = errors.New("invalid type name")
	ErrDisallowedArray       = errors.New("array shape not allowed")
	ErrDisallowedRoot        = errors.New("root record type not allowed")
	ErrUnsupportedValue      = errors.New("unsupported value")

	ErrLimitExceeded            = errors.New("limit exceeded")
	ErrMemberCountExceedsLimit  = errors.New("member count exceeds limit")
	ErrArrayRankExceedsLimit    = errors.New("array rank exceeds limit")
	ErrStringLengthExceedsLimit = errors.New("string length exceeds limit")
	ErrDepthExceedsLimit        = errors.New("nesting depth exceeds limit")
	ErrNullSlotsExceedLimit     = errors.New("null run expansion exceeds limit")
)

// Error carries the operation and stream offset of a codec failure.
// Cause is one of the package sentinels, possibly wrapped in a
// LimitError or TypeMismatchError.
type Error struct {
	Op     string
	Offset int64
	Cause  error
}

func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("nrbf %s at offset %d: %v", e.Op, e.Offset, e.Cause)
	}
	return fmt.Sprintf("nrbf %s: %v", e.Op, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// LimitError reports a configured limit that the input exceeded.
type LimitError struct {
	Kind   error // ErrArrayLengthExceedsLimit, ErrMemberCountExceedsLimit, ...
	Limit  int
	Actual int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v: limit %d, actual %d", e.Kind, e.Limit, e.Actual)
}

func (e *LimitError) Unwrap() []error {
	return []error{e.Kind, ErrLimitExceeded}
}

// TypeMismatchError reports a root retrieval for the wrong record kind.
type TypeMismatchError struct {
	Expected string
	Actual   RecordType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%v: expected %s, got %s", ErrTypeMismatch, e.Expected, e.Actual)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

func newError(op string, offset int64, cause error) *Error {
	return &Error{
		Op:     op,
		Offset: offset,
		Cause:  cause,
	}
}

func wrapError(op string, err error) *Error {
	return &Error{
		Op:     op,
		Offset: -1,
		Cause:  err,
	}
}

func limitError(kind error, limit int, actual int64) *LimitError {
	return &LimitError{Kind: kind, Limit: limit, Actual: actual}
}

// detail attaches context to a sentinel while keeping it matchable.
func detail(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
