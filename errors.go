package dynatable

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Error kinds. Every error returned by this package matches exactly one of
// these with errors.Is.
var (
	// ErrValidation is returned when a schema or record shape is violated.
	// Operations that fail validation never reach the client.
	ErrValidation = errors.New("validation failed")
	// ErrConditionFailed is returned when a requested precondition was rejected.
	ErrConditionFailed = errors.New("condition failed")
	// ErrNotFound is returned by operations that require an existing record.
	// Read operations report absence without an error.
	ErrNotFound = errors.New("item not found")
	// ErrTransport wraps any other failure reported by the client.
	ErrTransport = errors.New("transport failure")
	// ErrEncoding is returned when a native value has no tagged representation.
	ErrEncoding = errors.New("encoding failed")
	// ErrDecode is returned when a tagged value cannot be decoded, including NULL.
	ErrDecode = errors.New("decode failed")
)

// Error describes a failed operation. Kind is one of the package error kinds
// and Err is the underlying cause, if any.
type Error struct {
	Op    string // Operation name, e.g. "create"
	Table string // Table name, empty for codec errors
	Kind  error  // Error kind
	Err   error  // Underlying cause
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Table != "" {
		msg = e.Table + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationErrorf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Err: fmt.Errorf(format, args...)}
}

func encodingErrorf(format string, args ...any) error {
	return &Error{Kind: ErrEncoding, Err: fmt.Errorf(format, args...)}
}

func decodeErrorf(format string, args ...any) error {
	return &Error{Kind: ErrDecode, Err: fmt.Errorf(format, args...)}
}

// withOp stamps the operation and table onto err. Errors of this package
// keep their kind; anything else is treated as a transport failure.
func withOp(op, table string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Op: op, Table: table, Kind: e.Kind, Err: e.Err}
	}
	return &Error{Op: op, Table: table, Kind: ErrTransport, Err: err}
}

// classify maps a client error to the package taxonomy. A rejected condition
// becomes onCondition; everything else is a transport failure.
func classify(op, table string, err error, onCondition error) error {
	var ccfe *types.ConditionalCheckFailedException
	if errors.As(err, &ccfe) {
		return &Error{Op: op, Table: table, Kind: onCondition, Err: err}
	}
	return &Error{Op: op, Table: table, Kind: ErrTransport, Err: err}
}
