// Package errs defines the error-kind taxonomy the storage and transaction
// core distinguishes, per the error handling design. Every error the core
// returns is an *Error carrying a Kind, the failing Op and an optional
// wrapped cause; callers branch on the Kind with Is or KindOf, and the
// wrapped cause stays reachable through errors.Is/errors.As. Only the
// standard library is used, no third-party error library.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch on failure category
// without string matching.
type Kind int

const (
	// Unknown is the zero value; never returned by the core itself.
	Unknown Kind = iota
	IoFailure
	CorruptPage
	BufferFull
	PageNotFound
	PagePinned
	TableExists
	TableNotFound
	ColumnNotFound
	IndexExists
	IndexNotFound
	RecordTooLarge
	DuplicateKey
	TransactionNotFound
	TransactionNotActive
	TransactionAlreadyEnded
	LockConflict
	LockTimeout
	Deadlock
	InvalidArgument
)

func (k Kind) String() string {
	switch k {
	case IoFailure:
		return "IoFailure"
	case CorruptPage:
		return "CorruptPage"
	case BufferFull:
		return "BufferFull"
	case PageNotFound:
		return "PageNotFound"
	case PagePinned:
		return "PagePinned"
	case TableExists:
		return "TableExists"
	case TableNotFound:
		return "TableNotFound"
	case ColumnNotFound:
		return "ColumnNotFound"
	case IndexExists:
		return "IndexExists"
	case IndexNotFound:
		return "IndexNotFound"
	case RecordTooLarge:
		return "RecordTooLarge"
	case DuplicateKey:
		return "DuplicateKey"
	case TransactionNotFound:
		return "TransactionNotFound"
	case TransactionNotActive:
		return "TransactionNotActive"
	case TransactionAlreadyEnded:
		return "TransactionAlreadyEnded"
	case LockConflict:
		return "LockConflict"
	case LockTimeout:
		return "LockTimeout"
	case Deadlock:
		return "Deadlock"
	case InvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned across the core's public API.
// Op names the failing operation (e.g. "buffer.FetchPage"); Err, when non-nil, is
// the wrapped underlying cause and participates in errors.Is/errors.As via
// Unwrap.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an Error carrying an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or Unknown if err is not (and does not
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
