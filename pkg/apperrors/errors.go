package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDatabaseNotMapped      = errors.New("database not mapped")
	ErrNotImplemented         = errors.New("not implemented")
	ErrUnsupportedBackend     = errors.New("unsupported backend")
	ErrCredentialsKeyMismatch = errors.New("connection string was encrypted with a different key")
	// ErrAccessTokenRequired means the database connects as the caller and the request has no
	// usable access token.
	ErrAccessTokenRequired = errors.New("user access token required")
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindValidation is a caller error: bad input or an illegal shape/output combination.
	KindValidation Kind = "validation"
	// KindConfiguration is a fatal problem with the stored query or database configuration.
	KindConfiguration Kind = "configuration"
	// KindPlugin is a pre/post-processor failure.
	KindPlugin Kind = "plugin"
	// KindBackend is a failure reported by the database driver.
	KindBackend Kind = "backend"
)

// Error wraps an error with a kind and a human-friendly message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *Error             { return &Error{Kind: kind, Message: msg} }

// Validation returns a KindValidation error with a formatted message.
func Validation(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Configuration returns a KindConfiguration error with a formatted message.
func Configuration(format string, args ...any) *Error {
	return New(KindConfiguration, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
