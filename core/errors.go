package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// ErrorKind classifies the failures the API surfaces to its callers.
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindUnauthorized
	KindForbidden
	KindWindowClosed
	KindNotRegistered
	KindAlreadySubmitted
	KindSelfDeleteForbidden
	KindConflict
	KindEraseFailed
)

var kindNames = map[ErrorKind]string{
	KindNotFound:            "NotFound",
	KindUnauthorized:        "Unauthorized",
	KindForbidden:           "Forbidden",
	KindWindowClosed:        "WindowClosed",
	KindNotRegistered:       "NotRegistered",
	KindAlreadySubmitted:    "AlreadySubmitted",
	KindSelfDeleteForbidden: "SelfDeleteForbidden",
	KindConflict:            "StorageConflict",
	KindEraseFailed:         "EraseFailed",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// AppError is a domain failure with a human-readable message.
// Two AppErrors match with errors.Is when they are the same value,
// or when the target has no message and the kinds are equal.
type AppError struct {
	Kind ErrorKind
	Msg  string
	Err  error // diagnostic cause; never shown to API callers
}

func NewAppError(kind ErrorKind, msg string) *AppError {
	return &AppError{Kind: kind, Msg: msg}
}

// WithCause returns a copy of err carrying cause for diagnostics.
func (err *AppError) WithCause(cause error) *AppError {
	return &AppError{Kind: err.Kind, Msg: err.Msg, Err: cause}
}

func (err *AppError) Error() string {
	if err.Err != nil {
		return err.Msg + ": " + err.Err.Error()
	}
	return err.Msg
}

func (err *AppError) Unwrap() error { return err.Err }

func (err *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Msg == "" {
		return t.Kind == err.Kind
	}
	return t.Kind == err.Kind && t.Msg == err.Msg
}

// KindOf returns the ErrorKind of the first AppError in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return 0
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
