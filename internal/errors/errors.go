// Package errors provides the error codes surfaced by the note archive.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Callers branch on the code, not on
// the message.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Corruption: fatal to opening a document
	ErrDeserialize  ErrorCode = "DESERIALIZE_ERROR"
	ErrCouldNotOpen ErrorCode = "COULD_NOT_OPEN"

	// Not-found errors, recoverable at the call site
	ErrNoSuchPage          ErrorCode = "NO_SUCH_PAGE"
	ErrNoSuchText          ErrorCode = "NO_SUCH_TEXT"
	ErrNoSuchTemplateKey   ErrorCode = "NO_SUCH_TEMPLATE_KEY"
	ErrNoSuchTemplateClass ErrorCode = "NO_SUCH_TEMPLATE_CLASS"

	// Policy errors: retry later
	ErrNotWriteable ErrorCode = "NOT_WRITEABLE"

	// Storage errors
	ErrStorage ErrorCode = "STORAGE_ERROR"

	// Backup errors
	ErrInvalidPassword  ErrorCode = "INVALID_PASSWORD"
	ErrCorruptedArchive ErrorCode = "CORRUPTED_ARCHIVE"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any AppError in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// NoSuchPage reports a missing page identifier.
func NoSuchPage(pageID string) *AppError {
	return Newf(ErrNoSuchPage, "no such page %q", pageID)
}

// NoSuchText reports a content hash absent from the archive.
func NoSuchText(hash string) *AppError {
	return Newf(ErrNoSuchText, "no snippet with hash %s", hash)
}

// Deserialize reports a malformed or inconsistent archive serialization.
func Deserialize(format string, args ...interface{}) *AppError {
	return Newf(ErrDeserialize, format, args...)
}
