// Package chaterr defines the error kinds surfaced by user actions.
package chaterr

import (
	"errors"
	"fmt"
)

type Code string

const (
	Validation       Code = "VALIDATION"
	Auth             Code = "AUTH"
	PermissionDenied Code = "PERMISSION_DENIED"
	Cancelled        Code = "CANCELLED"
	Upload           Code = "UPLOAD"
	Write            Code = "WRITE"
	CacheWrite       Code = "CACHE_WRITE"
	Acquisition      Code = "ACQUISITION"
)

// Object store failures distinguished in upload fallback prompts.
var (
	ErrStorageUnauthorized = errors.New("storage: unauthorized")
	ErrStorageCanceled     = errors.New("storage: canceled")
	ErrStorageUnknown      = errors.New("storage: unknown")
)

// Error carries a code, a user-displayable reason, and the underlying cause.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// Is reports whether any error in err's chain is an *Error with code.
func Is(err error, code Code) bool {
	for err != nil {
		var ce *Error
		if !errors.As(err, &ce) {
			return false
		}
		if ce.Code == code {
			return true
		}
		err = ce.Err
	}
	return false
}

// Reason returns the user-facing reason for err, or err.Error() when err is
// not part of the taxonomy.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) && ce.Reason != "" {
		return ce.Reason
	}
	return err.Error()
}

// Silent reports whether err should not be shown to the user. Cancellation
// is not treated as a failure.
func Silent(err error) bool {
	return err == nil || Is(err, Cancelled)
}
