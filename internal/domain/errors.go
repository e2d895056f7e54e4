package domain

import (
	"errors"
	"fmt"
)

// Engine error codes. Everything that crosses the engine boundary carries one
// of these; raw transport errors never do.
const (
	CodeValidation              = "validation"
	CodeCalendarNotConfigured   = "calendar_not_configured"
	CodeCalendarAuthFailed      = "calendar_auth_failed"
	CodeCalendarUnreachable     = "calendar_unreachable"
	CodeCalendarRequestRejected = "calendar_request_rejected"
	CodeCalendarBadRequest      = "calendar_bad_request"
	CodeSlotUnavailable         = "slot_unavailable"
	CodeSlotLocked              = "slot_locked"
	CodeSlotLockFailed          = "slot_lock_failed"
)

type Error struct {
	Code string
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.Code + ": " + e.msg + ": " + e.err.Error()
	}
	return e.Code + ": " + e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Message() string {
	return e.msg
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

func WrapError(code string, err error, msg string) *Error {
	return &Error{Code: code, msg: msg, err: err}
}

// CodeOf returns the engine error code carried by err, or "" when err is nil
// or not an engine error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
