package usecase

import "fmt"

type ErrorCode string

const (
	// Caller errors, never retried.
	ErrorInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrorInvalidParticipants ErrorCode = "INVALID_PARTICIPANTS"
	ErrorNotFound            ErrorCode = "NOT_FOUND"

	// Store unavailable on the critical path. The whole send is safe to
	// retry: resolution is idempotent and every append uses a fresh id.
	ErrorResolutionFailed ErrorCode = "CONVERSATION_RESOLUTION_FAILED"
	ErrorMessageWrite     ErrorCode = "MESSAGE_WRITE_FAILED"

	ErrorInternal ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
