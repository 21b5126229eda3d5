package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for routing and logging.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindAuthorization
	KindState
	KindUpstream
	KindPersistence
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindUpstream:
		return "upstream"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// Code is a machine-readable error code sent to clients.
type Code string

const (
	CodeInvalidWorldID     Code = "INVALID_WORLD_ID"
	CodeInvalidRegionID    Code = "INVALID_REGION_ID"
	CodeInvalidLocationID  Code = "INVALID_LOCATION_ID"
	CodeInvalidPCID        Code = "INVALID_PC_ID"
	CodeInvalidCharacterID Code = "INVALID_CHARACTER_ID"
	CodeInvalidUserID      Code = "INVALID_USER_ID"
	CodeInvalidRequestID   Code = "INVALID_REQUEST_ID"
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
	CodeInvalidRole        Code = "INVALID_ROLE"
	CodeInvalidTTL         Code = "INVALID_TTL"

	CodeWorldNotFound     Code = "WORLD_NOT_FOUND"
	CodeRegionNotFound    Code = "REGION_NOT_FOUND"
	CodeLocationNotFound  Code = "LOCATION_NOT_FOUND"
	CodeCharacterNotFound Code = "CHARACTER_NOT_FOUND"
	CodePCNotFound        Code = "PC_NOT_FOUND"

	CodeNotAuthorized    Code = "NOT_AUTHORIZED"
	CodeNotInSession     Code = "NOT_IN_SESSION"
	CodeAlreadyInSession Code = "ALREADY_IN_SESSION"
	CodeStagingNotFound  Code = "STAGING_NOT_FOUND"

	CodeGenerationFailed Code = "GENERATION_FAILED"
	CodeActionFailed     Code = "ACTION_FAILED"
	CodeInternal         Code = "INTERNAL"
)

// Error is a classified, client-reportable failure.
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns a copy of e caused by err.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// Is matches another *Error by code so callers can use sentinel values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Validation returns a validation error.
func Validation(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a not-found error.
func NotFound(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized returns an authorization error.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeNotAuthorized, Message: fmt.Sprintf(format, args...)}
}

// StateError returns a state error such as a stale request.
func StateError(code Code, format string, args ...any) *Error {
	return &Error{Kind: KindState, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a failure of an external collaborator.
func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstream, Code: CodeGenerationFailed, Message: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels usable with errors.Is.
var (
	ErrNotInSession    = &Error{Kind: KindState, Code: CodeNotInSession, Message: "not in a session"}
	ErrStagingNotFound = &Error{Kind: KindState, Code: CodeStagingNotFound, Message: "staging request not found"}
	ErrNotAuthorized   = &Error{Kind: KindAuthorization, Code: CodeNotAuthorized, Message: "director role required"}
)

// AsError extracts a *Error from err. Unclassified errors become INTERNAL.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}
