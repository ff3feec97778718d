package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrValidation    = errors.New("validation error")
)

// ErrorCode is the public, stable identifier of a command failure
type ErrorCode string

const (
	CodeSessionNotFound          ErrorCode = "SESSION_NOT_FOUND"
	CodeTopicNotFound            ErrorCode = "TOPIC_NOT_FOUND"
	CodeParticipantNotFound      ErrorCode = "PARTICIPANT_NOT_FOUND"
	CodeDeviceNotFound           ErrorCode = "DEVICE_NOT_FOUND"
	CodeVoteAlreadyExists        ErrorCode = "VOTE_ALREADY_EXISTS"
	CodeVoteNotFound             ErrorCode = "VOTE_NOT_FOUND"
	CodeParticipantAlreadyExists ErrorCode = "PARTICIPANT_ALREADY_EXISTS"
	CodeSessionAlreadyCompleted  ErrorCode = "SESSION_ALREADY_COMPLETED"
	CodeInvalidStatusTransition  ErrorCode = "INVALID_STATUS_TRANSITION"
	CodeValidation               ErrorCode = "VALIDATION_ERROR"
	CodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// kind maps a code to the sentinel it unwraps to
func (c ErrorCode) kind() error {
	switch c {
	case CodeSessionNotFound, CodeTopicNotFound, CodeParticipantNotFound, CodeDeviceNotFound:
		return ErrNotFound
	case CodeVoteAlreadyExists, CodeParticipantAlreadyExists:
		return ErrAlreadyExists
	case CodeVoteNotFound, CodeSessionAlreadyCompleted, CodeInvalidStatusTransition:
		return ErrConflict
	case CodeValidation:
		return ErrValidation
	}
	return nil
}

// Error is a domain failure surfaced unchanged to the caller
type Error struct {
	Code    ErrorCode
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Code.kind() }

// NewError creates a domain error with the given code
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field, message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "validation failed",
		Fields:  map[string]string{field: message},
	}
}

// NewValidationErrors creates a validation error from a field -> message map
func NewValidationErrors(fields map[string]string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: "validation failed",
		Fields:  fields,
	}
}

// CodeOf returns the error code carried by err, or CodeInternal
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
