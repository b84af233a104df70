package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the collaboration layers.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrAccessDenied     = errors.New("access denied")
	ErrPermissionDenied = errors.New("no edit permission")
	ErrNotFound         = errors.New("not found")
	ErrPersistence      = errors.New("persistence failure")
	ErrProtocol         = errors.New("protocol error")
)

// ErrorCode is the machine readable code sent in "error" frames.
type ErrorCode string

const (
	CodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	CodeAccessDenied     ErrorCode = "ACCESS_DENIED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodePersistence      ErrorCode = "PERSISTENCE_ERROR"
	CodeProtocol         ErrorCode = "PROTOCOL_ERROR"
	CodeInternal         ErrorCode = "INTERNAL"
)

// ProtocolError describes a malformed or out-of-order client message.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Detail }

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

func NewProtocolError(format string, args ...any) *ProtocolError {
	return &ProtocolError{Detail: fmt.Sprintf(format, args...)}
}

// CodeFor maps an error to its wire code.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrAccessDenied):
		return CodeAccessDenied
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	default:
		return CodeInternal
	}
}

// PublicMessage is the text shown to clients. Internal details stay in the logs.
func PublicMessage(err error) string {
	switch CodeFor(err) {
	case CodeUnauthorized:
		return "Authentication required"
	case CodeAccessDenied:
		return "Access denied"
	case CodePermissionDenied:
		return "No edit permission"
	case CodeNotFound:
		return "Document not found"
	case CodePersistence:
		return "Document temporarily unavailable"
	case CodeProtocol:
		return err.Error()
	default:
		return "Internal error"
	}
}
