package utils

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	// KindValidation marks malformed or missing client input.
	KindValidation Kind = "validation"
	// KindNotFound marks a referenced record that does not exist.
	KindNotFound Kind = "not_found"
	// KindExternal marks an unreachable, rate-limited or failing upstream service.
	KindExternal Kind = "external_service"
	// KindParse marks an upstream reply that did not match the expected shape.
	KindParse Kind = "response_parse"
	// KindUnavailable marks a capability that is not configured.
	KindUnavailable Kind = "unavailable"
	// KindInternal is the fallback for unexpected failures.
	KindInternal Kind = "internal"
)

// AppError wraps an operation, a classification, a human-facing message and
// the underlying error. Detail optionally carries diagnostics such as a raw
// upstream reply.
type AppError struct {
	Kind   Kind
	Op     string
	Msg    string
	Detail string
	Err    error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// E constructs an AppError.
func E(kind Kind, op, msg string, err error) error {
	return &AppError{Kind: kind, Op: op, Msg: msg, Err: err}
}

// EDetail constructs an AppError carrying extra diagnostic detail.
func EDetail(kind Kind, op, msg, detail string, err error) error {
	return &AppError{Kind: kind, Op: op, Msg: msg, Detail: detail, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// MessageOf extracts the human-facing message from an error chain.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Msg
	}
	return "internal error"
}

// DetailOf extracts optional diagnostic detail from an error chain.
func DetailOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Detail
	}
	return ""
}
