package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Kind labels used in batch reports, metrics and HTTP mapping.
const (
	KindParse           = "parse"
	KindValidation      = "validation"
	KindDuplicateKey    = "duplicate_key"
	KindNotFound        = "not_found"
	KindExternalService = "external_service"
	KindIO              = "io"
	KindConflict        = "conflict"
	KindCanceled        = "canceled"
	KindUnknown         = "unknown"
)

// ErrParse is returned when an input record cannot be decoded
type ErrParse struct {
	Input string
	Err   error
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ErrParse) Unwrap() error { return e.Err }

// ErrValidation is returned when validation fails
type ErrValidation struct {
	Message string
	Fields  map[string]string
}

func (e *ErrValidation) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

// ErrDuplicateKey is returned when a write violates a unique constraint
type ErrDuplicateKey struct {
	Field string
	Value string
	Err   error
}

func (e *ErrDuplicateKey) Error() string {
	if e.Field == "" {
		return "duplicate key"
	}
	if e.Value == "" {
		return fmt.Sprintf("duplicate key: %s", e.Field)
	}
	return fmt.Sprintf("duplicate key: %s %q already exists", e.Field, e.Value)
}

func (e *ErrDuplicateKey) Unwrap() error { return e.Err }

// ErrNotFound is returned when a resource is not found
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService is returned when a call to a third-party API fails
type ErrExternalService struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ErrExternalService) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed: %d - %s", e.Service, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s request failed: %s", e.Service, e.Message)
}

func (e *ErrExternalService) Unwrap() error { return e.Err }

// ErrIO is returned for filesystem or object storage failures
type ErrIO struct {
	Op   string
	Path string
	Err  error
}

func (e *ErrIO) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ErrIO) Unwrap() error { return e.Err }

// ErrConflict is returned when there's a conflict (e.g. an operation already in flight)
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "conflict"
}

// KindOf returns the stable kind label of err.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var (
		parseErr    *ErrParse
		validErr    *ErrValidation
		dupErr      *ErrDuplicateKey
		notFoundErr *ErrNotFound
		extErr      *ErrExternalService
		ioErr       *ErrIO
		conflictErr *ErrConflict
	)
	switch {
	case stderrors.As(err, &parseErr):
		return KindParse
	case stderrors.As(err, &validErr):
		return KindValidation
	case stderrors.As(err, &dupErr):
		return KindDuplicateKey
	case stderrors.As(err, &notFoundErr):
		return KindNotFound
	case stderrors.As(err, &extErr):
		return KindExternalService
	case stderrors.As(err, &ioErr):
		return KindIO
	case stderrors.As(err, &conflictErr):
		return KindConflict
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindUnknown
	}
}

func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsDuplicateKey(err error) bool { return KindOf(err) == KindDuplicateKey }
func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsConflict(err error) bool     { return KindOf(err) == KindConflict }
