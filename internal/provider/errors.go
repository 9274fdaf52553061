package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/vecbench/internal/domain"
)

// ErrorKind classifies a failed provider call.
type ErrorKind string

// Failure kinds recorded per operation.
const (
	KindTimeout         ErrorKind = "timeout"
	KindUnavailable     ErrorKind = "unavailable"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindRateLimited     ErrorKind = "rate_limited"
	KindUnknown         ErrorKind = "unknown"
)

// Kinds lists every failure kind in a stable order.
var Kinds = []ErrorKind{KindTimeout, KindUnavailable, KindInvalidArgument, KindRateLimited, KindUnknown}

var (
	// ErrNotFound is returned by QueryByID for an absent document. It is the
	// domain sentinel so callers can match either.
	ErrNotFound = domain.ErrNotFound
	// ErrUnsupported is returned by optional operations a backend lacks.
	ErrUnsupported = errors.New("provider: operation not supported")
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err under op. A nil err stays nil; ErrNotFound and
// existing *Error values pass through unchanged.
func Wrap(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error without an underlying cause.
func Errorf(kind ErrorKind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies any error. nil and ErrNotFound have no kind.
func KindOf(err error) ErrorKind {
	if err == nil || errors.Is(err, ErrNotFound) {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// SetupError reports a schema creation failure. It aborts the run.
type SetupError struct {
	Provider   string
	Collection string
	Err        error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s/%s: %v", e.Provider, e.Collection, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
