// Package cmn provides the common types, identifiers, configuration and
// error taxonomy shared by every component of the capsule core.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the flat, transport-friendly error taxonomy: every fallible core
// operation returns (or wraps) one of these.
type Kind int

const (
	KindUnauthorized Kind = iota
	KindNotFound
	KindInvalidArgument
	KindConflict
	KindResourceExhausted
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type crossing component boundaries. The variant
// (Kind) is the source of truth; Code() is an informational HTTP-style
// numeral for callers that want one.
type Error struct {
	Kind  Kind
	Msg   string
	cause error // internal only; never rendered by Error()
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Msg)
}

// Code maps Kind to the documented HTTP-style numeric. Informational only;
// the Kind is authoritative.
func (e *Error) Code() int {
	switch e.Kind {
	case KindUnauthorized:
		return 401
	case KindNotFound:
		return 404
	case KindInvalidArgument:
		return 422
	case KindConflict:
		return 409
	case KindResourceExhausted:
		return 429
	default:
		return 500
	}
}

func Unauthorized(msg string) *Error        { return &Error{Kind: KindUnauthorized, Msg: msg} }
func NotFound(msg string) *Error            { return &Error{Kind: KindNotFound, Msg: msg} }
func InvalidArgument(msg string) *Error     { return &Error{Kind: KindInvalidArgument, Msg: msg} }
func InvalidArgumentf(f string, a ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(f, a...)}
}
func Conflict(msg string) *Error            { return &Error{Kind: KindConflict, Msg: msg} }
func ResourceExhausted(msg string) *Error   { return &Error{Kind: KindResourceExhausted, Msg: msg} }
func Internal(msg string) *Error            { return &Error{Kind: KindInternal, Msg: msg} }

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}

// WrapInternal wraps a substrate fault (buntdb, file I/O, ...) with context
// using pkg/errors, at the boundary of the failing component, and returns it
// as a Kind=Internal *Error. The wrapped cause remains available via
// errors.Cause/errors.Unwrap for internal logging; the exported Error()
// string never repeats it verbatim.
func WrapInternal(err error, context string) *Error {
	wrapped := errors.Wrap(err, context)
	return &Error{Kind: KindInternal, Msg: context, cause: wrapped}
}

func (e *Error) Unwrap() error { return e.cause }
func (e *Error) Cause() error  { return e.cause }
