package model

import "errors"

// Kind is a stable, machine-readable error classification (§7).
type Kind string

const (
	KindConflict        Kind = "conflict"
	KindStaleCommitment Kind = "stale-commitment"
	KindNotFound        Kind = "not-found"
	KindInvalidPayload  Kind = "invalid-payload"
	KindInternal        Kind = "internal"
)

// Error is the core's error type. Every error the engines return can be
// matched against one of the Err* sentinels below with errors.Is.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Msg == ""
}

// NewError builds an Error of the given kind.
func NewError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError builds an Error of the given kind wrapping a lower-level cause.
func WrapError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

// Sentinels for errors.Is comparisons against a bare kind, e.g.
// errors.Is(err, model.ErrConflict).
var (
	ErrConflict        = &Error{Kind: KindConflict}
	ErrStaleCommitment = &Error{Kind: KindStaleCommitment}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrInvalidPayload  = &Error{Kind: KindInvalidPayload}
	ErrInternal        = &Error{Kind: KindInternal}
)
