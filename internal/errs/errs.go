// Package errs defines the failure kinds boardpm reports and how they map
// to exit codes. Messages keep the CODE: prefix convention used across the
// tool so log lines stay grep-able.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfiguration     Kind = "ConfigurationError"
	KindRefNotFound       Kind = "RefNotFound"
	KindRemoteUnreachable Kind = "RemoteUnreachable"
	KindCloneFailed       Kind = "CloneFailed"
	KindCommitNotFound    Kind = "CommitNotFound"
	KindInvalidPlugin     Kind = "InvalidPlugin"
	KindPreservation      Kind = "PreservationFailure"
	KindNotInstalled      Kind = "NotInstalled"
	KindCanceled          Kind = "Canceled"
)

// Error is a classified failure. Plugin is empty for run-wide failures.
type Error struct {
	Kind   Kind
	Code   string
	Plugin string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Plugin != "" {
		msg += " [" + e.Plugin + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.KindX) match on kind alone.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (k Kind) Error() string { return string(k) }

func New(kind Kind, code string, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// WithPlugin returns a copy of err tagged with the plugin id. Errors that are
// not classified are returned unchanged.
func WithPlugin(err error, id string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Plugin = id
	return &cp
}

// KindOf reports the kind of the outermost classified error in the chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Fatal reports whether err must halt a whole run instead of being skipped
// for a single plugin.
func Fatal(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindConfiguration || k == KindPreservation)
}

func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch k, _ := KindOf(err); k {
	case KindConfiguration:
		return 2
	case KindPreservation:
		return 3
	case KindCanceled:
		return 130
	default:
		return 1
	}
}
