// Package smerrors defines the error taxonomy shared by all SampleMind
// components. Errors carry a Kind used for retry and degradation decisions.
package smerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling decisions.
type Kind string

const (
	// KindInvalidInput marks caller mistakes: bad paths, dimensions, levels.
	KindInvalidInput Kind = "invalid_input"

	// KindNotFound marks lookups for records that do not exist.
	KindNotFound Kind = "not_found"

	// KindTransient marks failures expected to succeed on retry.
	KindTransient Kind = "transient"

	// KindUpstream marks failures of an external dependency (Redis,
	// Postgres, AI provider, ffmpeg).
	KindUpstream Kind = "upstream"

	// KindExhausted marks failures after all retries or fallbacks ran out.
	KindExhausted Kind = "exhausted"

	// KindCorrupt marks unreadable or tampered stored data.
	KindCorrupt Kind = "corrupt"

	// KindPartial marks batch operations where some items failed.
	KindPartial Kind = "partial"

	// KindInternal marks bugs and invariant violations.
	KindInternal Kind = "internal"
)

// Error is the module's wrapped error type.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches errors by Kind so callers can use errors.Is with sentinel kinds.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Component == "" || t.Component == e.Component)
}

// New constructs an Error without a cause.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, component, format string, args ...any) *Error {
	return &Error{Kind: kind, Component: component, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind and component to an existing error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, kind Kind, component, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Message: message, Cause: err}
}

// KindOf extracts the Kind from err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUpstream:
		return true
	}
	return false
}
