// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package faults implements the error taxonomy consumed by the retry
// policy, the session handler, and the query cursor. It is a single
// tagged sum type rather than a hierarchy of distinct error types: every
// collaborator that needs to branch on error kind does so by switching on
// Kind, never by type-asserting a concrete Go error type.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for retry and status-reporting purposes.
type Kind int

const (
	// KindUnknown is the zero value and must never be returned deliberately.
	KindUnknown Kind = iota

	// Transient kinds: retried under a RetryPolicy.
	KindNetwork
	KindThrottled
	KindServerBusy
	KindTimeout

	// KindUnauthorized is an Auth failure: bad or expired credential.
	KindUnauthorized

	// KindDeviceNotFound and KindDeviceDisabled are Identity failures.
	KindDeviceNotFound
	KindDeviceDisabled

	// KindArgumentInvalid is a caller error: bad input.
	KindArgumentInvalid

	// Lifecycle kinds.
	KindObjectDisposed
	KindNotOpen

	// KindCancelled reports a cancelled operation (user or session cancel).
	KindCancelled

	// KindFatal is propagated without classification and never retried.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindThrottled:
		return "Throttled"
	case KindServerBusy:
		return "ServerBusy"
	case KindTimeout:
		return "Timeout"
	case KindUnauthorized:
		return "Unauthorized"
	case KindDeviceNotFound:
		return "DeviceNotFound"
	case KindDeviceDisabled:
		return "DeviceDisabled"
	case KindArgumentInvalid:
		return "ArgumentInvalid"
	case KindObjectDisposed:
		return "ObjectDisposed"
	case KindNotOpen:
		return "NotOpen"
	case KindCancelled:
		return "Cancelled"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// Error is the user-facing error type. It carries a Kind, an optional
// HTTP-like status code, an optional inner error, and whether the Retry
// Engine had exhausted its attempts before surfacing this error.
type Error struct {
	Kind            Kind
	Status          int // optional HTTP-like status; 0 if not applicable
	Message         string
	Inner           error
	RetriesExhausted bool
}

func (e *Error) Error() string {
	if e.Message != "" {
		if e.Inner != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Inner)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Inner)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Inner }

// New builds an Error of the given Kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given Kind wrapping inner.
func Wrap(kind Kind, inner error, message string) *Error {
	return &Error{Kind: kind, Inner: inner, Message: message}
}

// NotOpen returns the §4.D NotOpen error, whose message differs depending
// on whether close was ever invoked on the session.
func NotOpen(closeEverCalled bool) *Error {
	if closeEverCalled {
		return New(KindNotOpen, "session was closed; construct a new client")
	}
	return New(KindNotOpen, "call open and try again")
}

// ObjectDisposed returns the standard disposed-object error.
func ObjectDisposed() *Error {
	return New(KindObjectDisposed, "object has been disposed")
}

// Cancelled returns the standard cancellation error.
func Cancelled() *Error {
	return New(KindCancelled, "operation was cancelled")
}

// Of extracts the faults.Error from err, if any is present in its chain.
func Of(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the Kind of err, or KindFatal if err does not carry a
// classified Kind (propagated without classification, per spec.md §7).
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if fe, ok := Of(err); ok {
		return fe.Kind
	}
	return KindFatal
}

// IsTransient reports whether err's Kind is retried by a RetryPolicy:
// Network, Throttled, ServerBusy, Timeout.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindThrottled, KindServerBusy, KindTimeout:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether err represents a cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
