// SPDX-License-Identifier: AGPL-3.0-only

// Package apperr carries the user-visible error kinds from spec.md §7
// across component boundaries without importing the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the stable, user-visible error categories.
type Kind string

const (
	InvalidURLFormat     Kind = "InvalidUrlFormat"
	InvalidSource        Kind = "InvalidSource"
	InvalidOption        Kind = "InvalidOption"
	UnknownPreset        Kind = "UnknownPreset"
	PresetsOnlyViolation Kind = "PresetsOnlyViolation"
	SignatureMismatch    Kind = "SignatureMismatch"
	Unauthorized         Kind = "Unauthorized"
	Forbidden            Kind = "Forbidden"
	SourceTooLarge       Kind = "SourceTooLarge"
	UnsupportedMime      Kind = "UnsupportedMime"
	FetchError           Kind = "FetchError"
	DownloadTimeout      Kind = "DownloadTimeout"
	ProcessTimeout       Kind = "ProcessTimeout"
	RateLimited          Kind = "RateLimited"
	Internal             Kind = "Internal"
)

var statusOf = map[Kind]int{
	InvalidURLFormat:     http.StatusBadRequest,
	InvalidSource:        http.StatusBadRequest,
	InvalidOption:        http.StatusBadRequest,
	UnknownPreset:        http.StatusBadRequest,
	PresetsOnlyViolation: http.StatusBadRequest,
	SignatureMismatch:    http.StatusForbidden,
	Unauthorized:         http.StatusUnauthorized,
	Forbidden:            http.StatusForbidden,
	SourceTooLarge:       http.StatusBadRequest,
	UnsupportedMime:      http.StatusBadRequest,
	FetchError:           http.StatusBadRequest,
	DownloadTimeout:      http.StatusBadRequest,
	ProcessTimeout:       http.StatusGatewayTimeout,
	RateLimited:          http.StatusTooManyRequests,
	Internal:             http.StatusInternalServerError,
}

// Error is the typed error carried out of C1-C7 and translated to a
// response by the handlers in package main.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// Status returns the HTTP status code for the error kind.
func (e *Error) Status() int {
	if code, ok := statusOf[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// New builds a typed error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds a typed error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidOptionf builds an InvalidOption error naming the offending directive,
// matching spec.md §4.2's "InvalidOption(<name>)" convention.
func InvalidOptionf(name, reason string) *Error {
	return Newf(InvalidOption, "invalid option %q: %s", name, reason)
}

// As reports whether err (or one it wraps) is an *Error, imitating errors.As
// without requiring callers to import "errors" for this common case.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
