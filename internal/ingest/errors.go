package ingest

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

// Error kinds surfaced by fetchers, scrapers and the financial fetcher.
const (
	KindNetwork         ErrorKind = "network"
	KindParse           ErrorKind = "parse"
	KindPolicyDenied    ErrorKind = "policy_denied"
	KindNotFound        ErrorKind = "not_found"
	KindDataUnavailable ErrorKind = "data_unavailable"
)

// Sentinel errors matched with errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrNetwork         = errors.New("network error")
	ErrParse           = errors.New("parse error")
	ErrPolicyDenied    = errors.New("disallowed by robots.txt")
	ErrNotFound        = errors.New("not found")
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrDuplicate is returned by stores when an article fingerprint already exists.
	ErrDuplicate = errors.New("duplicate article")
)

// Error carries a kind, the failing operation and the URL involved.
type Error struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
}

// NewError wraps err with kind and context.
func NewError(kind ErrorKind, op, url string, err error) *Error {
	return &Error{Kind: kind, Op: op, URL: url, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.URL != "" {
		msg += " (" + e.URL + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return sentinelFor(e.Kind) == target
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindNetwork:
		return ErrNetwork
	case KindParse:
		return ErrParse
	case KindPolicyDenied:
		return ErrPolicyDenied
	case KindNotFound:
		return ErrNotFound
	case KindDataUnavailable:
		return ErrDataUnavailable
	default:
		return nil
	}
}

// KindOf returns the kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// PolicyDenied builds the error returned when robots.txt forbids url.
func PolicyDenied(url string) error {
	return NewError(KindPolicyDenied, "robots", url, nil)
}

// DataUnavailable builds the error returned when no financial data can be served.
func DataUnavailable(op string, format string, args ...any) error {
	return NewError(KindDataUnavailable, op, "", fmt.Errorf(format, args...))
}
