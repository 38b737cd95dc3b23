package model

import (
	"errors"
	"fmt"
)

// ErrorKind tags an engine failure.
type ErrorKind string

const (
	KindFileNotFound      ErrorKind = "FileNotFound"
	KindParse             ErrorKind = "ParseError"
	KindInvalidTimestamp  ErrorKind = "InvalidTimestamp"
	KindInvalidInterval   ErrorKind = "InvalidInterval"
	KindCacheIO           ErrorKind = "CacheIoError"
	KindCacheInconsistent ErrorKind = "CacheInconsistent"
)

// Error is the tagged error returned across the engine.
// Detail keeps the raw diagnostic text (offending input, driver message).
// Line is set for parse failures only (1-based).
type Error struct {
	Kind   ErrorKind
	Detail string
	Line   int
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrFileNotFound      = &Error{Kind: KindFileNotFound}
	ErrParse             = &Error{Kind: KindParse}
	ErrInvalidTimestamp  = &Error{Kind: KindInvalidTimestamp}
	ErrInvalidInterval   = &Error{Kind: KindInvalidInterval}
	ErrCacheIO           = &Error{Kind: KindCacheIO}
	ErrCacheInconsistent = &Error{Kind: KindCacheInconsistent}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindFileNotFound:
		return "file not found: " + e.Detail
	case KindParse:
		return fmt.Sprintf("%s at line %d", e.Detail, e.Line)
	case KindInvalidTimestamp:
		return fmt.Sprintf("invalid timestamp %q", e.Detail)
	case KindInvalidInterval:
		return fmt.Sprintf("invalid interval %q", e.Detail)
	case KindCacheIO:
		if e.Err != nil {
			return "cache io: " + e.Detail + ": " + e.Err.Error()
		}
		return "cache io: " + e.Detail
	case KindCacheInconsistent:
		return "cache inconsistent: " + e.Detail
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel (or error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Detail == "" || t.Detail == e.Detail)
}

// NewFileNotFound reports a missing input path.
func NewFileNotFound(path string) error {
	return &Error{Kind: KindFileNotFound, Detail: path}
}

// NewParseError attaches a 1-based line number to reason. The cause, if any,
// stays reachable through errors.Is / errors.As.
func NewParseError(line int, reason string, cause error) error {
	return &Error{Kind: KindParse, Detail: reason, Line: line, Err: cause}
}

// NewInvalidTimestamp carries the rejected text.
func NewInvalidTimestamp(raw string) error {
	return &Error{Kind: KindInvalidTimestamp, Detail: raw}
}

// NewInvalidInterval carries the rejected interval name.
func NewInvalidInterval(name string) error {
	return &Error{Kind: KindInvalidInterval, Detail: name}
}

// NewCacheIO wraps a storage failure.
func NewCacheIO(op string, err error) error {
	return &Error{Kind: KindCacheIO, Detail: op, Err: err}
}

// NewCacheInconsistent reports a count/meta mismatch. Callers treat it as a miss.
func NewCacheInconsistent(detail string) error {
	return &Error{Kind: KindCacheInconsistent, Detail: detail}
}

// KindOf extracts the kind of a tagged error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
