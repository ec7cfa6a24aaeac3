package search

import (
	"errors"
	"fmt"
)

// ErrNoNextResult signals that the previous page carried no continuation
// cursor. It is the normal end of a run, not a failure.
var ErrNoNextResult = errors.New("no next result")

// Kind classifies a failure for the pagination driver and for callers.
type Kind string

const (
	// KindTransport covers connection failures, timeouts and 5xx responses.
	KindTransport Kind = "transport"

	// KindAuth covers rejected or malformed credential exchanges and 401/403 responses.
	KindAuth Kind = "auth"

	// KindDecode covers responses missing or mistyping a required field.
	KindDecode Kind = "decode"

	// KindStore covers rejected writes in the persistence layer.
	KindStore Kind = "store"

	// KindRateLimit covers requests refused because the endpoint window is exhausted.
	KindRateLimit Kind = "rate_limit"

	// KindProtocol covers upstream behaviour that would loop forever, such as a
	// cursor that was already followed in this run.
	KindProtocol Kind = "protocol"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. It returns nil when err is nil and leaves
// ErrNoNextResult untouched so it keeps comparing equal.
func Wrap(kind Kind, op string, err error) error {
	if err == nil || errors.Is(err, ErrNoNextResult) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or the empty Kind when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
