package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of failure classes the load engine reacts to.
type ErrorKind int

const (
	// KindFatal errors end the fetch: crashed session, protocol faults.
	KindFatal ErrorKind = iota
	// KindTimeout errors mean a time budget ran out.
	KindTimeout
	// KindTransient errors are network, TLS or handshake blips worth retrying.
	KindTransient
)

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Error is a classified driver error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes the driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of err. Unclassified errors are fatal.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return Classify(err)
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool { return err != nil && KindOf(err) == KindTimeout }

// IsTransient reports whether err is retryable in place.
func IsTransient(err error) bool { return err != nil && KindOf(err) == KindTransient }

// Wrap classifies a raw driver error. Nil stays nil and already classified
// errors are returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

var timeoutMarkers = []string{
	"net::err_timed_out",
	"net::err_connection_timed_out",
	"timeout",
	"timed out",
}

var transientMarkers = []string{
	"net::err_ssl",
	"net::err_cert",
	"net::err_connection_reset",
	"net::err_connection_closed",
	"net::err_connection_refused",
	"net::err_connection_aborted",
	"net::err_name_not_resolved",
	"net::err_network_changed",
	"net::err_internet_disconnected",
	"net::err_empty_response",
	"net::err_http2",
	"net::err_quic",
	"handshake",
	"execution context was destroyed",
	"cannot find context with specified id",
	"inspected target navigated or closed",
}

// networkPrefix marks every Chrome network error. Those not listed as
// transient still leave the session usable, so they end the current strategy
// like a timeout instead of aborting the load.
const networkPrefix = "net::err_"

// Classify maps a raw driver error to a kind. Drivers only surface strings for
// network failures, so the markers are matched once here and nowhere else.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return KindTransient
		}
	}
	for _, marker := range timeoutMarkers {
		if strings.Contains(msg, marker) {
			return KindTimeout
		}
	}
	if strings.Contains(msg, networkPrefix) {
		return KindTimeout
	}
	return KindFatal
}
