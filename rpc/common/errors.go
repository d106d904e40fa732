package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Taxonomy
// --------------------------------------------------------------------------

// ErrorKind classifies a ProtocolError so callers can branch on it
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindMalformedEnvelope // unsupported version or oversized declared length, closes the connection
	KindProtocolViolation // one reassembly or message is discarded, the connection stays open
	KindDuplicateRequestID
	KindConnectionClosed
	KindTimeout
)

// String returns the string representation of an ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindMalformedEnvelope:
		return "malformed envelope"
	case KindProtocolViolation:
		return "protocol violation"
	case KindDuplicateRequestID:
		return "duplicate request id"
	case KindConnectionClosed:
		return "connection closed"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ProtocolError is the error value produced by the transport core.
// Two ProtocolErrors match under errors.Is when their kinds are equal, so the
// exported sentinels below can be used to test a returned error.
type ProtocolError struct {
	Kind   ErrorKind
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := e.Kind.String()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func (e *ProtocolError) Is(target error) bool {
	var t *ProtocolError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Fatal reports whether the error requires the connection to be closed
func (e *ProtocolError) Fatal() bool {
	return e.Kind == KindMalformedEnvelope || e.Kind == KindConnectionClosed
}

var (
	ErrMalformedEnvelope  = &ProtocolError{Kind: KindMalformedEnvelope}
	ErrProtocolViolation  = &ProtocolError{Kind: KindProtocolViolation}
	ErrDuplicateRequestID = &ProtocolError{Kind: KindDuplicateRequestID}
	ErrConnectionClosed   = &ProtocolError{Kind: KindConnectionClosed}
	ErrTimeout            = &ProtocolError{Kind: KindTimeout}
)

// NewProtocolError creates a ProtocolError of the given kind with a formatted reason
func NewProtocolError(kind ErrorKind, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// WrapProtocolError creates a ProtocolError of the given kind wrapping cause
func WrapProtocolError(kind ErrorKind, cause error, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Kind: kind, Reason: fmt.Sprintf(format, args...), Err: cause}
}

// IsConnectionFatal reports whether err (or anything it wraps) is a ProtocolError
// that must tear down the connection it was raised on.
func IsConnectionFatal(err error) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Fatal()
	}
	return false
}
