package smtp

import (
	"errors"
	"fmt"
)

var (
	ErrDestroyed              = errors.New("session has been closed")
	ErrNotIdle                = errors.New("session is not idle")
	ErrNotDataMode            = errors.New("session is not in data mode")
	ErrAlreadyConnected       = errors.New("session is already connected")
	ErrNotConnected           = errors.New("session is not connected")
	ErrParserClosed           = errors.New("parser has already been closed")
	ErrNoRecipients           = errors.New("no recipients defined")
	ErrRecipientsRejected     = errors.New("all recipients were rejected")
	ErrConnectionClosed       = errors.New("connection closed unexpectedly")
	ErrTimeout                = errors.New("socket timed out")
	ErrUnknownAuthMechanism   = errors.New("unknown authentication mechanism")
	ErrMessageTooLarge        = errors.New("message exceeds the server size limit")
	ErrMessageRejected        = errors.New("message was rejected by the server")
	ErrInvalidLoginSequence   = errors.New("invalid login sequence")
	ErrInconsistentStatusCode = errors.New("inconsistent status code in multi-line response")
	ErrMalformedLine          = errors.New("invalid SMTP response line")
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	KindMalformedResponse ErrorKind = iota + 1
	KindProtocol
	KindRecipients
	KindAuth
	KindTransport
	KindUsage
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformedResponse:
		return "malformed-response"
	case KindProtocol:
		return "protocol"
	case KindRecipients:
		return "recipients"
	case KindAuth:
		return "auth"
	case KindTransport:
		return "transport"
	case KindUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// Error is returned by Session operations and passed to the error event.
// Response is set when a server reply caused the error.
type Error struct {
	Kind     ErrorKind
	Op       string
	Response *Response
	Err      error
}

func (e *Error) Error() string {
	msg := "smtp: " + e.Op
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Response != nil {
		msg += fmt.Sprintf(" (%d %s)", e.Response.StatusCode, e.Response.Data)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the server signalled a transient (4xx) failure.
func (e *Error) Temporary() bool {
	return e.Response != nil && e.Response.Temporary()
}

// IsTemporary reports whether err carries a transient (4xx) server reply,
// so the same message may succeed later.
func IsTemporary(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Temporary()
}

func usageError(op string, err error) *Error {
	return &Error{Kind: KindUsage, Op: op, Err: err}
}

func replyError(kind ErrorKind, op string, r Response, err error) *Error {
	return &Error{Kind: kind, Op: op, Response: &r, Err: err}
}

// KindOf returns the ErrorKind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
