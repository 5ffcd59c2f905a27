package dispatch

import (
	"errors"

	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/shared"
)

// Kind classifies a dispatch failure.
type Kind int

const (
	// KindTransport means the request never produced a response: connection refused, timeout, bad URL.
	KindTransport Kind = iota
	// KindBridge means the native bridge reported a failure.
	KindBridge
	// KindProtocol means the backend answered but rejected the request.
	KindProtocol
	// KindUnauthorized means the session is missing or expired.
	KindUnauthorized
	// KindUnsupported means the command has no meaning on the active transport.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindBridge:
		return "bridge"
	case KindProtocol:
		return "protocol"
	case KindUnauthorized:
		return "unauthorized"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransport:
		return shared.ErrTransport
	case KindBridge:
		return shared.ErrBridge
	case KindProtocol:
		return shared.ErrProtocol
	case KindUnauthorized:
		return shared.ErrUnauthorized
	case KindUnsupported:
		return shared.ErrUnsupported
	default:
		return nil
	}
}

// Error is the normalized failure of a dispatched command.
//
// Error returns Message unchanged so it can be shown to the user and classified by content.
type Error struct {
	Kind    Kind
	Command commands.Name
	// Status is the HTTP status code for network failures that produced a response.
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String() + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the shared sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind Kind, name commands.Name, msg string, err error) *Error {
	return &Error{Kind: kind, Command: name, Message: msg, Err: err}
}

// KindOf returns the kind of a dispatch error and whether err is one.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// IsUnauthorized reports whether err means the session must be re-established.
func IsUnauthorized(err error) bool {
	return errors.Is(err, shared.ErrUnauthorized)
}
