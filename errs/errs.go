// Package errs classifies failures so the reactor can decide whether a peer
// gets a reply, a rejection, or a disconnect.
package errs

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	// KindTransport is a socket read/write failure or an undecodable frame.
	KindTransport
	// KindProtocol is a well-framed message the router cannot accept.
	KindProtocol
	// KindAuth is a failed handshake; the peer has been told and must be closed.
	KindAuth
	// KindPersistence is a store failure while handling a message.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Transport(message string, cause error) error {
	return Wrap(KindTransport, message, cause)
}

func Protocol(message string) error {
	return New(KindProtocol, message)
}

func Auth(message string) error {
	return New(KindAuth, message)
}

func Persistence(message string, cause error) error {
	return Wrap(KindPersistence, message, cause)
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
