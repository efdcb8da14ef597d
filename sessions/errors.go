package sessions

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by intents issued while the session is not active.
	ErrNotConnected = errors.New("websocket is not connected")
	// ErrEmptyPrompt is returned when a message has no visible text.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrEmptyTitle is returned when a rename has no visible text.
	ErrEmptyTitle = errors.New("title is empty")
)

// TransportError reports a failure to use the socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError carries an error envelope sent by the peer.
type ProtocolError struct {
	Status  string
	Message string
	Code    int
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("peer error %d: %s", e.Code, e.Message)
	}
	return "peer error: " + e.Message
}

// MalformedEnvelopeError describes an inbound frame that could not be decoded.
type MalformedEnvelopeError struct {
	Frame []byte
	Err   error
}

func (e *MalformedEnvelopeError) Error() string {
	return fmt.Sprintf("malformed envelope (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *MalformedEnvelopeError) Unwrap() error { return e.Err }

// StaleTimeoutError is recorded when a request got no terminal event in time.
type StaleTimeoutError struct {
	Seq     uint64
	Timeout string
}

func (e *StaleTimeoutError) Error() string {
	return fmt.Sprintf("request %d got no response within %s", e.Seq, e.Timeout)
}
