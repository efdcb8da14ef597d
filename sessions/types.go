package sessions

import (
	"time"
)

// State is the lifecycle position of a Client.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the write side of a socket. Only the Client writes to it.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// EventHandler receives the lifecycle events of a transport. Client implements it.
type EventHandler interface {
	HandleOpen()
	HandleMessage(data []byte)
	HandleError(err error)
	HandleClose()
}

// Stopper cancels a pending timer callback.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it through
// SystemAfterFunc; tests substitute a manual clock.
type AfterFunc func(d time.Duration, f func()) Stopper

// SystemAfterFunc wraps time.AfterFunc.
func SystemAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// User-facing texts of synthesized assistant messages.
const (
	msgUnableToSend   = "Unable to send message. Please try again later."
	msgFailedToSend   = "Failed to send message. Please try again."
	msgConnectionLost = "Connection lost before the response finished. Please try again."
	msgTimedOut       = "The assistant did not respond in time. Please try again."
	msgPeerErrorDflt  = "Something went wrong."
)

const (
	// DefaultRequestTimeout bounds how long a request may stay loading without progress.
	DefaultRequestTimeout = 30 * time.Second
	persistTimeout        = 5 * time.Second
)
