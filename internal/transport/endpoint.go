// Package transport provides the message endpoints that carry bridge frames
// between the inspector host and a debug target.
//
// An Endpoint is a bidirectional channel of opaque text frames. Every endpoint
// reports its lifecycle through a single event stream: one EventOpen, any number
// of EventMessage, and exactly one terminal EventClose or EventError, after which
// the stream is closed. Consumers must drain Events until it is closed.
//
// Two concrete roles are built on gorilla/websocket: Dial initiates a connection
// to a known URL, and Listen accepts incoming peers on a bound port. Pipe returns
// an in-memory pair with the same semantics.
package transport

import (
	"errors"
)

// ErrEndpointClosed is returned by Send once an endpoint has been closed.
var ErrEndpointClosed = errors.New("endpoint closed")

// eventBufferSize bounds how many events an endpoint buffers before its read
// loop blocks on the consumer.
const eventBufferSize = 64

// EventKind identifies a transport event.
type EventKind int

const (
	// EventOpen is emitted once when the endpoint becomes usable.
	EventOpen EventKind = iota

	// EventMessage carries one received text frame.
	EventMessage

	// EventClose is the terminal event for an orderly close (local or remote).
	EventClose

	// EventError is the terminal event for a transport fault.
	EventError
)

// String returns a string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow this kind.
func (k EventKind) Terminal() bool {
	return k == EventClose || k == EventError
}

// Event is a single transport event.
type Event struct {
	Kind EventKind

	// Data is the frame text for EventMessage.
	Data string

	// Err is the cause for EventError.
	Err error
}

// Endpoint is a bidirectional channel of opaque text frames.
type Endpoint interface {
	// ID returns a unique identifier for this endpoint, used in logs.
	ID() string

	// Send writes one text frame. Frames from a single caller are written in call order.
	// Returns ErrEndpointClosed after Close.
	Send(frame string) error

	// Events returns the endpoint's event stream. The channel is closed after the
	// terminal event has been delivered.
	Events() <-chan Event

	// Close closes the endpoint. It is idempotent: closing an already-closed
	// endpoint is a no-op and returns nil.
	Close() error
}

// Discard closes ep and drains its remaining events in the background so its
// read loop can exit.
func Discard(ep Endpoint) {
	_ = ep.Close()
	go func() {
		for range ep.Events() {
		}
	}()
}
