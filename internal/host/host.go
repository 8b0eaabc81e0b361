// Package host drives debug sessions over time. A DialHost connects out to a
// target's packager; a ServeHost listens for a target and admits at most one
// peer at a time. Either host runs at most one active session and reports its
// state to a Handler.
package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coral-mesh/devbridge/internal/session"
	"github.com/coral-mesh/devbridge/internal/transport"
)

const (
	// MessageWaiting is the neutral state shown while no session is active.
	MessageWaiting = "Waiting for a connection from React Native"

	// MessageAddressInUse is reported when the serve port is already taken.
	MessageAddressInUse = "Another instance of DevTools is running"
)

// Handler is the UI collaborator. Callbacks are delivered one at a time, in
// the order of the host's state changes, and never while a host lock is held,
// so a Handler may call back into the host or the Wall.
type Handler interface {
	// OnConnected is called when a session becomes active.
	OnConnected(wall *session.Wall)

	// OnDisconnected is called whenever no session is active: on start, after a
	// session ends, after a bind error and on Close. Consecutive calls without an
	// intervening OnConnected or OnError are collapsed.
	OnDisconnected()

	// OnError is called with a human-readable message when the serve port
	// cannot be bound.
	OnError(message string)
}

// ErrorMessage renders a listen failure for the Handler. Address-in-use gets a
// dedicated message; everything else is reported with its cause.
func ErrorMessage(err error) string {
	if transport.IsAddressInUse(err) {
		return MessageAddressInUse
	}

	detail := err
	var bindErr *transport.BindError
	if errors.As(err, &bindErr) && bindErr.Err != nil {
		detail = bindErr.Err
	}
	return fmt.Sprintf("Unknown error (%s)", detail.Error())
}

type uiState int

const (
	uiUnknown uiState = iota
	uiWaiting
	uiConnected
	uiError
)

// notifier serializes Handler callbacks. Hosts take a ticket while holding
// their own lock at each state transition and post the transition with it
// afterwards. A transition posted after a newer one was applied is dropped, so
// the Handler always ends up reflecting the host's latest state. Callbacks run
// one at a time in posting order, outside every lock; a callback that posts
// again has its callbacks queued behind its own.
type notifier struct {
	handler Handler

	mu       sync.Mutex
	state    uiState
	issued   uint64
	applied  uint64
	queue    []func()
	draining bool
}

// ticket orders a transition. Call it with the host lock held.
func (n *notifier) ticket() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.issued++
	return n.issued
}

// acceptLocked reports whether the transition at t is still current and, if
// so, records it as the newest applied.
func (n *notifier) acceptLocked(t uint64) bool {
	if t < n.applied {
		return false
	}
	n.applied = t
	return true
}

// flushLocked runs queued callbacks unless another goroutine already is. It
// releases n.mu.
func (n *notifier) flushLocked() {
	if n.draining {
		n.mu.Unlock()
		return
	}
	n.draining = true
	for len(n.queue) > 0 {
		fn := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()
		fn()
		n.mu.Lock()
	}
	n.draining = false
	n.mu.Unlock()
}

func (n *notifier) connected(t uint64, wall *session.Wall) {
	n.mu.Lock()
	if !n.acceptLocked(t) {
		n.mu.Unlock()
		return
	}
	n.state = uiConnected
	n.queue = append(n.queue, func() { n.handler.OnConnected(wall) })
	n.flushLocked()
}

// disconnected reports the waiting state unless the UI already shows it. It
// also replaces an error message.
func (n *notifier) disconnected(t uint64) {
	n.mu.Lock()
	if !n.acceptLocked(t) || n.state == uiWaiting {
		n.mu.Unlock()
		return
	}
	n.state = uiWaiting
	n.queue = append(n.queue, n.handler.OnDisconnected)
	n.flushLocked()
}

// errored reports a bind error. The UI is moved to the waiting state first
// unless it already shows an error.
func (n *notifier) errored(t uint64, message string) {
	n.mu.Lock()
	if !n.acceptLocked(t) {
		n.mu.Unlock()
		return
	}
	if n.state != uiWaiting && n.state != uiError {
		n.queue = append(n.queue, n.handler.OnDisconnected)
	}
	n.state = uiError
	n.queue = append(n.queue, func() { n.handler.OnError(message) })
	n.flushLocked()
}

// closed reports the waiting state unconditionally.
func (n *notifier) closed(t uint64) {
	n.mu.Lock()
	if !n.acceptLocked(t) {
		n.mu.Unlock()
		return
	}
	n.state = uiWaiting
	n.queue = append(n.queue, n.handler.OnDisconnected)
	n.flushLocked()
}

// NopHandler ignores every callback.
type NopHandler struct{}

func (NopHandler) OnConnected(*session.Wall) {}
func (NopHandler) OnDisconnected()           {}
func (NopHandler) OnError(string)            {}
