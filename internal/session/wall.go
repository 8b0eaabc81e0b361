package session

import (
	"errors"
)

// Wall is the capability handed to the UI for one session. Once the session
// ends the Wall is stale: Send and Listen do nothing and Disconnect is a no-op.
// A new session always gets a new Wall, so a stale Wall can never reach a
// different peer.
type Wall struct {
	s *Session
}

// Listen registers fn for payloads from the target.
func (w *Wall) Listen(fn Listener) {
	w.s.Listen(fn)
}

// Send writes data to the target as JSON. On a stale Wall it does nothing and
// returns nil; an error is returned only for values that cannot be encoded or
// a write failure on a live session.
func (w *Wall) Send(data any) error {
	err := w.s.Send(data)
	if errors.Is(err, ErrSessionEnded) {
		w.s.logger.Debug().Msg("Dropping send on stale wall")
		return nil
	}
	return err
}

// Disconnect ends the session and closes its endpoint. It is idempotent.
func (w *Wall) Disconnect() {
	w.s.End(Ending{Reason: ReasonDisconnected})
}

// SessionID returns the ID of the session behind this Wall.
func (w *Wall) SessionID() string {
	return w.s.ID()
}

// Stale reports whether the session behind this Wall has ended.
func (w *Wall) Stale() bool {
	return !w.s.Active()
}
